// Package command holds the declarative command grammar and the request
// tokenizer. The grammar is pure metadata; the dispatcher consumes it for
// routing, arity validation and help text, so all three share one source
// of truth.
package command

import (
	"fmt"
	"strings"
)

// Command is one node of the grammar tree. A node either carries Sub
// (a command group) or Args (a leaf bound to an operation); never both.
type Command struct {
	Name        string
	Description string
	// Args names the required arguments of a leaf, in order.
	Args []string
	// Sub lists the sub-commands of a group.
	Sub []Command
}

// Tree is the full command grammar of the server.
var Tree = []Command{
	{
		Name:        "user",
		Description: "Commands connected to users",
		Sub: []Command{
			{Name: "create", Description: "Create a new user", Args: []string{"username"}},
			{Name: "edit", Description: "Edit an existing user", Args: []string{"username"}},
			{Name: "login", Description: "Log in as an existing user", Args: []string{"username"}},
			{Name: "logout", Description: "Log out and end the session"},
			{Name: "make-admin", Description: "Make an existing user an admin of an entry", Args: []string{"username", "entryid"}},
		},
	},
	{
		Name:        "entry",
		Description: "Commands connected to entries",
		Sub: []Command{
			{Name: "create", Description: "Create a new entry"},
			{Name: "edit", Description: "Edit an existing entry", Args: []string{"entryid"}},
			{Name: "delete", Description: "Delete an existing entry", Args: []string{"entryid"}},
			{Name: "kick-user", Description: "Kick an invited user from an entry", Args: []string{"username", "entryid"}},
			{Name: "kick-group", Description: "Kick invited users in a group from an entry", Args: []string{"groupname", "entryid"}},
			{Name: "invite-user", Description: "Invite a user to an entry", Args: []string{"username", "entryid"}},
			{Name: "invite-group", Description: "Invite a group to an entry", Args: []string{"groupname", "entryid"}},
		},
	},
	{
		Name:        "group",
		Description: "Commands connected to groups",
		Sub: []Command{
			{Name: "create", Description: "Create a new group", Args: []string{"groupname"}},
			{Name: "add", Description: "Add an existing user to a group", Args: []string{"username", "groupname"}},
			{Name: "remove", Description: "Remove an existing user from a group", Args: []string{"username", "groupname"}},
		},
	},
	{
		Name:        "calendar",
		Description: "Commands connected to your calendar",
		Sub: []Command{
			{Name: "show", Description: "Show your calendar"},
			{Name: "export", Description: "Export your calendar as iCalendar data"},
		},
	},
	{
		Name:        "notification",
		Description: "Commands connected to notifications",
		Sub: []Command{
			{Name: "answer", Description: "Answer an invitation", Args: []string{"entryid"}},
			{Name: "show", Description: "Show all your active notifications"},
		},
	},
	{
		Name:        "help",
		Description: "Show a list of all the commands",
	},
}

// Find returns the top-level command with the given name, or nil.
func Find(name string) *Command {
	for i := range Tree {
		if Tree[i].Name == name {
			return &Tree[i]
		}
	}
	return nil
}

// Leaf returns the named sub-command, or nil.
func (c *Command) Leaf(name string) *Command {
	for i := range c.Sub {
		if c.Sub[i].Name == name {
			return &c.Sub[i]
		}
	}
	return nil
}

// ArgumentCount returns the number of declared arguments of a leaf.
func (c *Command) ArgumentCount() int {
	return len(c.Args)
}

// Help renders the help text for a node. For a group it lists the
// sub-commands; for a leaf it renders the syntax line, or "No arguments"
// when the leaf takes none. The leaf form takes the enclosing group so the
// syntax line shows the full command.
func (c *Command) Help(parent *Command) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Help for command %s:\n%s\n\n", c.Name, c.Description)

	switch {
	case len(c.Sub) > 0:
		b.WriteString("This command has the following sub-commands:\n")
		for _, sub := range c.Sub {
			fmt.Fprintf(&b, "\t%s\n", sub.Name)
		}
	case len(c.Args) > 0:
		b.WriteString("Syntax:\n\t")
		if parent != nil {
			b.WriteString(parent.Name)
			b.WriteString(" ")
		}
		b.WriteString(c.Name)
		for _, arg := range c.Args {
			b.WriteString(" ")
			b.WriteString(arg)
		}
	default:
		b.WriteString("No arguments\n")
	}

	return b.String()
}

// Overview lists every command group with its description, used by "help".
func Overview() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range Tree {
		fmt.Fprintf(&b, "\t%s\t%s\n", c.Name, c.Description)
	}
	return b.String()
}
