package server

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/groupcal/calendar"
	"github.com/cyp0633/groupcal/command"
	"github.com/cyp0633/groupcal/engine"
	"github.com/cyp0633/groupcal/storage"
)

const timeLayout = "2006-01-02 15:04"

// escaper folds help text and listings onto the single response line the
// protocol allows; clients unfold the literal \n and \t.
var escaper = strings.NewReplacer("\r", "", "\n", `\n`, "\t", `\t`)

// Conn is one client connection running the dispatcher loop.
type Conn struct {
	srv    *Server
	rwc    net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	logger *slog.Logger

	mu      sync.Mutex
	session *engine.Session

	closeOnce sync.Once
}

func newConn(s *Server, rwc net.Conn) *Conn {
	return &Conn{
		srv:    s,
		rwc:    rwc,
		r:      bufio.NewReader(rwc),
		w:      bufio.NewWriter(rwc),
		logger: s.logger.With("remote_addr", rwc.RemoteAddr().String()),
	}
}

// Username returns the authenticated username, or "" before login.
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Username
}

func (c *Conn) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Token
}

func (c *Conn) setSession(s *engine.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// Close terminates the connection; the dispatcher loop exits on its next read.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.rwc.Close()
	})
}

// serve runs the dispatcher loop until the client disconnects, times out, or
// the connection is closed from the registry. Exactly one response line is
// written per completed command.
func (c *Conn) serve() {
	defer func() {
		if token := c.token(); token != "" {
			c.srv.engine.LogOut(token)
		}
		c.srv.registry.Remove(c)
		c.Close()

		if username := c.Username(); username != "" {
			c.logger.Info("disconnecting", "username", username)
		} else {
			c.logger.Info("disconnecting unidentified client")
		}
	}()

	for {
		line, err := c.readLine()
		if err != nil {
			if isTimeout(err) {
				c.logger.Info("connection timed out")
			}
			return
		}

		response, err := c.handleRequest(line)
		if err != nil {
			return
		}
		if err := c.writeLine(response); err != nil {
			return
		}
	}
}

// readLine blocks for one request line, bounded by the idle timeout.
func (c *Conn) readLine() (string, error) {
	if err := c.rwc.SetReadDeadline(time.Now().Add(c.srv.cfg.IdleTimeout)); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeLine writes one response line, escaped and flushed immediately. The
// write is bounded by the idle timeout so a client that stops reading cannot
// pin the connection (and its username) forever.
func (c *Conn) writeLine(message string) error {
	if err := c.rwc.SetWriteDeadline(time.Now().Add(c.srv.cfg.IdleTimeout)); err != nil {
		return err
	}
	if _, err := c.w.WriteString(escaper.Replace(message) + "\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// handleRequest tokenizes a raw line, walks the grammar and runs the matched
// operation. The returned error is connection-fatal (I/O only); every business
// failure comes back as the response string.
func (c *Conn) handleRequest(line string) (string, error) {
	tokens := command.Tokenize(line)
	if len(tokens) == 0 {
		return "Invalid request!", nil
	}

	top := command.Find(tokens[0])
	if top == nil {
		return "Command not recognized!", nil
	}
	rest := tokens[1:]

	if len(top.Sub) == 0 {
		// Only "help" is a bare top-level command.
		return command.Overview(), nil
	}

	if len(rest) == 0 {
		return top.Help(nil), nil
	}
	leaf := top.Leaf(rest[0])
	if leaf == nil {
		return top.Help(nil), nil
	}
	args := rest[1:]

	// Wrong arity never reaches the operation.
	if len(args) != leaf.ArgumentCount() {
		return leaf.Help(top), nil
	}

	op, ok := operations[top.Name+" "+leaf.Name]
	if !ok {
		return top.Help(nil), nil
	}
	return op(c, args)
}

// operations binds grammar leaves to their handlers. Every leaf in
// command.Tree has an entry here; grammar_test keeps the two in sync.
var operations = map[string]func(*Conn, []string) (string, error){
	"user create":         (*Conn).userCreate,
	"user edit":           (*Conn).userEdit,
	"user login":          (*Conn).userLogin,
	"user logout":         (*Conn).userLogout,
	"user make-admin":     (*Conn).userMakeAdmin,
	"entry create":        (*Conn).entryCreate,
	"entry edit":          (*Conn).entryEdit,
	"entry delete":        (*Conn).entryDelete,
	"entry kick-user":     (*Conn).entryKickUser,
	"entry kick-group":    (*Conn).entryKickGroup,
	"entry invite-user":   (*Conn).entryInviteUser,
	"entry invite-group":  (*Conn).entryInviteGroup,
	"group create":        (*Conn).groupCreate,
	"group add":           (*Conn).groupAdd,
	"group remove":        (*Conn).groupRemove,
	"calendar show":       (*Conn).calendarShow,
	"calendar export":     (*Conn).calendarExport,
	"notification answer": (*Conn).notificationAnswer,
	"notification show":   (*Conn).notificationShow,
}

/* ===============
 * Interactive sub-protocol
 *================*/

// ask repeats the question until the client answers with exactly n tokens.
func (c *Conn) ask(question string, n int) ([]string, error) {
	for {
		if err := c.writeLine(question); err != nil {
			return nil, err
		}
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		tokens := command.Tokenize(line)
		if len(tokens) == n {
			return tokens, nil
		}
		if err := c.writeLine(fmt.Sprintf("Please provide %d argument(s)!", n)); err != nil {
			return nil, err
		}
	}
}

// askYesOrNo loops until the client answers yes, y, no or n.
func (c *Conn) askYesOrNo(question string) (bool, error) {
	for {
		response, err := c.ask(question+" (answer with yes[y] or no[n])", 1)
		if err != nil {
			return false, err
		}
		switch response[0] {
		case "yes", "y":
			return true, nil
		case "no", "n":
			return false, nil
		}
		if err := c.writeLine("Invalid response!"); err != nil {
			return false, err
		}
	}
}

// askInt coerces an argument to an integer, re-asking on parse failure.
func (c *Conn) askInt(argument string) (int, error) {
	for {
		n, err := strconv.Atoi(argument)
		if err == nil {
			return n, nil
		}
		response, err := c.ask(fmt.Sprintf("Argument %q is not an integer, try again:", argument), 1)
		if err != nil {
			return 0, err
		}
		argument = response[0]
	}
}

// askTime prompts for a timestamp, re-asking until it parses.
func (c *Conn) askTime(question string) (time.Time, error) {
	for {
		response, err := c.ask(question+" ("+timeLayout+", quote it)", 1)
		if err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(timeLayout, response[0])
		if err == nil {
			return t, nil
		}
		if err := c.writeLine("Invalid time!"); err != nil {
			return time.Time{}, err
		}
	}
}

// respond maps an operation result onto the fixed per-command messages.
// Everything except an expired session collapses to the one failure string,
// so internals never leak to the client.
func (c *Conn) respond(err error, success, failure string) (string, error) {
	if err == nil {
		return success, nil
	}
	var engineErr *engine.Error
	if errors.As(err, &engineErr) && engineErr.Kind == engine.KindSessionExpired {
		c.setSession(nil)
		return "Session expired, please log in!", nil
	}
	return failure, nil
}

/* ===============
 * User operations
 *================*/

func (c *Conn) userCreate(args []string) (string, error) {
	password, err := c.ask("Choose a password:", 1)
	if err != nil {
		return "", err
	}
	createErr := c.srv.engine.CreateUser(storage.User{Username: args[0], Password: password[0]})
	return c.respond(createErr, "User successfully created!", "User couldn't be created!")
}

func (c *Conn) userEdit(args []string) (string, error) {
	password, err := c.ask("Choose a new password:", 1)
	if err != nil {
		return "", err
	}
	editErr := c.srv.engine.EditUser(c.token(), storage.User{Username: args[0], Password: password[0]})
	return c.respond(editErr, "User successfully edited!", "User couldn't be edited!")
}

// userLogin keeps the error detail the collapsed commands hide: the login
// flow is the one place the client needs to know what went wrong.
func (c *Conn) userLogin(args []string) (string, error) {
	if c.token() != "" {
		return "Already logged in!", nil
	}
	password, err := c.ask("Password:", 1)
	if err != nil {
		return "", err
	}

	session, loginErr := c.srv.engine.LogIn(args[0], password[0])
	if loginErr == nil {
		c.setSession(session)
		return fmt.Sprintf("Welcome, %s!", session.Username), nil
	}

	var engineErr *engine.Error
	switch {
	case errors.Is(loginErr, storage.ErrUserNotFound):
		return "User does not exist!", nil
	case errors.As(loginErr, &engineErr) && engineErr.Kind == engine.KindWrongCredentials:
		return "Wrong password!", nil
	case errors.As(loginErr, &engineErr) && engineErr.Kind == engine.KindNotAuthorized:
		return "Already logged in elsewhere!", nil
	default:
		return "Login failed!", nil
	}
}

func (c *Conn) userLogout([]string) (string, error) {
	token := c.token()
	if token == "" {
		return "Not logged in!", nil
	}
	c.srv.engine.LogOut(token)
	c.setSession(nil)
	return "Logged out!", nil
}

func (c *Conn) userMakeAdmin(args []string) (string, error) {
	entryID, err := c.askInt(args[1])
	if err != nil {
		return "", err
	}
	adminErr := c.srv.engine.MakeAdmin(c.token(), args[0], entryID)
	return c.respond(adminErr, "User successfully made admin!", "User couldn't be made admin!")
}

/* ===============
 * Entry operations
 *================*/

// askEntryFields gathers the descriptive fields of an entry interactively.
func (c *Conn) askEntryFields() (storage.Entry, error) {
	var entry storage.Entry

	description, err := c.ask("Describe the entry (quote it):", 1)
	if err != nil {
		return entry, err
	}
	entry.Description = description[0]

	entry.Start, err = c.askTime("When does it start?")
	if err != nil {
		return entry, err
	}
	minutes, err := c.ask("How many minutes does it last?", 1)
	if err != nil {
		return entry, err
	}
	duration, err := c.askInt(minutes[0])
	if err != nil {
		return entry, err
	}
	entry.End = entry.Start.Add(time.Duration(duration) * time.Minute)

	location, err := c.ask("Where is it? (- for nowhere)", 1)
	if err != nil {
		return entry, err
	}
	if location[0] != "-" {
		entry.Location = location[0]
	}

	repeats, err := c.askYesOrNo("Does the entry repeat?")
	if err != nil {
		return entry, err
	}
	for repeats {
		rule, err := c.ask("Recurrence rule (e.g. freq=weekly;count=10):", 1)
		if err != nil {
			return entry, err
		}
		normalized := strings.ToUpper(rule[0])
		if calendar.ValidateRule(normalized) == nil {
			entry.RRule = normalized
			break
		}
		if err := c.writeLine("Invalid recurrence rule!"); err != nil {
			return entry, err
		}
	}

	return entry, nil
}

func (c *Conn) entryCreate([]string) (string, error) {
	entry, err := c.askEntryFields()
	if err != nil {
		return "", err
	}
	id, createErr := c.srv.engine.CreateEntry(c.token(), entry)
	return c.respond(createErr,
		fmt.Sprintf("Entry successfully created with ID %d!", id),
		"Entry couldn't be created!")
}

func (c *Conn) entryEdit(args []string) (string, error) {
	entryID, err := c.askInt(args[0])
	if err != nil {
		return "", err
	}
	entry, err := c.askEntryFields()
	if err != nil {
		return "", err
	}
	entry.ID = entryID
	editErr := c.srv.engine.EditEntry(c.token(), entry)
	return c.respond(editErr, "Entry successfully edited!", "Entry couldn't be edited!")
}

func (c *Conn) entryDelete(args []string) (string, error) {
	entryID, err := c.askInt(args[0])
	if err != nil {
		return "", err
	}
	sure, err := c.askYesOrNo(fmt.Sprintf("Really delete entry %d?", entryID))
	if err != nil {
		return "", err
	}
	if !sure {
		return "Deletion cancelled!", nil
	}
	deleteErr := c.srv.engine.DeleteEntry(c.token(), entryID)
	return c.respond(deleteErr, "Entry successfully deleted!", "Entry couldn't be deleted!")
}

func (c *Conn) entryKickUser(args []string) (string, error) {
	entryID, err := c.askInt(args[1])
	if err != nil {
		return "", err
	}
	kickErr := c.srv.engine.KickUserFromEntry(c.token(), args[0], entryID)
	return c.respond(kickErr, "User successfully kicked from entry!", "User couldn't be kicked!")
}

func (c *Conn) entryKickGroup(args []string) (string, error) {
	entryID, err := c.askInt(args[1])
	if err != nil {
		return "", err
	}
	kickErr := c.srv.engine.KickGroupFromEntry(c.token(), args[0], entryID)
	return c.respond(kickErr, "Group successfully kicked from entry!", "Group couldn't be kicked!")
}

func (c *Conn) entryInviteUser(args []string) (string, error) {
	entryID, err := c.askInt(args[1])
	if err != nil {
		return "", err
	}
	inviteErr := c.srv.engine.InviteUserToEntry(c.token(), args[0], entryID)
	return c.respond(inviteErr, "User successfully invited!", "User couldn't be invited!")
}

func (c *Conn) entryInviteGroup(args []string) (string, error) {
	entryID, err := c.askInt(args[1])
	if err != nil {
		return "", err
	}
	inviteErr := c.srv.engine.InviteGroupToEntry(c.token(), args[0], entryID)
	return c.respond(inviteErr, "Group successfully invited!", "Group couldn't be invited!")
}

/* ===============
 * Group operations
 *================*/

func (c *Conn) groupCreate(args []string) (string, error) {
	createErr := c.srv.engine.CreateGroup(c.token(), storage.Group{Name: args[0]})
	return c.respond(createErr, "Group successfully created!", "Group couldn't be created!")
}

func (c *Conn) groupAdd(args []string) (string, error) {
	addErr := c.srv.engine.AddUserToGroup(c.token(), args[0], args[1])
	return c.respond(addErr, "User successfully added to group!", "User couldn't be added!")
}

func (c *Conn) groupRemove(args []string) (string, error) {
	removeErr := c.srv.engine.RemoveUserFromGroup(c.token(), args[0], args[1])
	return c.respond(removeErr, "User successfully removed from group!", "User couldn't be removed!")
}

/* ===============
 * Calendar operations
 *================*/

func (c *Conn) calendarShow([]string) (string, error) {
	entries, err := c.srv.engine.Calendar(c.token())
	if err != nil {
		return c.respond(err, "", "Calendar couldn't be shown!")
	}
	if len(entries) == 0 {
		return "Calendar is empty!", nil
	}

	now := time.Now()
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, calendar.FormatEntry(entry, now))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Conn) calendarExport([]string) (string, error) {
	entries, err := c.srv.engine.Calendar(c.token())
	if err != nil {
		return c.respond(err, "", "Calendar couldn't be exported!")
	}
	if len(entries) == 0 {
		return "Calendar is empty!", nil
	}

	ics, err := calendar.Export(entries)
	if err != nil {
		c.logger.Error("calendar export failed", "error", err)
		return "Calendar couldn't be exported!", nil
	}
	return ics, nil
}

/* ===============
 * Notification operations
 *================*/

func (c *Conn) notificationAnswer(args []string) (string, error) {
	entryID, err := c.askInt(args[0])
	if err != nil {
		return "", err
	}

	entry, entryErr := c.srv.engine.Entry(c.token(), entryID)
	if entryErr != nil {
		return c.respond(entryErr, "", "Invitation couldn't be answered!")
	}

	going, err := c.askYesOrNo(fmt.Sprintf("Going to %q?", entry.Description))
	if err != nil {
		return "", err
	}
	answerErr := c.srv.engine.InvitationAnswer(c.token(), entryID, going)
	return c.respond(answerErr, "Invitation successfully answered!", "Invitation couldn't be answered!")
}

func (c *Conn) notificationShow([]string) (string, error) {
	notifications, err := c.srv.engine.Notifications(c.token())
	if err != nil {
		return c.respond(err, "", "Notifications couldn't be shown!")
	}
	if len(notifications) == 0 {
		return "No new notifications!", nil
	}

	lines := make([]string, 0, len(notifications))
	for _, n := range notifications {
		lines = append(lines, fmt.Sprintf("[entry %d] %s", n.EntryID, n.Message))
	}
	return strings.Join(lines, "\n"), nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
