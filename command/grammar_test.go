package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	assert.NotNil(t, Find("user"))
	assert.NotNil(t, Find("entry"))
	assert.NotNil(t, Find("help"))
	assert.Nil(t, Find("frobnicate"))
}

func TestLeaf(t *testing.T) {
	user := Find("user")
	require.NotNil(t, user)

	assert.NotNil(t, user.Leaf("create"))
	assert.NotNil(t, user.Leaf("make-admin"))
	assert.Nil(t, user.Leaf("destroy"))
}

func TestArgumentCount(t *testing.T) {
	testCases := []struct {
		group string
		leaf  string
		want  int
	}{
		{"user", "create", 1},
		{"user", "logout", 0},
		{"user", "make-admin", 2},
		{"entry", "create", 0},
		{"entry", "kick-user", 2},
		{"group", "add", 2},
		{"notification", "answer", 1},
	}

	for _, tc := range testCases {
		t.Run(tc.group+" "+tc.leaf, func(t *testing.T) {
			group := Find(tc.group)
			require.NotNil(t, group)
			leaf := group.Leaf(tc.leaf)
			require.NotNil(t, leaf)
			assert.Equal(t, tc.want, leaf.ArgumentCount())
		})
	}
}

func TestHelpGroupListsSubCommands(t *testing.T) {
	entry := Find("entry")
	require.NotNil(t, entry)

	help := entry.Help(nil)
	assert.Contains(t, help, "Help for command entry:")
	assert.Contains(t, help, "sub-commands")
	for _, sub := range entry.Sub {
		assert.Contains(t, help, "\t"+sub.Name+"\n")
	}
}

func TestHelpLeafRendersSyntax(t *testing.T) {
	group := Find("group")
	require.NotNil(t, group)
	add := group.Leaf("add")
	require.NotNil(t, add)

	help := add.Help(group)
	assert.Contains(t, help, "Syntax:")
	assert.Contains(t, help, "group add username groupname")
}

func TestHelpLeafWithoutArguments(t *testing.T) {
	user := Find("user")
	require.NotNil(t, user)
	logout := user.Leaf("logout")
	require.NotNil(t, logout)

	assert.Contains(t, logout.Help(user), "No arguments")
}

func TestOverviewListsEveryGroup(t *testing.T) {
	overview := Overview()
	for _, c := range Tree {
		assert.True(t, strings.Contains(overview, c.Name), "overview misses %s", c.Name)
	}
}

// Nodes carry either sub-commands or arguments, never both.
func TestTreeShape(t *testing.T) {
	for _, top := range Tree {
		if len(top.Sub) > 0 {
			assert.Empty(t, top.Args, "group %s must not declare arguments", top.Name)
		}
		for _, leaf := range top.Sub {
			assert.Empty(t, leaf.Sub, "leaf %s %s must not nest further", top.Name, leaf.Name)
		}
	}
}
