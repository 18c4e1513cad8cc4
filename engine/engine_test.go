package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/groupcal/storage"
)

// logIn is a test helper that mints a session for username.
func logIn(t *testing.T, store *storage.MockStore, e *Engine, username string) string {
	t.Helper()
	store.On("AuthUser", username, "pw").Return(&storage.User{Username: username}, nil).Once()
	session, err := e.LogIn(username, "pw")
	require.NoError(t, err)
	return session.Token
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	return engineErr.Kind
}

func TestLogIn(t *testing.T) {
	t.Run("correct password returns a session", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store)
		store.On("AuthUser", "alice", "pw").Return(&storage.User{Username: "alice"}, nil)

		session, err := e.LogIn("alice", "pw")
		require.NoError(t, err)
		assert.Equal(t, "alice", session.Username)
		assert.NotEmpty(t, session.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store)
		store.On("AuthUser", "alice", "nope").Return(nil, storage.ErrWrongPassword)

		_, err := e.LogIn("alice", "nope")
		assert.Equal(t, KindWrongCredentials, kindOf(t, err))
	})

	t.Run("unknown username", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store)
		store.On("AuthUser", "ghost", "pw").Return(nil, storage.ErrUserNotFound)

		_, err := e.LogIn("ghost", "pw")
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("second concurrent login refused", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store)
		store.On("AuthUser", "alice", "pw").Return(&storage.User{Username: "alice"}, nil)

		_, err := e.LogIn("alice", "pw")
		require.NoError(t, err)
		_, err = e.LogIn("alice", "pw")
		assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	})

	t.Run("registry presence refused", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store, WithPresence(func(username string) bool { return username == "alice" }))
		store.On("AuthUser", "alice", "pw").Return(&storage.User{Username: "alice"}, nil)

		_, err := e.LogIn("alice", "pw")
		assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	})
}

func TestSessionLifecycle(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &storage.MockStore{}
	e := New(store,
		WithSessionTTL(10*time.Minute),
		WithClock(func() time.Time { return now }))

	token := logIn(t, store, e, "alice")

	username, err := e.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	// Sliding expiry: activity 8 minutes in keeps the session alive past the
	// original deadline.
	now = now.Add(8 * time.Minute)
	_, err = e.Validate(token)
	require.NoError(t, err)

	now = now.Add(8 * time.Minute)
	_, err = e.Validate(token)
	require.NoError(t, err)

	// Silence for the full TTL ends it.
	now = now.Add(11 * time.Minute)
	_, err = e.Validate(token)
	assert.Equal(t, KindSessionExpired, kindOf(t, err))

	// After expiry the username may log in again.
	logIn(t, store, e, "alice")
}

func TestLogOut(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "alice")

	e.LogOut(token)
	_, err := e.Validate(token)
	assert.Equal(t, KindSessionExpired, kindOf(t, err))

	// A second logout of the same token is a no-op.
	e.LogOut(token)
}

func TestEveryOperationRequiresSession(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)

	operations := map[string]func() error{
		"edit user":    func() error { return e.EditUser("", storage.User{Username: "x"}) },
		"make admin":   func() error { return e.MakeAdmin("", "x", 1) },
		"create entry": func() error { _, err := e.CreateEntry("", storage.Entry{}); return err },
		"get entry":    func() error { _, err := e.Entry("", 1); return err },
		"delete entry": func() error { return e.DeleteEntry("", 1) },
		"edit entry":   func() error { return e.EditEntry("", storage.Entry{ID: 1}) },
		"kick user":    func() error { return e.KickUserFromEntry("", "x", 1) },
		"kick group":   func() error { return e.KickGroupFromEntry("", "g", 1) },
		"invite user":  func() error { return e.InviteUserToEntry("", "x", 1) },
		"invite group": func() error { return e.InviteGroupToEntry("", "g", 1) },
		"create group": func() error { return e.CreateGroup("", storage.Group{Name: "g"}) },
		"add to group": func() error { return e.AddUserToGroup("", "x", "g") },
		"remove":       func() error { return e.RemoveUserFromGroup("", "x", "g") },
		"calendar":     func() error { _, err := e.Calendar(""); return err },
		"answer":       func() error { return e.InvitationAnswer("", 1, true) },
		"notification": func() error { _, err := e.Notifications(""); return err },
	}

	for name, op := range operations {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, KindSessionExpired, kindOf(t, op()))
		})
	}
	// No operation may have reached the store.
	store.AssertExpectations(t)
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)

	store.On("AddUser", mock.Anything).Return(nil).Once()
	store.On("AddUser", mock.Anything).Return(storage.ErrUsernameExists).Once()

	require.NoError(t, e.CreateUser(storage.User{Username: "bob", Password: "pw"}))
	err := e.CreateUser(storage.User{Username: "bob", Password: "pw"})
	assert.ErrorIs(t, err, storage.ErrUsernameExists)
}

func TestEditUserSelfOnly(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "alice")

	err := e.EditUser(token, storage.User{Username: "bob", Password: "pw"})
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	store.AssertNotCalled(t, "EditUser", mock.Anything)

	store.On("EditUser", storage.User{Username: "alice", Password: "new"}).Return(nil)
	assert.NoError(t, e.EditUser(token, storage.User{Username: "alice", Password: "new"}))
}

func TestMakeAdminRequiresAdmin(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "alice")

	store.On("IsAdmin", "alice", 7).Return(false, nil).Once()
	err := e.MakeAdmin(token, "bob", 7)
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	store.AssertNotCalled(t, "MakeAdmin", mock.Anything, mock.Anything)

	store.On("IsAdmin", "alice", 7).Return(true, nil).Once()
	store.On("MakeAdmin", "bob", 7).Return(nil)
	assert.NoError(t, e.MakeAdmin(token, "bob", 7))
}

func TestDeleteEntryRequiresAdmin(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "bob")

	store.On("IsAdmin", "bob", 3).Return(false, nil).Once()
	err := e.DeleteEntry(token, 3)
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	store.AssertNotCalled(t, "DeleteEntry", mock.Anything)

	store.On("IsAdmin", "bob", 3).Return(true, nil).Once()
	store.On("DeleteEntry", 3).Return(nil)
	assert.NoError(t, e.DeleteEntry(token, 3))
}

func TestDeleteEntryMissing(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "bob")

	store.On("IsAdmin", "bob", 99).Return(false, storage.ErrEntryNotFound)
	err := e.DeleteEntry(token, 99)
	assert.ErrorIs(t, err, storage.ErrEntryNotFound)
}

func TestKickUserProtectsAdmins(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "alice")

	store.On("IsAllowedToEdit", "alice", 5).Return(true, nil)
	store.On("IsAdmin", "bob", 5).Return(true, nil)

	err := e.KickUserFromEntry(token, "bob", 5)
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	store.AssertNotCalled(t, "HideEntry", mock.Anything, mock.Anything)
}

func TestKickUserRequiresEditRights(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "mallory")

	store.On("IsAllowedToEdit", "mallory", 5).Return(false, nil)
	store.On("IsAdmin", "bob", 5).Return(false, nil)

	err := e.KickUserFromEntry(token, "bob", 5)
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	store.AssertNotCalled(t, "HideEntry", mock.Anything, mock.Anything)
}

func TestKickGroupAllOrNothing(t *testing.T) {
	t.Run("any admin member blocks the whole kick", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store)
		token := logIn(t, store, e, "alice")

		store.On("GetGroup", "team").Return(&storage.Group{Name: "team", Members: []string{"bob", "carol"}}, nil)
		store.On("IsAdmin", "bob", 5).Return(false, nil)
		store.On("IsAdmin", "carol", 5).Return(true, nil)

		err := e.KickGroupFromEntry(token, "team", 5)
		assert.Equal(t, KindNotAuthorized, kindOf(t, err))
		store.AssertNotCalled(t, "HideEntryForGroup", mock.Anything, mock.Anything)
	})

	t.Run("no admin members hides the group", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store)
		token := logIn(t, store, e, "alice")

		store.On("GetGroup", "team").Return(&storage.Group{Name: "team", Members: []string{"bob", "carol"}}, nil)
		store.On("IsAdmin", "bob", 5).Return(false, nil)
		store.On("IsAdmin", "carol", 5).Return(false, nil)
		store.On("IsAllowedToEdit", "alice", 5).Return(true, nil)
		store.On("HideEntryForGroup", "team", 5).Return(nil)

		assert.NoError(t, e.KickGroupFromEntry(token, "team", 5))
		store.AssertCalled(t, "HideEntryForGroup", "team", 5)
	})

	t.Run("missing group", func(t *testing.T) {
		store := &storage.MockStore{}
		e := New(store)
		token := logIn(t, store, e, "alice")

		store.On("GetGroup", "nosuch").Return(nil, storage.ErrGroupNotFound)
		err := e.KickGroupFromEntry(token, "nosuch", 5)
		assert.ErrorIs(t, err, storage.ErrGroupNotFound)
	})
}

func TestInviteRequiresEditRights(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "mallory")

	store.On("IsAllowedToEdit", "mallory", 2).Return(false, nil)

	err := e.InviteUserToEntry(token, "bob", 2)
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	err = e.InviteGroupToEntry(token, "team", 2)
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	store.AssertNotCalled(t, "InviteUser", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InviteGroup", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateGroupAddsRequestor(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "alice")

	store.On("AddGroup", mock.MatchedBy(func(g storage.Group) bool {
		for _, m := range g.Members {
			if m == "alice" {
				return true
			}
		}
		return false
	})).Return(nil)

	require.NoError(t, e.CreateGroup(token, storage.Group{Name: "team", Members: []string{"bob"}}))
	store.AssertExpectations(t)
}

func TestGroupMembershipGate(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "mallory")

	store.On("IsMemberOf", "team", "mallory").Return(false, nil)

	err := e.AddUserToGroup(token, "bob", "team")
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	err = e.RemoveUserFromGroup(token, "bob", "team")
	assert.Equal(t, KindNotAuthorized, kindOf(t, err))
	store.AssertNotCalled(t, "AddUserToGroup", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "RemoveUserFromGroup", mock.Anything, mock.Anything)
}

func TestInvitationAnswer(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "bob")

	store.On("Going", "bob", 4).Return(nil).Once()
	require.NoError(t, e.InvitationAnswer(token, 4, true))
	store.AssertCalled(t, "Going", "bob", 4)

	store.On("NotGoing", "bob", 4).Return(nil).Once()
	require.NoError(t, e.InvitationAnswer(token, 4, false))
	store.AssertCalled(t, "NotGoing", "bob", 4)
}

func TestNotificationsForCallerOnly(t *testing.T) {
	store := &storage.MockStore{}
	e := New(store)
	token := logIn(t, store, e, "bob")

	pending := []storage.Notification{{Username: "bob", EntryID: 1, Message: "hi"}}
	store.On("NotificationsFor", "bob").Return(pending, nil)

	got, err := e.Notifications(token)
	require.NoError(t, err)
	assert.Equal(t, pending, got)
}
