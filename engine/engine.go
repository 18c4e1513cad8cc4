// Package engine enforces the business rules of the calendar server. Every
// operation validates the caller's session and runs its permission check and
// the following store mutation as one atomic unit: a single mutex serializes
// all engine entry points across all connections. That lock is the point of
// this design; do not shard it per resource.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyp0633/groupcal/storage"
)

// DefaultSessionTTL is the sliding session lifetime used when no option overrides it.
const DefaultSessionTTL = 30 * time.Minute

// Session is the proof of a successful login. The token is opaque; callers
// present it on every subsequent operation.
type Session struct {
	Token    string
	Username string
	Expiry   time.Time
}

type session struct {
	username string
	expiry   time.Time
}

// Engine wraps a storage.Store with session validation and rights checks.
type Engine struct {
	mu       sync.Mutex
	store    storage.Store
	sessions map[string]*session
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
	presence func(username string) bool
}

// New creates an Engine on top of the given store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		sessions: make(map[string]*session),
		ttl:      DefaultSessionTTL,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option represents a configuration option for the Engine
type Option func(*Engine)

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSessionTTL sets the sliding session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPresence installs an extra logged-in check consulted on login, typically
// the connection registry. A username reported present cannot log in again.
func WithPresence(fn func(username string) bool) Option {
	return func(e *Engine) {
		e.presence = fn
	}
}

// LogIn verifies the credentials and mints a session. A username with a live
// session (or reported present by the registry) is refused a second login.
func (e *Engine) LogIn(username, password string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, err := e.store.AuthUser(username, password)
	if err != nil {
		if errors.Is(err, storage.ErrWrongPassword) {
			return nil, &Error{Kind: KindWrongCredentials, Message: "wrong password", Err: err}
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if e.loggedInLocked(username) || (e.presence != nil && e.presence(username)) {
		e.logger.Warn("login refused: already logged in", "username", username)
		return nil, notAuthorized("already logged in elsewhere")
	}

	s := &Session{
		Token:    uuid.NewString(),
		Username: user.Username,
		Expiry:   e.now().Add(e.ttl),
	}
	e.sessions[s.Token] = &session{username: s.Username, expiry: s.Expiry}

	e.logger.Info("user logged in", "username", username)
	return s, nil
}

// LogOut drops the session. Unknown tokens are ignored.
func (e *Engine) LogOut(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[token]; ok {
		e.logger.Info("user logged out", "username", s.username)
		delete(e.sessions, token)
	}
}

// Validate resolves a token to its username and extends the sliding expiry.
func (e *Engine) Validate(token string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validateLocked(token)
}

func (e *Engine) validateLocked(token string) (string, error) {
	s, ok := e.sessions[token]
	if !ok {
		e.logger.Info("request from unverified session denied")
		return "", sessionExpired()
	}
	if e.now().After(s.expiry) {
		e.logger.Info("session expired", "username", s.username)
		delete(e.sessions, token)
		return "", sessionExpired()
	}
	s.expiry = e.now().Add(e.ttl)
	return s.username, nil
}

func (e *Engine) loggedInLocked(username string) bool {
	now := e.now()
	for _, s := range e.sessions {
		if s.username == username && !now.After(s.expiry) {
			return true
		}
	}
	return false
}

// CreateUser registers a new account. No session required.
func (e *Engine) CreateUser(user storage.User) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.AddUser(user)
}

// EditUser replaces the caller's own record. Editing anyone else is refused.
func (e *Engine) EditUser(token string, updated storage.User) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	if updated.Username != username {
		return notAuthorized("users may only edit themselves")
	}
	return e.store.EditUser(updated)
}

// MakeAdmin adds a user to the entry's admin set. Caller must already be an admin.
func (e *Engine) MakeAdmin(token, username string, entryID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestor, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	admin, err := e.store.IsAdmin(requestor, entryID)
	if err != nil {
		return err
	}
	if !admin {
		return notAuthorized("only admins may appoint admins")
	}
	return e.store.MakeAdmin(username, entryID)
}

// CreateEntry persists a new entry with the caller as creator and first admin.
func (e *Engine) CreateEntry(token string, entry storage.Entry) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return 0, err
	}
	return e.store.AddEntry(entry, username)
}

// Entry retrieves an entry. Requires a live session.
func (e *Engine) Entry(token string, entryID int) (*storage.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.validateLocked(token); err != nil {
		return nil, err
	}
	return e.store.GetEntry(entryID)
}

// DeleteEntry removes an entry. Caller must be in its admin set.
func (e *Engine) DeleteEntry(token string, entryID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	admin, err := e.store.IsAdmin(username, entryID)
	if err != nil {
		return err
	}
	if !admin {
		return notAuthorized("only admins may delete an entry")
	}
	return e.store.DeleteEntry(entryID)
}

// EditEntry replaces an entry's descriptive fields. Caller needs edit rights.
func (e *Engine) EditEntry(token string, entry storage.Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	allowed, err := e.store.IsAllowedToEdit(username, entry.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return notAuthorized("no edit rights on entry")
	}
	return e.store.EditEntry(entry)
}

// KickUserFromEntry hides an invited user. Caller needs edit rights and the
// target must not be an admin of the entry.
func (e *Engine) KickUserFromEntry(token, username string, entryID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestor, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	allowed, err := e.store.IsAllowedToEdit(requestor, entryID)
	if err != nil {
		return err
	}
	targetAdmin, err := e.store.IsAdmin(username, entryID)
	if err != nil {
		return err
	}
	if !allowed || targetAdmin {
		return notAuthorized("admins cannot be kicked")
	}
	return e.store.HideEntry(username, entryID)
}

// KickGroupFromEntry hides every invited member of the group. If any member is
// an admin of the entry the whole operation is refused before anything is hidden.
func (e *Engine) KickGroupFromEntry(token, groupname string, entryID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestor, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	group, err := e.store.GetGroup(groupname)
	if err != nil {
		return err
	}
	for _, member := range group.Members {
		admin, err := e.store.IsAdmin(member, entryID)
		if err != nil {
			return err
		}
		if admin {
			return notAuthorized("group contains an admin of the entry")
		}
	}
	allowed, err := e.store.IsAllowedToEdit(requestor, entryID)
	if err != nil {
		return err
	}
	if !allowed {
		return notAuthorized("no edit rights on entry")
	}
	return e.store.HideEntryForGroup(groupname, entryID)
}

// InviteUserToEntry invites a user. Caller needs edit rights on the entry.
func (e *Engine) InviteUserToEntry(token, username string, entryID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestor, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	allowed, err := e.store.IsAllowedToEdit(requestor, entryID)
	if err != nil {
		return err
	}
	if !allowed {
		return notAuthorized("no edit rights on entry")
	}
	return e.store.InviteUser(requestor, username, entryID)
}

// InviteGroupToEntry invites every member of a group. Caller needs edit rights.
func (e *Engine) InviteGroupToEntry(token, groupname string, entryID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestor, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	allowed, err := e.store.IsAllowedToEdit(requestor, entryID)
	if err != nil {
		return err
	}
	if !allowed {
		return notAuthorized("no edit rights on entry")
	}
	return e.store.InviteGroup(requestor, groupname, entryID)
}

// CreateGroup persists a new group. The caller always ends up a member.
func (e *Engine) CreateGroup(token string, group storage.Group) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return err
	}

	member := false
	for _, m := range group.Members {
		if m == username {
			member = true
			break
		}
	}
	if !member {
		group.Members = append(group.Members, username)
	}
	return e.store.AddGroup(group)
}

// AddUserToGroup adds a user to a group. Caller must already be a member.
func (e *Engine) AddUserToGroup(token, username, groupname string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestor, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	member, err := e.store.IsMemberOf(groupname, requestor)
	if err != nil {
		return err
	}
	if !member {
		return notAuthorized("only members may change a group")
	}
	return e.store.AddUserToGroup(username, groupname)
}

// RemoveUserFromGroup removes a user from a group. Caller must be a member.
func (e *Engine) RemoveUserFromGroup(token, username, groupname string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestor, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	member, err := e.store.IsMemberOf(groupname, requestor)
	if err != nil {
		return err
	}
	if !member {
		return notAuthorized("only members may change a group")
	}
	return e.store.RemoveUserFromGroup(username, groupname)
}

// Calendar returns the caller's derived calendar view.
func (e *Engine) Calendar(token string) ([]storage.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return nil, err
	}
	return e.store.UserCalendar(username)
}

// InvitationAnswer records going/not-going for the caller on the entry and
// clears the pending notification.
func (e *Engine) InvitationAnswer(token string, entryID int, going bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return err
	}
	if going {
		return e.store.Going(username, entryID)
	}
	return e.store.NotGoing(username, entryID)
}

// Notifications returns the caller's pending notifications.
func (e *Engine) Notifications(token string) ([]storage.Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	username, err := e.validateLocked(token)
	if err != nil {
		return nil, err
	}
	return e.store.NotificationsFor(username)
}
