// Package memory provides the reference in-memory Store implementation.
package memory

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/mo"
	"golang.org/x/crypto/bcrypt"

	"github.com/cyp0633/groupcal/storage"
)

// Store implements storage.Store with plain maps. Safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	users         map[string]storage.User        // map[username]User, Password is a bcrypt hash
	groups        map[string]map[string]struct{} // map[groupname]member set
	entries       map[int]*entry
	notifications map[string]map[int]storage.Notification // map[username]map[entryID]
	nextEntryID   int
	logger        *slog.Logger
	now           func() time.Time
}

type entry struct {
	creator      string
	description  string
	location     string
	start, end   time.Time
	rrule        string
	admins       map[string]struct{}
	participants map[string]storage.Participant
	groups       map[string]struct{}
}

// New creates a new in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		users:         make(map[string]storage.User),
		groups:        make(map[string]map[string]struct{}),
		entries:       make(map[int]*entry),
		notifications: make(map[string]map[int]storage.Notification),
		nextEntryID:   1,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:           time.Now,
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// GetUser implements storage.Store
func (s *Store) GetUser(username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("get user %q: %w", username, storage.ErrUserNotFound)
	}
	return &user, nil
}

// AuthUser implements storage.Store
func (s *Store) AuthUser(username, password string) (*storage.User, error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		s.logger.Info("authentication failed: user not found",
			"username", username)
		return nil, fmt.Errorf("auth user %q: %w", username, storage.ErrUserNotFound)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		s.logger.Info("authentication failed: invalid password",
			"username", username)
		return nil, fmt.Errorf("auth user %q: %w", username, storage.ErrWrongPassword)
	}

	s.logger.Debug("authentication successful",
		"username", username)

	return &user, nil
}

// AddUser implements storage.Store
func (s *Store) AddUser(user storage.User) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password for %q: %w", user.Username, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		s.logger.Warn("failed to add user: already exists",
			"username", user.Username)
		return fmt.Errorf("add user %q: %w", user.Username, storage.ErrUsernameExists)
	}

	user.Password = string(hash)
	s.users[user.Username] = user

	s.logger.Info("user added successfully",
		"username", user.Username)

	return nil
}

// EditUser implements storage.Store
func (s *Store) EditUser(user storage.User) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password for %q: %w", user.Username, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; !exists {
		return fmt.Errorf("edit user %q: %w", user.Username, storage.ErrUserNotFound)
	}

	user.Password = string(hash)
	s.users[user.Username] = user

	s.logger.Info("user edited", "username", user.Username)
	return nil
}

// IsAdmin implements storage.Store
func (s *Store) IsAdmin(username string, entryID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[username]; !ok {
		return false, fmt.Errorf("is admin %q: %w", username, storage.ErrUserNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return false, fmt.Errorf("is admin on entry %d: %w", entryID, storage.ErrEntryNotFound)
	}
	_, admin := e.admins[username]
	return admin, nil
}

// IsAllowedToEdit implements storage.Store. Admins and the creator may edit.
func (s *Store) IsAllowedToEdit(username string, entryID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[username]; !ok {
		return false, fmt.Errorf("is allowed to edit %q: %w", username, storage.ErrUserNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return false, fmt.Errorf("is allowed to edit entry %d: %w", entryID, storage.ErrEntryNotFound)
	}
	if e.creator == username {
		return true, nil
	}
	_, admin := e.admins[username]
	return admin, nil
}

// MakeAdmin implements storage.Store
func (s *Store) MakeAdmin(username string, entryID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("make admin %q: %w", username, storage.ErrUserNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("make admin on entry %d: %w", entryID, storage.ErrEntryNotFound)
	}

	e.admins[username] = struct{}{}
	// Admins always see the entry on their calendar.
	if p, ok := e.participants[username]; !ok || p.Hidden {
		p.Hidden = false
		e.participants[username] = p
	}

	s.logger.Info("admin added", "username", username, "entry_id", entryID)
	return nil
}

// AddEntry implements storage.Store
func (s *Store) AddEntry(in storage.Entry, creator string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[creator]; !ok {
		return 0, fmt.Errorf("add entry for %q: %w", creator, storage.ErrUserNotFound)
	}

	id := s.nextEntryID
	s.nextEntryID++

	s.entries[id] = &entry{
		creator:      creator,
		description:  in.Description,
		location:     in.Location,
		start:        in.Start,
		end:          in.End,
		rrule:        in.RRule,
		admins:       map[string]struct{}{creator: {}},
		participants: map[string]storage.Participant{creator: {}},
		groups:       make(map[string]struct{}),
	}

	s.logger.Info("entry added", "entry_id", id, "creator", creator)
	return id, nil
}

// GetEntry implements storage.Store
func (s *Store) GetEntry(entryID int) (*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("get entry %d: %w", entryID, storage.ErrEntryNotFound)
	}
	out := e.export(entryID)
	return &out, nil
}

// EditEntry implements storage.Store. Only descriptive fields change; the ID,
// creator, admin set and participant state are preserved.
func (s *Store) EditEntry(in storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[in.ID]
	if !ok {
		return fmt.Errorf("edit entry %d: %w", in.ID, storage.ErrEntryNotFound)
	}

	e.description = in.Description
	e.location = in.Location
	e.start = in.Start
	e.end = in.End
	e.rrule = in.RRule

	s.logger.Info("entry edited", "entry_id", in.ID)
	return nil
}

// DeleteEntry implements storage.Store
func (s *Store) DeleteEntry(entryID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entryID]; !ok {
		return fmt.Errorf("delete entry %d: %w", entryID, storage.ErrEntryNotFound)
	}

	delete(s.entries, entryID)
	for username := range s.notifications {
		delete(s.notifications[username], entryID)
	}

	s.logger.Info("entry deleted", "entry_id", entryID)
	return nil
}

// InviteUser implements storage.Store
func (s *Store) InviteUser(inviter, username string, entryID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inviteLocked(inviter, username, entryID)
}

// inviteLocked adds a visible participant record and a pending notification.
// Caller holds s.mu.
func (s *Store) inviteLocked(inviter, username string, entryID int) error {
	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("invite %q: %w", username, storage.ErrUserNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("invite to entry %d: %w", entryID, storage.ErrEntryNotFound)
	}

	p := e.participants[username]
	p.Hidden = false
	e.participants[username] = p

	if s.notifications[username] == nil {
		s.notifications[username] = make(map[int]storage.Notification)
	}
	s.notifications[username][entryID] = storage.Notification{
		Username: username,
		EntryID:  entryID,
		Message:  fmt.Sprintf("%s invited you to %q (entry %d)", inviter, e.description, entryID),
		Created:  s.now(),
	}

	s.logger.Info("user invited",
		"inviter", inviter, "username", username, "entry_id", entryID)
	return nil
}

// InviteGroup implements storage.Store
func (s *Store) InviteGroup(inviter, groupname string, entryID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[groupname]
	if !ok {
		return fmt.Errorf("invite group %q: %w", groupname, storage.ErrGroupNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("invite group to entry %d: %w", entryID, storage.ErrEntryNotFound)
	}

	for member := range members {
		if err := s.inviteLocked(inviter, member, entryID); err != nil {
			return err
		}
	}
	e.groups[groupname] = struct{}{}

	s.logger.Info("group invited",
		"inviter", inviter, "groupname", groupname, "entry_id", entryID)
	return nil
}

// HideEntry implements storage.Store
func (s *Store) HideEntry(username string, entryID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hideLocked(username, entryID)
}

// hideLocked marks an invited user as kicked. Caller holds s.mu.
func (s *Store) hideLocked(username string, entryID int) error {
	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("hide entry for %q: %w", username, storage.ErrUserNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("hide entry %d: %w", entryID, storage.ErrEntryNotFound)
	}

	p, ok := e.participants[username]
	if !ok {
		return fmt.Errorf("hide entry %d for %q: %w", entryID, username, storage.ErrInvitationNotFound)
	}
	p.Hidden = true
	e.participants[username] = p
	delete(s.notifications[username], entryID)

	s.logger.Info("user hidden from entry", "username", username, "entry_id", entryID)
	return nil
}

// HideEntryForGroup implements storage.Store. Members that were never invited
// individually are skipped; there is no invitation record to hide for them.
func (s *Store) HideEntryForGroup(groupname string, entryID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[groupname]
	if !ok {
		return fmt.Errorf("hide entry for group %q: %w", groupname, storage.ErrGroupNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("hide entry %d: %w", entryID, storage.ErrEntryNotFound)
	}

	for member := range members {
		if _, invited := e.participants[member]; !invited {
			continue
		}
		if err := s.hideLocked(member, entryID); err != nil {
			return err
		}
	}
	delete(e.groups, groupname)

	s.logger.Info("group hidden from entry", "groupname", groupname, "entry_id", entryID)
	return nil
}

// AddGroup implements storage.Store
func (s *Store) AddGroup(group storage.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[group.Name]; exists {
		s.logger.Warn("failed to add group: already exists",
			"groupname", group.Name)
		return fmt.Errorf("add group %q: %w", group.Name, storage.ErrGroupExists)
	}

	members := make(map[string]struct{}, len(group.Members))
	for _, member := range group.Members {
		if _, ok := s.users[member]; !ok {
			return fmt.Errorf("add group %q, member %q: %w", group.Name, member, storage.ErrMembershipNotFound)
		}
		members[member] = struct{}{}
	}
	s.groups[group.Name] = members

	s.logger.Info("group added", "groupname", group.Name, "members", len(members))
	return nil
}

// GetGroup implements storage.Store
func (s *Store) GetGroup(groupname string) (*storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.groups[groupname]
	if !ok {
		return nil, fmt.Errorf("get group %q: %w", groupname, storage.ErrGroupNotFound)
	}

	out := storage.Group{Name: groupname, Members: make([]string, 0, len(members))}
	for member := range members {
		out.Members = append(out.Members, member)
	}
	sort.Strings(out.Members)
	return &out, nil
}

// IsMemberOf implements storage.Store
func (s *Store) IsMemberOf(groupname, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.groups[groupname]
	if !ok {
		return false, fmt.Errorf("is member of %q: %w", groupname, storage.ErrGroupNotFound)
	}
	_, member := members[username]
	return member, nil
}

// AddUserToGroup implements storage.Store
func (s *Store) AddUserToGroup(username, groupname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("add %q to group: %w", username, storage.ErrUserNotFound)
	}
	members, ok := s.groups[groupname]
	if !ok {
		return fmt.Errorf("add to group %q: %w", groupname, storage.ErrGroupNotFound)
	}

	members[username] = struct{}{}

	s.logger.Info("user added to group", "username", username, "groupname", groupname)
	return nil
}

// RemoveUserFromGroup implements storage.Store
func (s *Store) RemoveUserFromGroup(username, groupname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("remove %q from group: %w", username, storage.ErrUserNotFound)
	}
	members, ok := s.groups[groupname]
	if !ok {
		return fmt.Errorf("remove from group %q: %w", groupname, storage.ErrGroupNotFound)
	}

	delete(members, username)

	s.logger.Info("user removed from group", "username", username, "groupname", groupname)
	return nil
}

// UserCalendar implements storage.Store
func (s *Store) UserCalendar(username string) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[username]; !ok {
		return nil, fmt.Errorf("calendar for %q: %w", username, storage.ErrUserNotFound)
	}

	ids := make([]int, 0, len(s.entries))
	for id, e := range s.entries {
		if s.visibleLocked(e, username) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	out := make([]storage.Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entries[id].export(id))
	}
	return out, nil
}

// visibleLocked reports whether the entry belongs on the user's calendar:
// created by them, visibly invited, or reached through an invited group.
// A kicked participant stays hidden even when their group is invited.
func (s *Store) visibleLocked(e *entry, username string) bool {
	if e.creator == username {
		return true
	}
	if p, ok := e.participants[username]; ok {
		return !p.Hidden
	}
	for groupname := range e.groups {
		if _, member := s.groups[groupname][username]; member {
			return true
		}
	}
	return false
}

// Going implements storage.Store
func (s *Store) Going(username string, entryID int) error {
	return s.answer(username, entryID, true)
}

// NotGoing implements storage.Store
func (s *Store) NotGoing(username string, entryID int) error {
	return s.answer(username, entryID, false)
}

func (s *Store) answer(username string, entryID int, going bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("answer for %q: %w", username, storage.ErrUserNotFound)
	}
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("answer on entry %d: %w", entryID, storage.ErrEntryNotFound)
	}

	p := e.participants[username]
	p.Attendance = mo.Some(going)
	e.participants[username] = p
	delete(s.notifications[username], entryID)

	s.logger.Info("invitation answered",
		"username", username, "entry_id", entryID, "going", going)
	return nil
}

// NotificationsFor implements storage.Store
func (s *Store) NotificationsFor(username string) ([]storage.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[username]; !ok {
		return nil, fmt.Errorf("notifications for %q: %w", username, storage.ErrUserNotFound)
	}

	pending := s.notifications[username]
	out := make([]storage.Notification, 0, len(pending))
	for _, n := range pending {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

// Close implements storage.Store
func (s *Store) Close() error {
	s.logger.Info("memory store closed")
	return nil
}

// export copies the internal representation into the public Entry type.
func (e *entry) export(id int) storage.Entry {
	out := storage.Entry{
		ID:           id,
		Creator:      e.creator,
		Description:  e.description,
		Location:     e.location,
		Start:        e.start,
		End:          e.end,
		RRule:        e.rrule,
		Admins:       make([]string, 0, len(e.admins)),
		Participants: make(map[string]storage.Participant, len(e.participants)),
		Groups:       make([]string, 0, len(e.groups)),
	}
	for admin := range e.admins {
		out.Admins = append(out.Admins, admin)
	}
	sort.Strings(out.Admins)
	for username, p := range e.participants {
		out.Participants[username] = p
	}
	for groupname := range e.groups {
		out.Groups = append(out.Groups, groupname)
	}
	sort.Strings(out.Groups)
	return out
}
