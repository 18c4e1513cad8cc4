package storage

import (
	"errors"
	"time"

	"github.com/samber/mo"
)

// Store connects your backend storage (e.g. database) with this server. Please use the
// error types provided. Implementations must be safe for concurrent use; the engine
// additionally serializes every check-then-act sequence behind its own lock.
type Store interface {
	// GetUser gets the stored record for a username.
	GetUser(username string) (*User, error)
	// AuthUser verifies a username/password pair and returns the user on success.
	AuthUser(username, password string) (*User, error)
	// AddUser persists a new user.
	AddUser(user User) error
	// EditUser replaces the stored record for user.Username.
	EditUser(user User) error

	// IsAdmin reports whether username is in the admin set of the entry.
	IsAdmin(username string, entryID int) (bool, error)
	// IsAllowedToEdit reports whether username may edit the entry (admins and the
	// creator qualify).
	IsAllowedToEdit(username string, entryID int) (bool, error)
	// MakeAdmin adds username to the entry's admin set.
	MakeAdmin(username string, entryID int) error

	// AddEntry persists a new entry with creator as its sole admin and first visible
	// participant, and returns the assigned entry ID.
	AddEntry(entry Entry, creator string) (int, error)
	// GetEntry retrieves an entry by ID.
	GetEntry(entryID int) (*Entry, error)
	// EditEntry replaces the descriptive fields of the stored entry; the ID, creator,
	// admin set and participant state are preserved.
	EditEntry(entry Entry) error
	// DeleteEntry removes an entry and any pending notifications referencing it.
	DeleteEntry(entryID int) error

	// InviteUser invites username to the entry and leaves a pending notification.
	// Re-inviting a hidden user makes the entry visible to them again.
	InviteUser(inviter, username string, entryID int) error
	// InviteGroup invites every member of the group to the entry.
	InviteGroup(inviter, groupname string, entryID int) error
	// HideEntry marks an invited user as kicked from the entry.
	HideEntry(username string, entryID int) error
	// HideEntryForGroup marks every invited member of the group as kicked.
	HideEntryForGroup(groupname string, entryID int) error

	// AddGroup persists a new group. Every listed member must exist.
	AddGroup(group Group) error
	// GetGroup retrieves a group and its membership.
	GetGroup(groupname string) (*Group, error)
	// IsMemberOf reports whether username belongs to the group.
	IsMemberOf(groupname, username string) (bool, error)
	// AddUserToGroup adds username to the group. Adding an existing member is a no-op.
	AddUserToGroup(username, groupname string) error
	// RemoveUserFromGroup removes username from the group.
	RemoveUserFromGroup(username, groupname string) error

	// UserCalendar returns the derived calendar for a user: entries they created, are
	// visibly invited to, or reach through a group invitation, ordered by entry ID.
	UserCalendar(username string) ([]Entry, error)

	// Going records that username will attend the entry and clears the notification.
	Going(username string, entryID int) error
	// NotGoing records that username will not attend and clears the notification.
	NotGoing(username string, entryID int) error
	// NotificationsFor returns the pending notifications of a user.
	NotificationsFor(username string) ([]Notification, error)

	// Close releases the backing resources.
	Close() error
}

// User is an account record. Password holds whatever secret form the Store uses;
// the reference memory store keeps a bcrypt hash there and only AuthUser can check it.
type User struct {
	Username string
	Password string
}

// Group is a named set of users. Order of Members carries no meaning.
type Group struct {
	Name    string
	Members []string
}

// Entry is a calendar event with an owner, an admin set and invited participants.
type Entry struct {
	// ID is assigned by the Store on AddEntry and is zero before that.
	ID int
	// Creator is the username that created the entry. Always in the admin set.
	Creator     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	// RRule is an optional iCalendar recurrence rule (the part after "RRULE:").
	// Empty means the entry does not repeat.
	RRule string
	// Admins lists usernames allowed to delete the entry and manage its admins.
	Admins []string
	// Participants maps invited usernames to their per-entry state.
	Participants map[string]Participant
	// Groups lists group names invited to the entry.
	Groups []string
}

// Participant is the per-invitee state on one entry.
type Participant struct {
	// Hidden is set when the user has been kicked; the invitation record stays.
	Hidden bool
	// Attendance is None until the user answers, then Some(true) for going and
	// Some(false) for not going.
	Attendance mo.Option[bool]
}

// Notification is a pending invitation awaiting a going/not-going answer.
type Notification struct {
	Username string
	EntryID  int
	Message  string
	Created  time.Time
}

var (
	// ErrUserNotFound is returned when the addressed user doesn't exist
	ErrUserNotFound = errors.New("user does not exist")
	// ErrGroupNotFound is returned when the addressed group doesn't exist
	ErrGroupNotFound = errors.New("group does not exist")
	// ErrEntryNotFound is returned when the addressed entry doesn't exist
	ErrEntryNotFound = errors.New("entry does not exist")
	// ErrInvitationNotFound is returned when acting on an invitation that was never made
	ErrInvitationNotFound = errors.New("invitation does not exist")
	// ErrMembershipNotFound is returned when a user referenced through a group doesn't exist
	ErrMembershipNotFound = errors.New("user in group does not exist")
	// ErrUsernameExists is returned when registering a username that is taken
	ErrUsernameExists = errors.New("username already exists")
	// ErrGroupExists is returned when creating a group whose name is taken
	ErrGroupExists = errors.New("group already exists")
	// ErrWrongPassword is returned by AuthUser when the secret doesn't match
	ErrWrongPassword = errors.New("wrong password")
)
