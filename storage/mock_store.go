package storage

import (
	"github.com/stretchr/testify/mock"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

// GetUser implements the Store interface
func (m *MockStore) GetUser(username string) (*User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

// AuthUser implements the Store interface
func (m *MockStore) AuthUser(username, password string) (*User, error) {
	args := m.Called(username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

// AddUser implements the Store interface
func (m *MockStore) AddUser(user User) error {
	args := m.Called(user)
	return args.Error(0)
}

// EditUser implements the Store interface
func (m *MockStore) EditUser(user User) error {
	args := m.Called(user)
	return args.Error(0)
}

// IsAdmin implements the Store interface
func (m *MockStore) IsAdmin(username string, entryID int) (bool, error) {
	args := m.Called(username, entryID)
	return args.Bool(0), args.Error(1)
}

// IsAllowedToEdit implements the Store interface
func (m *MockStore) IsAllowedToEdit(username string, entryID int) (bool, error) {
	args := m.Called(username, entryID)
	return args.Bool(0), args.Error(1)
}

// MakeAdmin implements the Store interface
func (m *MockStore) MakeAdmin(username string, entryID int) error {
	args := m.Called(username, entryID)
	return args.Error(0)
}

// AddEntry implements the Store interface
func (m *MockStore) AddEntry(entry Entry, creator string) (int, error) {
	args := m.Called(entry, creator)
	return args.Int(0), args.Error(1)
}

// GetEntry implements the Store interface
func (m *MockStore) GetEntry(entryID int) (*Entry, error) {
	args := m.Called(entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Entry), args.Error(1)
}

// EditEntry implements the Store interface
func (m *MockStore) EditEntry(entry Entry) error {
	args := m.Called(entry)
	return args.Error(0)
}

// DeleteEntry implements the Store interface
func (m *MockStore) DeleteEntry(entryID int) error {
	args := m.Called(entryID)
	return args.Error(0)
}

// InviteUser implements the Store interface
func (m *MockStore) InviteUser(inviter, username string, entryID int) error {
	args := m.Called(inviter, username, entryID)
	return args.Error(0)
}

// InviteGroup implements the Store interface
func (m *MockStore) InviteGroup(inviter, groupname string, entryID int) error {
	args := m.Called(inviter, groupname, entryID)
	return args.Error(0)
}

// HideEntry implements the Store interface
func (m *MockStore) HideEntry(username string, entryID int) error {
	args := m.Called(username, entryID)
	return args.Error(0)
}

// HideEntryForGroup implements the Store interface
func (m *MockStore) HideEntryForGroup(groupname string, entryID int) error {
	args := m.Called(groupname, entryID)
	return args.Error(0)
}

// AddGroup implements the Store interface
func (m *MockStore) AddGroup(group Group) error {
	args := m.Called(group)
	return args.Error(0)
}

// GetGroup implements the Store interface
func (m *MockStore) GetGroup(groupname string) (*Group, error) {
	args := m.Called(groupname)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Group), args.Error(1)
}

// IsMemberOf implements the Store interface
func (m *MockStore) IsMemberOf(groupname, username string) (bool, error) {
	args := m.Called(groupname, username)
	return args.Bool(0), args.Error(1)
}

// AddUserToGroup implements the Store interface
func (m *MockStore) AddUserToGroup(username, groupname string) error {
	args := m.Called(username, groupname)
	return args.Error(0)
}

// RemoveUserFromGroup implements the Store interface
func (m *MockStore) RemoveUserFromGroup(username, groupname string) error {
	args := m.Called(username, groupname)
	return args.Error(0)
}

// UserCalendar implements the Store interface
func (m *MockStore) UserCalendar(username string) ([]Entry, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Entry), args.Error(1)
}

// Going implements the Store interface
func (m *MockStore) Going(username string, entryID int) error {
	args := m.Called(username, entryID)
	return args.Error(0)
}

// NotGoing implements the Store interface
func (m *MockStore) NotGoing(username string, entryID int) error {
	args := m.Called(username, entryID)
	return args.Error(0)
}

// NotificationsFor implements the Store interface
func (m *MockStore) NotificationsFor(username string) ([]Notification, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Notification), args.Error(1)
}

// Close implements the Store interface
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
