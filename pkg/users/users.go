// Package users defines the authority-store-facing types the storage core
// consumes: user and group identifiers and the group-membership query used
// by permission checks. The authority store itself (persistence under
// /System/Users and /System/Groups) is an external collaborator.
package users

import (
	"errors"
	"sync"
)

// Authority errors.
var (
	ErrUserNotFound  = errors.New("users: user not found")
	ErrGroupNotFound = errors.New("users: group not found")
)

// UserID identifies a user.
type UserID uint32

// GroupID identifies a group.
type GroupID uint32

// Root is the superuser; permission checks always grant it access.
const (
	Root      UserID  = 0
	RootGroup GroupID = 0
)

// IsRoot reports whether the user is the superuser.
func (u UserID) IsRoot() bool { return u == Root }

// Authority is the group-membership query surface consumed by permission
// checks.
type Authority interface {
	// IsMemberOf reports whether the user belongs to the group, either as
	// its primary group or through explicit membership.
	IsMemberOf(user UserID, group GroupID) (bool, error)
}

// Store is a minimal in-memory Authority used by tests and the demo binary.
type Store struct {
	mu      sync.RWMutex
	members map[GroupID]map[UserID]bool
}

// NewStore creates an empty authority store with root a member of the root
// group.
func NewStore() *Store {
	s := &Store{members: make(map[GroupID]map[UserID]bool)}
	s.members[RootGroup] = map[UserID]bool{Root: true}
	return s
}

// AddMember records that a user belongs to a group.
func (s *Store) AddMember(user UserID, group GroupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[group] == nil {
		s.members[group] = make(map[UserID]bool)
	}
	s.members[group][user] = true
}

// RemoveMember removes a user from a group.
func (s *Store) RemoveMember(user UserID, group GroupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[group]; ok {
		delete(m, user)
	}
}

// IsMemberOf implements Authority.
func (s *Store) IsMemberOf(user UserID, group GroupID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[group]
	if !ok {
		return false, nil
	}
	return m[user], nil
}
