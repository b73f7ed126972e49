package vfs

import (
	"testing"

	"tideos/pkg/users"
)

func statisticsWith(permissions Permissions, user users.UserID, group users.GroupID) Statistics {
	return Statistics{Kind: KindFile, Permissions: permissions, User: user, Group: group}
}

func TestCheckAccessOwner(t *testing.T) {
	authority := users.NewStore()
	s := statisticsWith(0o600, 10, 20)

	if err := CheckAccess(s, 10, 20, authority, ReadWrite); err != nil {
		t.Fatalf("owner denied: %v", err)
	}
	if err := CheckAccess(s, 11, 21, authority, ReadOnly); err != ErrPermissionDenied {
		t.Fatalf("stranger got in: %v", err)
	}
}

func TestCheckAccessOwnerFallsThrough(t *testing.T) {
	// The policy is a literal disjunction: an owner whose owner triplet
	// denies the access still passes when the others triplet grants it.
	authority := users.NewStore()
	s := statisticsWith(0o044, 10, 20)

	if err := CheckAccess(s, 10, 99, authority, ReadOnly); err != nil {
		t.Fatalf("owner not granted through others triplet: %v", err)
	}
}

func TestCheckAccessGroup(t *testing.T) {
	authority := users.NewStore()
	s := statisticsWith(0o640, 10, 20)

	// Primary group membership.
	if err := CheckAccess(s, 11, 20, authority, ReadOnly); err != nil {
		t.Fatalf("primary group member denied: %v", err)
	}
	// Membership through the authority store.
	authority.AddMember(12, 20)
	if err := CheckAccess(s, 12, 99, authority, ReadOnly); err != nil {
		t.Fatalf("authority group member denied: %v", err)
	}
	// Write is not in the group triplet.
	if err := CheckAccess(s, 11, 20, authority, WriteOnly); err != ErrPermissionDenied {
		t.Fatalf("group member wrote: %v", err)
	}
}

func TestCheckAccessGroupBeforeOthers(t *testing.T) {
	// A group member is judged by the group triplet even when others is
	// more permissive for a different bit combination.
	authority := users.NewStore()
	s := statisticsWith(0o604, 10, 20)

	// Group triplet is empty; member falls through to others, which grants
	// read.
	if err := CheckAccess(s, 11, 20, authority, ReadOnly); err != nil {
		t.Fatalf("read denied: %v", err)
	}
}

func TestCheckAccessRoot(t *testing.T) {
	authority := users.NewStore()
	s := statisticsWith(0o000, 10, 20)

	if err := CheckAccess(s, users.Root, users.RootGroup, authority, ReadWrite); err != nil {
		t.Fatalf("root denied: %v", err)
	}
}

func TestCheckAccessOthersBit(t *testing.T) {
	authority := users.NewStore()

	if err := CheckAccess(statisticsWith(0o640, 10, 20), 30, 40, authority, ReadOnly); err != ErrPermissionDenied {
		t.Fatalf("others read without bit: %v", err)
	}
	if err := CheckAccess(statisticsWith(0o644, 10, 20), 30, 40, authority, ReadOnly); err != nil {
		t.Fatalf("others read with bit: %v", err)
	}
}

func TestCheckAccessNoAccessBits(t *testing.T) {
	authority := users.NewStore()
	s := statisticsWith(0o777, 10, 20)

	if err := CheckAccess(s, 10, 20, authority, Create); err != ErrInvalidParameter {
		t.Fatalf("flags without access mode: %v", err)
	}
}

func TestCanChangeOwner(t *testing.T) {
	if !CanChangeOwner(users.Root, 42) {
		t.Error("root refused")
	}
	if !CanChangeOwner(42, 42) {
		t.Error("self-assignment refused")
	}
	if CanChangeOwner(42, 43) {
		t.Error("ordinary user granted")
	}
}
