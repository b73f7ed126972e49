package vfs

import "tideos/pkg/users"

// required converts open flags into the permission bits the caller must
// hold.
func required(flags Flags) Permission {
	var p Permission
	if flags.Readable() {
		p |= PermissionRead
	}
	if flags.Writable() {
		p |= PermissionWrite
	}
	return p
}

// covers reports whether the triplet grants every requested bit.
func covers(have, want Permission) bool { return have&want == want }

// CheckAccess evaluates the permission policy for an access request against
// an entry's metadata. The request is granted if the caller is root, or if
// the caller owns the entry and the owner triplet grants the access, or if
// the caller belongs to the entry's group (primary group or via the
// authority store) and the group triplet grants it, or if the others
// triplet grants it. The group clause is evaluated before others: a group
// member takes the group triplet's grant even when others is weaker.
func CheckAccess(statistics Statistics, user users.UserID, group users.GroupID, authority users.Authority, flags Flags) error {
	want := required(flags)
	if want == 0 {
		return ErrInvalidParameter
	}

	if user.IsRoot() {
		return nil
	}

	if statistics.User == user && covers(statistics.Permissions.Owner(), want) {
		return nil
	}

	member := group == statistics.Group
	if !member && authority != nil {
		var err error
		member, err = authority.IsMemberOf(user, statistics.Group)
		if err != nil {
			return ErrInternal
		}
	}
	if member && covers(statistics.Permissions.Group(), want) {
		return nil
	}

	if covers(statistics.Permissions.Others(), want) {
		return nil
	}

	return ErrPermissionDenied
}

// CanChangeOwner reports whether the effective user may take ownership of
// an entry through the set-owner-on-execute bit: only root, or a user who
// already equals the target owner, may do so.
func CanChangeOwner(effective users.UserID, target users.UserID) bool {
	return effective.IsRoot() || effective == target
}
