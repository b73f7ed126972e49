package vfs

import (
	"time"

	"tideos/pkg/users"
)

// Size is a byte count or byte position reported by VFS operations.
type Size uint64

// Inode identifies an entry within one backend.
type Inode uint64

// Kind classifies a namespace entry.
type Kind uint8

// Entry kinds.
const (
	KindFile Kind = iota
	KindDirectory
	KindBlockDevice
	KindCharacterDevice
	KindPipe
	KindSocket
	KindSymbolicLink
)

// String returns a short human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindBlockDevice:
		return "block device"
	case KindCharacterDevice:
		return "character device"
	case KindPipe:
		return "pipe"
	case KindSocket:
		return "socket"
	case KindSymbolicLink:
		return "symbolic link"
	default:
		return "unknown"
	}
}

// Permission is one rwx triplet.
type Permission uint8

// Permission bits within a triplet.
const (
	PermissionExecute Permission = 1 << iota
	PermissionWrite
	PermissionRead
)

// Read reports whether the read bit is set.
func (p Permission) Read() bool { return p&PermissionRead != 0 }

// Write reports whether the write bit is set.
func (p Permission) Write() bool { return p&PermissionWrite != 0 }

// Execute reports whether the execute bit is set.
func (p Permission) Execute() bool { return p&PermissionExecute != 0 }

// Permissions packs the owner, group and others triplets plus the
// set-owner-on-execute bit, in the conventional octal layout.
type Permissions uint16

// Special permission bits.
const (
	PermissionsSetOwner Permissions = 0o4000
	permissionsMask     Permissions = 0o7777
)

// NewPermissions packs three triplets.
func NewPermissions(owner, group, others Permission) Permissions {
	return Permissions(owner&7)<<6 | Permissions(group&7)<<3 | Permissions(others&7)
}

// Owner returns the owner triplet.
func (p Permissions) Owner() Permission { return Permission(p>>6) & 7 }

// Group returns the group triplet.
func (p Permissions) Group() Permission { return Permission(p>>3) & 7 }

// Others returns the others triplet.
func (p Permissions) Others() Permission { return Permission(p) & 7 }

// SetOwnerOnExecute reports whether the set-owner bit is set.
func (p Permissions) SetOwnerOnExecute() bool { return p&PermissionsSetOwner != 0 }

// Statistics is the backend-agnostic metadata record returned by attribute
// reads.
type Statistics struct {
	FileSystem       FileSystemID
	Inode            Inode
	Links            uint32
	Size             Size
	AccessTime       time.Time
	ModificationTime time.Time
	ChangeTime       time.Time
	Kind             Kind
	Permissions      Permissions
	User             users.UserID
	Group            users.GroupID
}

// Entry is one directory-listing record. Entries are produced transiently
// while iterating a directory and never persisted.
type Entry struct {
	Inode Inode
	Name  string
	Kind  Kind
	Size  Size
}

// Flags control how a file is opened.
type Flags int

// Access mode bits. Exactly one of ReadOnly, WriteOnly or ReadWrite must be
// present in every open call.
const (
	ReadOnly  Flags = 0x1
	WriteOnly Flags = 0x2
	ReadWrite Flags = ReadOnly | WriteOnly

	accessMask Flags = 0x3
)

// Behavior bits.
const (
	Create    Flags = 0x0100
	Exclusive Flags = 0x0200
	Truncate  Flags = 0x0400
	Append    Flags = 0x0800
)

// Access returns only the access-mode bits.
func (f Flags) Access() Flags { return f & accessMask }

// Readable reports whether the flags permit reading.
func (f Flags) Readable() bool { return f&ReadOnly != 0 }

// Writable reports whether the flags permit writing.
func (f Flags) Writable() bool { return f&WriteOnly != 0 }

// Valid reports whether the access mode is well formed.
func (f Flags) Valid() bool {
	a := f.Access()
	return a == ReadOnly || a == WriteOnly || a == ReadWrite
}

// Whence anchors a position change.
type Whence uint8

// Position anchors.
const (
	Start Whence = iota
	Current
	End
)

// Position describes a seek request.
type Position struct {
	Whence Whence
	Offset int64
}

// PositionFromStart is shorthand for an absolute seek.
func PositionFromStart(offset uint64) *Position {
	return &Position{Whence: Start, Offset: int64(offset)}
}
