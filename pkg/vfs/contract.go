package vfs

import (
	"time"

	"tideos/pkg/task"
	"tideos/pkg/users"
)

// FileSystem is the contract every pluggable storage backend implements.
// Every entry point takes the calling task so a single backend instance can
// serve many isolated tasks; Open and the creation operations additionally
// take the caller's user and group for permission evaluation.
//
// Implementations include flashfs (embedded flash) and memfs (in-memory).
// The Router never assumes more than this contract.
type FileSystem interface {
	// Open opens the file at path and returns a handle scoped to the
	// calling task. It performs the permission check for the requested
	// access before returning. now stamps access and, with Create, the
	// birth metadata.
	Open(path Path, flags Flags, now time.Time, t task.ID, user users.UserID, group users.GroupID) (LocalFileID, error)

	// Close releases a handle. Closing a handle twice returns
	// ErrInvalidIdentifier.
	Close(file LocalFileID) error

	// CloseAll releases every handle owned by a task. The scheduler calls
	// it when a task terminates.
	CloseAll(t task.ID) error

	// Duplicate returns a new handle for the same open file, owned by the
	// same task, with an independent position.
	Duplicate(file LocalFileID) (LocalFileID, error)

	// Transfer re-homes a handle to another task, returning the handle the
	// new owner must use. The original handle becomes invalid.
	Transfer(file LocalFileID, to task.ID) (LocalFileID, error)

	// Read reads up to len(buffer) bytes at the handle's position.
	Read(file LocalFileID, buffer []byte, now time.Time) (Size, error)

	// Write writes len(buffer) bytes at the handle's position. A short
	// write is reported as an error, never as success.
	Write(file LocalFileID, buffer []byte, now time.Time) (Size, error)

	// SetPosition moves the handle's position and returns the new absolute
	// position.
	SetPosition(file LocalFileID, position *Position) (Size, error)

	// Flush commits buffered writes for the handle.
	Flush(file LocalFileID) error

	// Remove deletes the file or empty directory at path.
	Remove(path Path) error

	// Rename moves oldPath to newPath within this backend.
	Rename(oldPath, newPath Path) error

	// CreateDirectory creates a directory at path owned by user and group.
	CreateDirectory(path Path, now time.Time, user users.UserID, group users.GroupID) error

	// OpenDirectory opens a directory iterator scoped to the calling task.
	// The returned identifier carries the directory discriminator.
	OpenDirectory(path Path, t task.ID) (LocalFileID, error)

	// ReadDirectory returns the next entry, or nil once exhausted.
	ReadDirectory(directory LocalFileID) (*Entry, error)

	// RewindDirectory resets the iterator to the first entry.
	RewindDirectory(directory LocalFileID) error

	// CloseDirectory releases a directory iterator.
	CloseDirectory(directory LocalFileID) error

	// GetStatistics returns the metadata of an open file.
	GetStatistics(file LocalFileID) (Statistics, error)

	// Stat returns the metadata of the entry at path without opening it.
	Stat(path Path) (Statistics, error)

	// SetPermissions replaces the permission bits of the entry at path.
	SetPermissions(path Path, permissions Permissions, now time.Time) error

	// SetOwner replaces the owning user and group of the entry at path.
	SetOwner(path Path, user users.UserID, group users.GroupID, now time.Time) error
}
