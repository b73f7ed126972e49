package vfs

import "tideos/pkg/task"

// FileID indexes one backend's open-file table. The top bit discriminates
// directory handles from file handles so both can share a table without
// colliding. Identifiers 0 through 2 are reserved for the standard streams.
type FileID uint32

// fileIDBits is the width of a FileID. The packing scheme for local and
// unique identifiers derives its shift from this constant, so the layout
// scales with the identifier width rather than hard-coding 32.
const fileIDBits = 32

// Reserved file identifiers.
const (
	Stdin  FileID = 0
	Stdout FileID = 1
	Stderr FileID = 2

	// MinimumFile is the first identifier a backend may hand out for a
	// regular open.
	MinimumFile FileID = 3

	// directoryFlag marks a handle as a directory iterator.
	directoryFlag FileID = 1 << (fileIDBits - 1)
)

// IsDirectory reports whether the identifier names a directory iterator.
func (f FileID) IsDirectory() bool { return f&directoryFlag != 0 }

// AsDirectory returns the identifier with the directory discriminator set.
func (f FileID) AsDirectory() FileID { return f | directoryFlag }

// AsFile returns the identifier with the directory discriminator cleared.
func (f FileID) AsFile() FileID { return f &^ directoryFlag }

// FileSystemID indexes the Router's mount table.
type FileSystemID uint32

// Reserved filesystem identifiers for the Router's built-in backends.
const (
	PipeFileSystem   FileSystemID = 0
	DeviceFileSystem FileSystemID = 1

	// MinimumFileSystem is the first identifier assigned to a mounted
	// backend.
	MinimumFileSystem FileSystemID = 2
)

// LocalFileID keys a backend's per-task open-file table: the owning task in
// the high half, the FileID in the low half.
type LocalFileID uint64

// NewLocalFileID packs a task and file identifier.
func NewLocalFileID(t task.ID, f FileID) LocalFileID {
	return LocalFileID(t)<<fileIDBits | LocalFileID(f)
}

// Split recovers the task and file halves exactly.
func (l LocalFileID) Split() (task.ID, FileID) {
	return task.ID(l >> fileIDBits), FileID(l)
}

// Task returns the owning task.
func (l LocalFileID) Task() task.ID { return task.ID(l >> fileIDBits) }

// File returns the file half.
func (l LocalFileID) File() FileID { return FileID(l) }

// IntoUnique rebuilds the caller-visible identifier. Local and unique
// identifiers share their low-order FileID bits, so only the filesystem
// half is needed.
func (l LocalFileID) IntoUnique(fs FileSystemID) UniqueFileID {
	return NewUniqueFileID(fs, l.File())
}

// UniqueFileID is the handle returned to Router callers: the owning
// backend's FileSystemID in the high half, the FileID in the low half.
// It is globally meaningful across backends but opaque to the caller.
type UniqueFileID uint64

// NewUniqueFileID packs a filesystem and file identifier.
func NewUniqueFileID(fs FileSystemID, f FileID) UniqueFileID {
	return UniqueFileID(fs)<<fileIDBits | UniqueFileID(f)
}

// Split recovers the filesystem and file halves exactly.
func (u UniqueFileID) Split() (FileSystemID, FileID) {
	return FileSystemID(u >> fileIDBits), FileID(u)
}

// FileSystem returns the owning backend's identifier.
func (u UniqueFileID) FileSystem() FileSystemID { return FileSystemID(u >> fileIDBits) }

// File returns the file half.
func (u UniqueFileID) File() FileID { return FileID(u) }

// IntoLocal rebuilds the backend-side identifier for the calling task.
func (u UniqueFileID) IntoLocal(t task.ID) LocalFileID {
	return NewLocalFileID(t, u.File())
}
