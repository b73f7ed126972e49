package vfs

import (
	"time"

	"tideos/pkg/device"
	"tideos/pkg/task"
	"tideos/pkg/users"
)

// CreateFile creates an empty file at path owned by the calling task's
// user. It fails if anything already occupies path.
func (r *Router) CreateFile(path Path, t task.ID) error {
	file, err := r.Open(path, WriteOnly|Create|Exclusive, t)
	if err != nil {
		return err
	}
	return r.Close(file, t)
}

// CreateDirectory creates a directory at path owned by the calling task's
// user.
func (r *Router) CreateDirectory(path Path, t task.ID) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	user, group, err := r.owner(t)
	if err != nil {
		return err
	}
	m, rest, err := r.resolve(path)
	if err != nil {
		return err
	}
	return m.fs.CreateDirectory(rest, time.Now(), user, group)
}

// OpenDirectory opens a directory iterator at path.
func (r *Router) OpenDirectory(path Path, t task.ID) (UniqueFileID, error) {
	if !path.Valid() {
		return 0, ErrInvalidPath
	}
	m, rest, err := r.resolve(path)
	if err != nil {
		return 0, err
	}
	local, err := m.fs.OpenDirectory(rest, t)
	if err != nil {
		return 0, err
	}
	return local.IntoUnique(m.id), nil
}

// ReadDirectory returns the next entry of an open directory, or nil once
// the listing is exhausted.
func (r *Router) ReadDirectory(directory UniqueFileID, t task.ID) (*Entry, error) {
	m, err := r.mountByID(directory.FileSystem())
	if err != nil {
		return nil, err
	}
	return m.fs.ReadDirectory(directory.IntoLocal(t))
}

// RewindDirectory resets an open directory iterator to its first entry.
func (r *Router) RewindDirectory(directory UniqueFileID, t task.ID) error {
	m, err := r.mountByID(directory.FileSystem())
	if err != nil {
		return err
	}
	return m.fs.RewindDirectory(directory.IntoLocal(t))
}

// Remove deletes the entry at path. Directories must be empty; named pipes
// and static devices are unbound from the namespace.
func (r *Router) Remove(path Path, t task.ID) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	path = Clean(path)

	if _, _, err := r.owner(t); err != nil {
		return err
	}

	if r.pipes.exists(path) {
		return r.pipes.remove(path)
	}
	if r.devices.exists(path) {
		return r.devices.removeNode(path)
	}

	m, rest, err := r.resolve(path)
	if err != nil {
		return err
	}
	return m.fs.Remove(rest)
}

// Delete deletes the entry at path. With recursive set, directories are
// emptied depth-first before removal.
func (r *Router) Delete(path Path, recursive bool, t task.ID) error {
	if !recursive {
		return r.Remove(path, t)
	}
	if !path.Valid() {
		return ErrInvalidPath
	}
	path = Clean(path)

	statistics, err := r.Stat(path)
	if err != nil {
		return err
	}
	if statistics.Kind != KindDirectory {
		return r.Remove(path, t)
	}

	m, rest, err := r.resolve(path)
	if err != nil {
		return err
	}
	if err := r.deleteTree(m, rest, t); err != nil {
		return err
	}
	return nil
}

// deleteTree removes rest and everything below it on one backend.
func (r *Router) deleteTree(m mount, rest Path, t task.ID) error {
	statistics, err := m.fs.Stat(rest)
	if err != nil {
		return err
	}
	if statistics.Kind == KindDirectory {
		names, err := r.listNames(m, rest, t)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := r.deleteTree(m, rest.Join(name), t); err != nil {
				return err
			}
		}
	}
	return m.fs.Remove(rest)
}

// listNames snapshots the child names of a directory so removal does not
// race the iterator.
func (r *Router) listNames(m mount, rest Path, t task.ID) ([]string, error) {
	dir, err := m.fs.OpenDirectory(rest, t)
	if err != nil {
		return nil, err
	}
	defer m.fs.CloseDirectory(dir)

	var names []string
	for {
		entry, err := m.fs.ReadDirectory(dir)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return names, nil
		}
		names = append(names, entry.Name)
	}
}

// Rename moves oldPath to newPath. Both paths must live on the same
// backend; cross-backend moves are a copy the caller performs.
func (r *Router) Rename(oldPath, newPath Path, t task.ID) error {
	if !oldPath.Valid() || !newPath.Valid() {
		return ErrInvalidPath
	}
	if _, _, err := r.owner(t); err != nil {
		return err
	}

	oldMount, oldRest, err := r.resolve(oldPath)
	if err != nil {
		return err
	}
	newMount, newRest, err := r.resolve(newPath)
	if err != nil {
		return err
	}
	if oldMount.id != newMount.id {
		return ErrUnsupportedOperation
	}
	return oldMount.fs.Rename(oldRest, newRest)
}

// CreateNamedPipe registers a pipe at path, owned by the calling task's
// user. capacity of zero selects the default ring size.
func (r *Router) CreateNamedPipe(path Path, capacity uint, t task.ID) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	user, group, err := r.owner(t)
	if err != nil {
		return err
	}
	path = Clean(path)
	if r.devices.exists(path) {
		return ErrAlreadyExists
	}
	// A pipe must not shadow an entry already living on a mounted backend.
	if m, rest, err := r.resolve(path); err == nil {
		if _, err := m.fs.Stat(rest); err == nil {
			return ErrAlreadyExists
		}
	}
	if err := r.pipes.createNamed(path, capacity, user, group); err != nil {
		return err
	}
	r.log.Debug().Str("path", path.String()).Msg("named pipe created")
	return nil
}

// CreateUnnamedPipe builds a connected pipe and returns its read and write
// descriptors, both owned by the calling task.
func (r *Router) CreateUnnamedPipe(t task.ID, capacity uint) (UniqueFileID, UniqueFileID, error) {
	if _, _, err := r.owner(t); err != nil {
		return 0, 0, err
	}
	readLocal, writeLocal, err := r.pipes.createUnnamed(t, capacity)
	if err != nil {
		return 0, 0, err
	}
	return readLocal.IntoUnique(PipeFileSystem), writeLocal.IntoUnique(PipeFileSystem), nil
}

// SetPermissions replaces the permission bits of the entry at path. Only
// root or the entry's owner may do so.
func (r *Router) SetPermissions(path Path, permissions Permissions, t task.ID) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	user, _, err := r.owner(t)
	if err != nil {
		return err
	}
	statistics, err := r.Stat(path)
	if err != nil {
		return err
	}
	if !user.IsRoot() && statistics.User != user {
		return ErrPermissionDenied
	}

	path = Clean(path)
	if r.devices.exists(path) {
		return r.withDeviceNode(path, func(entry *device.Entry) error {
			return entry.SetPermissions(uint16(permissions))
		})
	}

	m, rest, err := r.resolve(path)
	if err != nil {
		return err
	}
	return m.fs.SetPermissions(rest, permissions, time.Now())
}

// SetOwner replaces the owning user and group of the entry at path. Only
// root, or an owner reassigning to themselves, may do so.
func (r *Router) SetOwner(path Path, newUser users.UserID, newGroup users.GroupID, t task.ID) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	user, _, err := r.owner(t)
	if err != nil {
		return err
	}
	statistics, err := r.Stat(path)
	if err != nil {
		return err
	}
	if !user.IsRoot() && statistics.User != user {
		return ErrPermissionDenied
	}
	if !CanChangeOwner(user, newUser) {
		return ErrPermissionDenied
	}

	path = Clean(path)
	if r.devices.exists(path) {
		return r.withDeviceNode(path, func(entry *device.Entry) error {
			return entry.SetOwner(uint32(newUser), uint32(newGroup))
		})
	}

	m, rest, err := r.resolve(path)
	if err != nil {
		return err
	}
	return m.fs.SetOwner(rest, newUser, newGroup, time.Now())
}

// withDeviceNode runs op against the wrapper of a static device node,
// retrying while the device lock is contended.
func (r *Router) withDeviceNode(path Path, op func(*device.Entry) error) error {
	r.devices.mu.Lock()
	node, ok := r.devices.nodes[path]
	r.devices.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := retryDevice(func() error { return op(node.entry) }); err != nil {
		return translateDevice(err)
	}
	return nil
}

// ReadFile opens path, reads it from the start to the end, and closes it.
func (r *Router) ReadFile(path Path, t task.ID) ([]byte, error) {
	file, err := r.Open(path, ReadOnly, t)
	if err != nil {
		return nil, err
	}
	defer r.Close(file, t)

	statistics, err := r.GetStatistics(file, t)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, statistics.Size)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(file, chunk, t)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return data, nil
		}
		data = append(data, chunk[:n]...)
	}
}

// WriteFile creates or truncates path and writes data in one call.
func (r *Router) WriteFile(path Path, data []byte, t task.ID) error {
	file, err := r.Open(path, WriteOnly|Create|Truncate, t)
	if err != nil {
		return err
	}
	if _, err := r.Write(file, data, t); err != nil {
		r.Close(file, t)
		return err
	}
	return r.Close(file, t)
}

// Default namespace layout created by Bootstrap.
var bootstrapDirectories = []Path{
	"/Devices",
	"/System",
	"/System/Users",
	"/System/Groups",
	"/Binaries",
}

// Bootstrap creates the default directory hierarchy on whichever backends
// cover it. It is idempotent: directories that already exist are kept.
func (r *Router) Bootstrap(t task.ID) error {
	for _, path := range bootstrapDirectories {
		err := r.CreateDirectory(path, t)
		if err == nil || err == ErrAlreadyExists {
			continue
		}
		return err
	}
	r.log.Info().Msg("namespace bootstrapped")
	return nil
}
