package vfs

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tideos/pkg/device"
	"tideos/pkg/task"
	"tideos/pkg/users"
)

// mount binds a namespace prefix to a backend.
type mount struct {
	prefix Path
	id     FileSystemID
	fs     FileSystem
}

// Router is the top-level multiplexer: it mounts backend instances and raw
// devices into one namespace, tracks per-task descriptors, enforces the
// permission policy and translates between the identifier spaces.
//
// A Router is an explicit context object: construct one at startup and
// thread it through callers. Tests build as many independent instances as
// they need.
type Router struct {
	log       zerolog.Logger
	scheduler task.Scheduler
	authority users.Authority

	mu     sync.Mutex // guards the mount table
	mounts []mount
	nextFS FileSystemID

	pipes   *pipeTable
	devices *deviceTable
}

// Option configures a Router.
type Option func(*Router)

// WithLogger replaces the default silent logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Router) { r.log = logger }
}

// NewRouter creates an empty Router. The scheduler supplies caller identity
// for permission checks; the authority store answers group membership.
func NewRouter(scheduler task.Scheduler, authority users.Authority, options ...Option) *Router {
	r := &Router{
		log:       zerolog.Nop(),
		scheduler: scheduler,
		authority: authority,
		nextFS:    MinimumFileSystem,
		pipes:     newPipeTable(),
		devices:   newDeviceTable(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// owner resolves the effective user and primary group of a task.
func (r *Router) owner(t task.ID) (users.UserID, users.GroupID, error) {
	u, g, err := r.scheduler.Owner(t)
	if err != nil {
		return 0, 0, ErrInvalidIdentifier
	}
	return users.UserID(u), users.GroupID(g), nil
}

// Mount registers a backend under a namespace prefix and returns its
// filesystem identifier. Mounting an already-bound prefix fails with
// ErrAlreadyExists.
func (r *Router) Mount(prefix Path, fs FileSystem) (FileSystemID, error) {
	if !prefix.Valid() {
		return 0, ErrInvalidPath
	}
	prefix = Clean(prefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.mounts {
		if m.prefix == prefix {
			return 0, ErrAlreadyExists
		}
	}

	id := r.nextFS
	r.nextFS++
	r.mounts = append(r.mounts, mount{prefix: prefix, id: id, fs: fs})

	r.log.Info().Str("prefix", prefix.String()).Uint32("filesystem", uint32(id)).Msg("mounted")
	return id, nil
}

// Unmount removes the backend bound at prefix. Backends exposing an
// Unmount method are flushed and detached.
func (r *Router) Unmount(prefix Path) error {
	if !prefix.Valid() {
		return ErrInvalidPath
	}
	prefix = Clean(prefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.mounts {
		if m.prefix != prefix {
			continue
		}
		r.mounts = append(r.mounts[:i], r.mounts[i+1:]...)
		if u, ok := m.fs.(interface{ Unmount() error }); ok {
			return u.Unmount()
		}
		return nil
	}
	return ErrNotFound
}

// MountStaticDevice binds a device special file at path. The binding task
// must exist; the device appears with its wrapper's ownership and
// permissions.
func (r *Router) MountStaticDevice(t task.ID, path Path, entry *device.Entry) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	if _, _, err := r.owner(t); err != nil {
		return err
	}

	path = Clean(path)
	if err := r.devices.add(path, entry); err != nil {
		return err
	}
	r.log.Info().Str("path", path.String()).Msg("static device mounted")
	return nil
}

// resolve finds the longest mounted prefix covering path and the remainder
// to hand to that backend.
func (r *Router) resolve(path Path) (mount, Path, error) {
	path = Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	best := -1
	bestLen := -1
	for i, m := range r.mounts {
		if !path.HasPrefix(m.prefix) {
			continue
		}
		l := len(m.prefix.Components())
		if l > bestLen {
			best = i
			bestLen = l
		}
	}
	if best < 0 {
		return mount{}, "", ErrNotFound
	}
	return r.mounts[best], path.TrimPrefix(r.mounts[best].prefix), nil
}

// mountByID finds a mounted backend by filesystem identifier.
func (r *Router) mountByID(id FileSystemID) (mount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mounts {
		if m.id == id {
			return m, nil
		}
	}
	return mount{}, ErrInvalidIdentifier
}

// Open resolves path and opens it on the owning backend, returning the
// globally-unique descriptor. Named pipes and device special files take
// precedence over mounted prefixes.
func (r *Router) Open(path Path, flags Flags, t task.ID) (UniqueFileID, error) {
	if !path.Valid() {
		return 0, ErrInvalidPath
	}
	path = Clean(path)

	user, group, err := r.owner(t)
	if err != nil {
		return 0, err
	}

	if r.pipes.exists(path) {
		local, err := r.pipes.openNamed(path, flags, t, user, group, r.authority)
		if err != nil {
			return 0, err
		}
		return local.IntoUnique(PipeFileSystem), nil
	}

	if r.devices.exists(path) {
		local, err := r.devices.open(path, flags, t, user, group, r.authority)
		if err != nil {
			return 0, err
		}
		return local.IntoUnique(DeviceFileSystem), nil
	}

	m, rest, err := r.resolve(path)
	if err != nil {
		return 0, err
	}
	local, err := m.fs.Open(rest, flags, time.Now(), t, user, group)
	if err != nil {
		return 0, err
	}
	return local.IntoUnique(m.id), nil
}

// Close releases a descriptor. Closing twice fails with
// ErrInvalidIdentifier.
func (r *Router) Close(file UniqueFileID, t task.ID) error {
	switch file.FileSystem() {
	case PipeFileSystem:
		return r.pipes.close(file.IntoLocal(t))
	case DeviceFileSystem:
		return r.devices.close(file.IntoLocal(t))
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return err
	}
	if file.File().IsDirectory() {
		return m.fs.CloseDirectory(file.IntoLocal(t))
	}
	return m.fs.Close(file.IntoLocal(t))
}

// CloseAll releases every descriptor a task owns, across all backends.
func (r *Router) CloseAll(t task.ID) error {
	r.pipes.closeAll(t)
	r.devices.closeAll(t)

	r.mu.Lock()
	backends := make([]FileSystem, 0, len(r.mounts))
	for _, m := range r.mounts {
		backends = append(backends, m.fs)
	}
	r.mu.Unlock()

	for _, fs := range backends {
		if err := fs.CloseAll(t); err != nil {
			return err
		}
	}
	return nil
}

// Read reads from a descriptor into buffer.
func (r *Router) Read(file UniqueFileID, buffer []byte, t task.ID) (Size, error) {
	switch file.FileSystem() {
	case PipeFileSystem:
		h, err := r.pipes.lookup(file.IntoLocal(t))
		if err != nil {
			return 0, err
		}
		if !h.readable {
			return 0, ErrPermissionDenied
		}
		n, err := h.pipe.read(buffer)
		return Size(n), err

	case DeviceFileSystem:
		h, err := r.devices.lookup(file.IntoLocal(t))
		if err != nil {
			return 0, err
		}
		if !h.flags.Readable() {
			return 0, ErrPermissionDenied
		}
		var n int
		err = retryDevice(func() error {
			var rerr error
			n, rerr = h.node.entry.Read(buffer)
			return rerr
		})
		if err != nil {
			return 0, translateDevice(err)
		}
		return Size(n), nil
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return 0, err
	}
	return m.fs.Read(file.IntoLocal(t), buffer, time.Now())
}

// Write writes buffer through a descriptor.
func (r *Router) Write(file UniqueFileID, buffer []byte, t task.ID) (Size, error) {
	switch file.FileSystem() {
	case PipeFileSystem:
		h, err := r.pipes.lookup(file.IntoLocal(t))
		if err != nil {
			return 0, err
		}
		if !h.writable {
			return 0, ErrPermissionDenied
		}
		n, err := h.pipe.write(buffer)
		return Size(n), err

	case DeviceFileSystem:
		h, err := r.devices.lookup(file.IntoLocal(t))
		if err != nil {
			return 0, err
		}
		if !h.flags.Writable() {
			return 0, ErrPermissionDenied
		}
		var n int
		err = retryDevice(func() error {
			var werr error
			n, werr = h.node.entry.Write(buffer)
			return werr
		})
		if err != nil {
			return 0, translateDevice(err)
		}
		return Size(n), nil
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return 0, err
	}
	return m.fs.Write(file.IntoLocal(t), buffer, time.Now())
}

// SetPosition moves a descriptor's position. Pipes do not seek.
func (r *Router) SetPosition(file UniqueFileID, position *Position, t task.ID) (Size, error) {
	if position == nil {
		return 0, ErrInvalidParameter
	}

	switch file.FileSystem() {
	case PipeFileSystem:
		return 0, ErrUnsupportedOperation

	case DeviceFileSystem:
		h, err := r.devices.lookup(file.IntoLocal(t))
		if err != nil {
			return 0, err
		}
		var whence int
		switch position.Whence {
		case Start:
			whence = device.Start
		case Current:
			whence = device.Current
		case End:
			whence = device.End
		default:
			return 0, ErrInvalidParameter
		}
		var pos uint64
		err = retryDevice(func() error {
			var serr error
			pos, serr = h.node.entry.SetPosition(whence, position.Offset)
			return serr
		})
		if err != nil {
			return 0, translateDevice(err)
		}
		return Size(pos), nil
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return 0, err
	}
	return m.fs.SetPosition(file.IntoLocal(t), position)
}

// Flush commits buffered writes for a descriptor.
func (r *Router) Flush(file UniqueFileID, t task.ID) error {
	switch file.FileSystem() {
	case PipeFileSystem:
		if _, err := r.pipes.lookup(file.IntoLocal(t)); err != nil {
			return err
		}
		return nil

	case DeviceFileSystem:
		h, err := r.devices.lookup(file.IntoLocal(t))
		if err != nil {
			return err
		}
		if err := retryDevice(h.node.entry.Flush); err != nil {
			return translateDevice(err)
		}
		return nil
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return err
	}
	return m.fs.Flush(file.IntoLocal(t))
}

// Duplicate returns a second descriptor on the same open file.
func (r *Router) Duplicate(file UniqueFileID, t task.ID) (UniqueFileID, error) {
	switch file.FileSystem() {
	case PipeFileSystem:
		local, err := r.pipes.duplicate(file.IntoLocal(t))
		if err != nil {
			return 0, err
		}
		return local.IntoUnique(PipeFileSystem), nil

	case DeviceFileSystem:
		local, err := r.devices.duplicate(file.IntoLocal(t))
		if err != nil {
			return 0, err
		}
		return local.IntoUnique(DeviceFileSystem), nil
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return 0, err
	}
	local, err := m.fs.Duplicate(file.IntoLocal(t))
	if err != nil {
		return 0, err
	}
	return local.IntoUnique(m.id), nil
}

// Transfer re-homes a descriptor to another task.
func (r *Router) Transfer(file UniqueFileID, from, to task.ID) (UniqueFileID, error) {
	switch file.FileSystem() {
	case PipeFileSystem:
		local, err := r.pipes.transfer(file.IntoLocal(from), to)
		if err != nil {
			return 0, err
		}
		return local.IntoUnique(PipeFileSystem), nil

	case DeviceFileSystem:
		local, err := r.devices.transfer(file.IntoLocal(from), to)
		if err != nil {
			return 0, err
		}
		return local.IntoUnique(DeviceFileSystem), nil
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return 0, err
	}
	local, err := m.fs.Transfer(file.IntoLocal(from), to)
	if err != nil {
		return 0, err
	}
	return local.IntoUnique(m.id), nil
}

// GetStatistics returns the metadata behind an open descriptor.
func (r *Router) GetStatistics(file UniqueFileID, t task.ID) (Statistics, error) {
	switch file.FileSystem() {
	case PipeFileSystem:
		h, err := r.pipes.lookup(file.IntoLocal(t))
		if err != nil {
			return Statistics{}, err
		}
		if h.path != "" {
			return r.pipes.statistics(h.path)
		}
		return Statistics{FileSystem: PipeFileSystem, Kind: KindPipe, Size: Size(h.pipe.len())}, nil

	case DeviceFileSystem:
		h, err := r.devices.lookup(file.IntoLocal(t))
		if err != nil {
			return Statistics{}, err
		}
		return r.devices.metadataStatistics(h.node)
	}

	m, err := r.mountByID(file.FileSystem())
	if err != nil {
		return Statistics{}, err
	}
	statistics, err := m.fs.GetStatistics(file.IntoLocal(t))
	if err != nil {
		return Statistics{}, err
	}
	statistics.FileSystem = m.id
	return statistics, nil
}

// Stat returns the metadata of the entry at path without opening it.
func (r *Router) Stat(path Path) (Statistics, error) {
	if !path.Valid() {
		return Statistics{}, ErrInvalidPath
	}
	path = Clean(path)

	if r.pipes.exists(path) {
		return r.pipes.statistics(path)
	}
	if r.devices.exists(path) {
		r.devices.mu.Lock()
		node := r.devices.nodes[path]
		r.devices.mu.Unlock()
		if node != nil {
			return r.devices.metadataStatistics(node)
		}
	}

	m, rest, err := r.resolve(path)
	if err != nil {
		return Statistics{}, err
	}
	statistics, err := m.fs.Stat(rest)
	if err != nil {
		return Statistics{}, err
	}
	statistics.FileSystem = m.id
	return statistics, nil
}

// Exists reports whether path names anything in the namespace.
func (r *Router) Exists(path Path) bool {
	_, err := r.Stat(path)
	return err == nil
}

// GetType returns the kind of the entry at path.
func (r *Router) GetType(path Path) (Kind, error) {
	statistics, err := r.Stat(path)
	if err != nil {
		return 0, err
	}
	return statistics.Kind, nil
}

// GetSize returns the size of the entry at path.
func (r *Router) GetSize(path Path) (Size, error) {
	statistics, err := r.Stat(path)
	if err != nil {
		return 0, err
	}
	return statistics.Size, nil
}
