package vfs

import (
	"errors"
	"sync"

	"tideos/pkg/device"
	"tideos/pkg/task"
	"tideos/pkg/users"
)

// deviceNode is one device special file bound into the namespace.
type deviceNode struct {
	entry *device.Entry
	kind  Kind
}

// deviceHandle is one descriptor on a device node.
type deviceHandle struct {
	node  *deviceNode
	flags Flags
	path  Path
}

// deviceTable is the Router-internal backend exposing raw devices as
// character and block special files. It occupies the reserved
// DeviceFileSystem identifier space.
type deviceTable struct {
	mu       sync.Mutex
	nodes    map[Path]*deviceNode
	files    map[LocalFileID]*deviceHandle
	nextFile FileID
}

func newDeviceTable() *deviceTable {
	return &deviceTable{
		nodes:    make(map[Path]*deviceNode),
		files:    make(map[LocalFileID]*deviceHandle),
		nextFile: MinimumFile,
	}
}

// classify probes the device for a block size to pick its kind.
func classify(entry *device.Entry) Kind {
	for {
		_, err := entry.GetBlockSize()
		switch {
		case errors.Is(err, device.ErrBusy):
			continue
		case err == nil:
			return KindBlockDevice
		default:
			return KindCharacterDevice
		}
	}
}

// add binds a device at path.
func (dt *deviceTable) add(path Path, entry *device.Entry) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if _, exists := dt.nodes[path]; exists {
		return ErrAlreadyExists
	}
	dt.nodes[path] = &deviceNode{entry: entry, kind: classify(entry)}
	return nil
}

// removeNode unbinds the device at path.
func (dt *deviceTable) removeNode(path Path) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	if _, ok := dt.nodes[path]; !ok {
		return ErrNotFound
	}
	delete(dt.nodes, path)
	return nil
}

// exists reports whether a device occupies path.
func (dt *deviceTable) exists(path Path) bool {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	_, ok := dt.nodes[path]
	return ok
}

func (dt *deviceTable) allocate() (FileID, error) {
	id := dt.nextFile
	if id.IsDirectory() {
		return 0, ErrTooManyOpenFiles
	}
	dt.nextFile++
	return id, nil
}

// metadataStatistics converts wrapper metadata into Statistics, retrying
// while the device lock is contended.
func (dt *deviceTable) metadataStatistics(node *deviceNode) (Statistics, error) {
	for {
		m, err := node.entry.Metadata()
		if errors.Is(err, device.ErrBusy) {
			continue
		}
		if err != nil {
			return Statistics{}, translateDevice(err)
		}

		var size Size
		for {
			s, err := node.entry.GetSize()
			if errors.Is(err, device.ErrBusy) {
				continue
			}
			if err == nil {
				size = Size(s)
			}
			break
		}

		return Statistics{
			FileSystem:       DeviceFileSystem,
			Size:             size,
			AccessTime:       m.AccessTime,
			ModificationTime: m.ModificationTime,
			ChangeTime:       m.ChangeTime,
			Kind:             node.kind,
			Permissions:      Permissions(m.Permissions),
			User:             users.UserID(m.User),
			Group:            users.GroupID(m.Group),
		}, nil
	}
}

// open opens a descriptor on the device at path after a permission check.
func (dt *deviceTable) open(path Path, flags Flags, t task.ID, user users.UserID, group users.GroupID, authority users.Authority) (LocalFileID, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	node, ok := dt.nodes[path]
	if !ok {
		return 0, ErrNotFound
	}
	statistics, err := dt.metadataStatistics(node)
	if err != nil {
		return 0, err
	}
	if err := CheckAccess(statistics, user, group, authority, flags); err != nil {
		return 0, err
	}

	id, err := dt.allocate()
	if err != nil {
		return 0, err
	}
	local := NewLocalFileID(t, id)
	dt.files[local] = &deviceHandle{node: node, flags: flags, path: path}
	return local, nil
}

func (dt *deviceTable) lookup(file LocalFileID) (*deviceHandle, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	h, ok := dt.files[file]
	if !ok {
		return nil, ErrInvalidIdentifier
	}
	return h, nil
}

func (dt *deviceTable) close(file LocalFileID) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	if _, ok := dt.files[file]; !ok {
		return ErrInvalidIdentifier
	}
	delete(dt.files, file)
	return nil
}

func (dt *deviceTable) closeAll(t task.ID) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	for id := range dt.files {
		if id.Task() == t {
			delete(dt.files, id)
		}
	}
}

func (dt *deviceTable) duplicate(file LocalFileID) (LocalFileID, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	h, ok := dt.files[file]
	if !ok {
		return 0, ErrInvalidIdentifier
	}
	id, err := dt.allocate()
	if err != nil {
		return 0, err
	}
	dup := *h
	local := NewLocalFileID(file.Task(), id)
	dt.files[local] = &dup
	return local, nil
}

func (dt *deviceTable) transfer(file LocalFileID, to task.ID) (LocalFileID, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	h, ok := dt.files[file]
	if !ok {
		return 0, ErrInvalidIdentifier
	}
	id, err := dt.allocate()
	if err != nil {
		return 0, err
	}
	local := NewLocalFileID(to, id)
	dt.files[local] = h
	delete(dt.files, file)
	return local, nil
}

// translateDevice maps device package errors into the taxonomy.
func translateDevice(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, device.ErrBusy):
		return ErrResourceBusy
	case errors.Is(err, device.ErrClosed):
		return ErrInvalidIdentifier
	case errors.Is(err, device.ErrOutOfBounds):
		return ErrNoSpaceLeft
	case errors.Is(err, device.ErrInvalidSeek):
		return ErrInvalidParameter
	case errors.Is(err, device.ErrNotSupport):
		return ErrUnsupportedOperation
	default:
		return ErrInputOutput
	}
}

// retryDevice runs op until the device lock stops reporting contention.
// Busy is a short-lived condition by contract, so spinning here is bounded.
func retryDevice(op func() error) error {
	for {
		err := op()
		if errors.Is(err, device.ErrBusy) {
			continue
		}
		return err
	}
}
