package device

import (
	"errors"
	"sync"
	"time"
)

// Common errors.
var (
	ErrBusy        = errors.New("device: resource busy")
	ErrClosed      = errors.New("device: device is closed")
	ErrOutOfBounds = errors.New("device: read/write exceeds device capacity")
	ErrInvalidSeek = errors.New("device: invalid seek")
	ErrNotSupport  = errors.New("device: operation not supported")
	ErrInput       = errors.New("device: input/output error")
)

// Whence values for SetPosition.
const (
	Start = iota
	Current
	End
)

// Device is the capability surface a concrete storage implementation
// exposes: positioned reads and writes over a byte stream, plus optional
// block-oriented operations. Implementations that are not block-oriented
// return ErrNotSupport from Erase and GetBlockSize.
type Device interface {
	// Read reads up to len(buffer) bytes at the current position and
	// advances it. It returns the number of bytes read.
	Read(buffer []byte) (int, error)

	// Write writes len(buffer) bytes at the current position and advances
	// it. It returns the number of bytes written.
	Write(buffer []byte) (int, error)

	// GetSize returns the device capacity in bytes.
	GetSize() (uint64, error)

	// SetPosition moves the device position and returns the new absolute
	// position.
	SetPosition(whence int, offset int64) (uint64, error)

	// Flush commits buffered writes to the media.
	Flush() error

	// Erase erases the block containing the current position.
	Erase() error

	// GetBlockSize returns the media's block size in bytes.
	GetBlockSize() (int, error)
}

// Metadata is the wrapper state carried alongside a device: ownership,
// permission bits and the three POSIX timestamps.
type Metadata struct {
	User             uint32
	Group            uint32
	Permissions      uint16
	AccessTime       time.Time
	ModificationTime time.Time
	ChangeTime       time.Time
}

// Entry wraps a concrete Device with metadata mutated atomically with each
// operation. Every call acquires the entry's lock, delegates, then updates
// the relevant timestamps before releasing: access time on every
// read/write/seek, modification time only on write, change time only on
// metadata mutation. Contention is reported as ErrBusy rather than
// blocking, which enables the spin-retry pattern used by synchronous flash
// callbacks.
type Entry struct {
	mu       sync.Mutex
	device   Device
	metadata Metadata
}

// NewEntry wraps a device with initial ownership and permissions.
func NewEntry(d Device, user, group uint32, permissions uint16) *Entry {
	now := time.Now()
	return &Entry{
		device: d,
		metadata: Metadata{
			User:             user,
			Group:            group,
			Permissions:      permissions,
			AccessTime:       now,
			ModificationTime: now,
			ChangeTime:       now,
		},
	}
}

// lock acquires the entry lock without blocking. ErrBusy means another
// operation holds it; callers retry or surface the condition.
func (e *Entry) lock() error {
	if !e.mu.TryLock() {
		return ErrBusy
	}
	return nil
}

// Read reads from the device, touching the access time.
func (e *Entry) Read(buffer []byte) (int, error) {
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	n, err := e.device.Read(buffer)
	if err != nil {
		return n, err
	}
	e.metadata.AccessTime = time.Now()
	return n, nil
}

// Write writes to the device, touching the access and modification times.
func (e *Entry) Write(buffer []byte) (int, error) {
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	n, err := e.device.Write(buffer)
	if err != nil {
		return n, err
	}
	now := time.Now()
	e.metadata.AccessTime = now
	e.metadata.ModificationTime = now
	return n, nil
}

// GetSize returns the device capacity.
func (e *Entry) GetSize() (uint64, error) {
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	return e.device.GetSize()
}

// SetPosition moves the device position, touching the access time.
func (e *Entry) SetPosition(whence int, offset int64) (uint64, error) {
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	pos, err := e.device.SetPosition(whence, offset)
	if err != nil {
		return pos, err
	}
	e.metadata.AccessTime = time.Now()
	return pos, nil
}

// Flush commits buffered writes.
func (e *Entry) Flush() error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	return e.device.Flush()
}

// Erase erases the block at the current position.
func (e *Entry) Erase() error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	return e.device.Erase()
}

// GetBlockSize returns the media's block size.
func (e *Entry) GetBlockSize() (int, error) {
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	return e.device.GetBlockSize()
}

// Metadata returns a copy of the wrapper state.
func (e *Entry) Metadata() (Metadata, error) {
	if err := e.lock(); err != nil {
		return Metadata{}, err
	}
	defer e.mu.Unlock()
	return e.metadata, nil
}

// SetPermissions replaces the permission bits, touching the change time.
func (e *Entry) SetPermissions(permissions uint16) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.metadata.Permissions = permissions
	e.metadata.ChangeTime = time.Now()
	return nil
}

// SetOwner replaces the owning user and group, touching the change time.
func (e *Entry) SetOwner(user, group uint32) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.metadata.User = user
	e.metadata.Group = group
	e.metadata.ChangeTime = time.Now()
	return nil
}
