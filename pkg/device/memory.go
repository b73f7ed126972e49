package device

import "sync"

// MemoryDevice is a byte-addressable RAM-backed device with a fixed
// capacity and an advertised block size, suitable for backing a flash
// filesystem in tests and for ephemeral mounts.
type MemoryDevice struct {
	mu        sync.RWMutex
	data      []byte
	position  uint64
	blockSize int
	closed    bool
}

// NewMemoryDevice allocates a zeroed device of size bytes advertising the
// given block size. size must be a multiple of blockSize.
func NewMemoryDevice(size uint64, blockSize int) (*MemoryDevice, error) {
	if blockSize <= 0 || size == 0 || size%uint64(blockSize) != 0 {
		return nil, ErrOutOfBounds
	}
	return &MemoryDevice{
		data:      make([]byte, size),
		blockSize: blockSize,
	}, nil
}

// Read implements Device.
func (d *MemoryDevice) Read(buffer []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if d.position >= uint64(len(d.data)) {
		return 0, nil
	}

	n := copy(buffer, d.data[d.position:])
	d.position += uint64(n)
	return n, nil
}

// Write implements Device.
func (d *MemoryDevice) Write(buffer []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if d.position+uint64(len(buffer)) > uint64(len(d.data)) {
		return 0, ErrOutOfBounds
	}

	n := copy(d.data[d.position:], buffer)
	d.position += uint64(n)
	return n, nil
}

// GetSize implements Device.
func (d *MemoryDevice) GetSize() (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, ErrClosed
	}
	return uint64(len(d.data)), nil
}

// SetPosition implements Device.
func (d *MemoryDevice) SetPosition(whence int, offset int64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	var next int64
	switch whence {
	case Start:
		next = offset
	case Current:
		next = int64(d.position) + offset
	case End:
		next = int64(len(d.data)) + offset
	default:
		return 0, ErrInvalidSeek
	}

	if next < 0 || next > int64(len(d.data)) {
		return 0, ErrInvalidSeek
	}

	d.position = uint64(next)
	return d.position, nil
}

// Flush implements Device. Memory writes are immediately durable for the
// process lifetime, so this is a no-op.
func (d *MemoryDevice) Flush() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// Erase implements Device by filling the block containing the current
// position with the erased-flash pattern.
func (d *MemoryDevice) Erase() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	start := d.position - d.position%uint64(d.blockSize)
	end := start + uint64(d.blockSize)
	if end > uint64(len(d.data)) {
		return ErrOutOfBounds
	}

	for i := start; i < end; i++ {
		d.data[i] = 0xFF
	}
	return nil
}

// GetBlockSize implements Device.
func (d *MemoryDevice) GetBlockSize() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, ErrClosed
	}
	return d.blockSize, nil
}

// Close releases the device. Subsequent operations fail with ErrClosed.
func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// BusyDevice decorates a Device so that each operation fails with ErrBusy a
// configured number of times before delegating. It exists to exercise the
// retry loops in flash callbacks.
type BusyDevice struct {
	mu        sync.Mutex
	inner     Device
	remaining int
}

// NewBusyDevice wraps inner, failing the next `failures` operations.
func NewBusyDevice(inner Device, failures int) *BusyDevice {
	return &BusyDevice{inner: inner, remaining: failures}
}

func (d *BusyDevice) busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remaining > 0 {
		d.remaining--
		return true
	}
	return false
}

// Read implements Device.
func (d *BusyDevice) Read(buffer []byte) (int, error) {
	if d.busy() {
		return 0, ErrBusy
	}
	return d.inner.Read(buffer)
}

// Write implements Device.
func (d *BusyDevice) Write(buffer []byte) (int, error) {
	if d.busy() {
		return 0, ErrBusy
	}
	return d.inner.Write(buffer)
}

// GetSize implements Device.
func (d *BusyDevice) GetSize() (uint64, error) {
	if d.busy() {
		return 0, ErrBusy
	}
	return d.inner.GetSize()
}

// SetPosition implements Device.
func (d *BusyDevice) SetPosition(whence int, offset int64) (uint64, error) {
	if d.busy() {
		return 0, ErrBusy
	}
	return d.inner.SetPosition(whence, offset)
}

// Flush implements Device.
func (d *BusyDevice) Flush() error {
	if d.busy() {
		return ErrBusy
	}
	return d.inner.Flush()
}

// Erase implements Device.
func (d *BusyDevice) Erase() error {
	if d.busy() {
		return ErrBusy
	}
	return d.inner.Erase()
}

// GetBlockSize implements Device.
func (d *BusyDevice) GetBlockSize() (int, error) {
	if d.busy() {
		return 0, ErrBusy
	}
	return d.inner.GetBlockSize()
}
