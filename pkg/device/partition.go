package device

import "sync"

// Partition exposes a contiguous [offset, offset+length) window of a parent
// device as an independent Device with its own position, so several backends
// can share one physical medium.
type Partition struct {
	mu       sync.Mutex
	parent   Device
	offset   uint64
	length   uint64
	position uint64
}

// NewPartition creates a partition view. The window must lie entirely
// within the parent device.
func NewPartition(parent Device, offset, length uint64) (*Partition, error) {
	size, err := parent.GetSize()
	if err != nil {
		return nil, err
	}
	if length == 0 || offset+length > size {
		return nil, ErrOutOfBounds
	}
	return &Partition{parent: parent, offset: offset, length: length}, nil
}

// seekParent positions the parent at the partition's current position.
func (p *Partition) seekParent() error {
	_, err := p.parent.SetPosition(Start, int64(p.offset+p.position))
	return err
}

// Read implements Device.
func (p *Partition) Read(buffer []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.position >= p.length {
		return 0, nil
	}
	if max := p.length - p.position; uint64(len(buffer)) > max {
		buffer = buffer[:max]
	}
	if err := p.seekParent(); err != nil {
		return 0, err
	}

	n, err := p.parent.Read(buffer)
	p.position += uint64(n)
	return n, err
}

// Write implements Device.
func (p *Partition) Write(buffer []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.position+uint64(len(buffer)) > p.length {
		return 0, ErrOutOfBounds
	}
	if err := p.seekParent(); err != nil {
		return 0, err
	}

	n, err := p.parent.Write(buffer)
	p.position += uint64(n)
	return n, err
}

// GetSize implements Device.
func (p *Partition) GetSize() (uint64, error) {
	return p.length, nil
}

// SetPosition implements Device.
func (p *Partition) SetPosition(whence int, offset int64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var next int64
	switch whence {
	case Start:
		next = offset
	case Current:
		next = int64(p.position) + offset
	case End:
		next = int64(p.length) + offset
	default:
		return 0, ErrInvalidSeek
	}

	if next < 0 || next > int64(p.length) {
		return 0, ErrInvalidSeek
	}

	p.position = uint64(next)
	return p.position, nil
}

// Flush implements Device.
func (p *Partition) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent.Flush()
}

// Erase implements Device.
func (p *Partition) Erase() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.seekParent(); err != nil {
		return err
	}
	return p.parent.Erase()
}

// GetBlockSize implements Device.
func (p *Partition) GetBlockSize() (int, error) {
	return p.parent.GetBlockSize()
}
