package device

import (
	"bytes"
	"testing"
)

func TestMemoryDeviceReadWrite(t *testing.T) {
	d, err := NewMemoryDevice(1024, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}

	payload := []byte("hello device")
	n, err := d.Write(payload)
	if err != nil || n != len(payload) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	if _, err := d.SetPosition(Start, 0); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	buffer := make([]byte, len(payload))
	n, err = d.Read(buffer)
	if err != nil || n != len(payload) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if !bytes.Equal(buffer, payload) {
		t.Errorf("read %q, want %q", buffer, payload)
	}
}

func TestMemoryDeviceBounds(t *testing.T) {
	d, err := NewMemoryDevice(256, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}

	if _, err := d.SetPosition(Start, 200); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if _, err := d.Write(make([]byte, 100)); err != ErrOutOfBounds {
		t.Errorf("overrun write: %v", err)
	}
	if _, err := d.SetPosition(Start, -1); err != ErrInvalidSeek {
		t.Errorf("negative seek: %v", err)
	}
	if _, err := d.SetPosition(End, 1); err != ErrInvalidSeek {
		t.Errorf("seek past end: %v", err)
	}
}

func TestMemoryDeviceGeometry(t *testing.T) {
	if _, err := NewMemoryDevice(1000, 256); err != ErrOutOfBounds {
		t.Errorf("unaligned size accepted: %v", err)
	}
	if _, err := NewMemoryDevice(0, 256); err != ErrOutOfBounds {
		t.Errorf("zero size accepted: %v", err)
	}

	d, err := NewMemoryDevice(1024, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	bs, err := d.GetBlockSize()
	if err != nil || bs != 256 {
		t.Errorf("GetBlockSize = %d, %v", bs, err)
	}
	size, err := d.GetSize()
	if err != nil || size != 1024 {
		t.Errorf("GetSize = %d, %v", size, err)
	}
}

func TestMemoryDeviceErase(t *testing.T) {
	d, err := NewMemoryDevice(512, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	if _, err := d.Write(bytes.Repeat([]byte{0xAA}, 512)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Erase the second block; the first must be untouched.
	if _, err := d.SetPosition(Start, 300); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if err := d.Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	if _, err := d.SetPosition(Start, 0); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	buffer := make([]byte, 512)
	if _, err := d.Read(buffer); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buffer[:256], bytes.Repeat([]byte{0xAA}, 256)) {
		t.Error("first block modified by erase of second")
	}
	if !bytes.Equal(buffer[256:], bytes.Repeat([]byte{0xFF}, 256)) {
		t.Error("second block not erased to 0xFF")
	}
}

func TestMemoryDeviceClosed(t *testing.T) {
	d, err := NewMemoryDevice(256, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := d.Read(make([]byte, 1)); err != ErrClosed {
		t.Errorf("Read after close: %v", err)
	}
	if _, err := d.Write([]byte{1}); err != ErrClosed {
		t.Errorf("Write after close: %v", err)
	}
}

func TestEntryTimestamps(t *testing.T) {
	d, err := NewMemoryDevice(256, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	e := NewEntry(d, 1, 2, 0o644)

	before, err := e.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if before.User != 1 || before.Group != 2 || before.Permissions != 0o644 {
		t.Fatalf("initial metadata = %+v", before)
	}

	if _, err := e.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	after, err := e.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if after.ModificationTime.Before(before.ModificationTime) {
		t.Error("write did not advance modification time")
	}
	if after.AccessTime.Before(before.AccessTime) {
		t.Error("write did not advance access time")
	}
	if !after.ChangeTime.Equal(before.ChangeTime) {
		t.Error("write touched change time")
	}

	if err := e.SetPermissions(0o600); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	final, err := e.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if final.Permissions != 0o600 {
		t.Errorf("Permissions = %o", final.Permissions)
	}
	if final.ChangeTime.Before(after.ChangeTime) {
		t.Error("permission change did not advance change time")
	}
	if !final.ModificationTime.Equal(after.ModificationTime) {
		t.Error("permission change touched modification time")
	}

	if err := e.SetOwner(3, 4); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}
	owned, err := e.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if owned.User != 3 || owned.Group != 4 {
		t.Errorf("owner = %d/%d", owned.User, owned.Group)
	}
}

func TestEntryBusy(t *testing.T) {
	d, err := NewMemoryDevice(256, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	busy := NewBusyDevice(d, 2)
	e := NewEntry(busy, 0, 0, 0o644)

	// The wrapped device reports Busy twice, then succeeds; each failure
	// consumes one configured refusal.
	attempts := 0
	for {
		attempts++
		_, err := e.Write([]byte("x"))
		if err == ErrBusy {
			continue
		}
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		break
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestEntryLockContention(t *testing.T) {
	d, err := NewMemoryDevice(256, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	e := NewEntry(d, 0, 0, 0o644)

	// Hold the entry lock and observe ErrBusy instead of blocking.
	e.mu.Lock()
	if _, err := e.Read(make([]byte, 1)); err != ErrBusy {
		t.Errorf("contended read: %v", err)
	}
	e.mu.Unlock()

	if _, err := e.Read(make([]byte, 1)); err != nil {
		t.Errorf("uncontended read: %v", err)
	}
}

func TestPartition(t *testing.T) {
	parent, err := NewMemoryDevice(1024, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	p, err := NewPartition(parent, 256, 512)
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}

	size, err := p.GetSize()
	if err != nil || size != 512 {
		t.Fatalf("GetSize = %d, %v", size, err)
	}

	payload := []byte("partitioned")
	if _, err := p.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The bytes landed at the window offset on the parent.
	if _, err := parent.SetPosition(Start, 256); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	buffer := make([]byte, len(payload))
	if _, err := parent.Read(buffer); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buffer, payload) {
		t.Errorf("parent sees %q, want %q", buffer, payload)
	}

	// Writes never escape the window.
	if _, err := p.SetPosition(End, -4); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if _, err := p.Write(make([]byte, 8)); err != ErrOutOfBounds {
		t.Errorf("overrun write: %v", err)
	}
}

func TestPartitionValidation(t *testing.T) {
	parent, err := NewMemoryDevice(1024, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	if _, err := NewPartition(parent, 768, 512); err != ErrOutOfBounds {
		t.Errorf("escaping window accepted: %v", err)
	}
	if _, err := NewPartition(parent, 0, 0); err != ErrOutOfBounds {
		t.Errorf("empty window accepted: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	d, err := NewMemoryDevice(256, 256)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	e := NewEntry(d, 0, 0, 0o644)

	h := r.Register(e)
	if h == 0 {
		t.Fatal("zero handle")
	}
	got, ok := r.Get(h)
	if !ok || got != e {
		t.Fatal("Get did not return the registered entry")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d", r.Len())
	}

	r.Remove(h)
	if _, ok := r.Get(h); ok {
		t.Error("entry survived Remove")
	}

	// Handles are unique across registrations.
	h1 := r.Register(e)
	h2 := r.Register(e)
	if h1 == h2 {
		t.Error("duplicate handles")
	}
}
