package flashfs

import (
	"bytes"
	"io"
	"testing"
	"time"

	"tideos/pkg/device"
	"tideos/pkg/task"
	"tideos/pkg/users"
	"tideos/pkg/vfs"
)

const (
	testBlockSize = 256
	testFlashSize = 512 * 1024
	testCache     = 256
)

func newTestFS(t *testing.T, d device.Device) *FileSystem {
	t.Helper()

	entry := device.NewEntry(d, uint32(users.Root), uint32(users.RootGroup), 0o644)
	registry := device.NewRegistry()

	if err := Format(entry, registry, testCache); err != nil {
		t.Fatalf("Format: %v", err)
	}
	fs, err := New(entry, registry, users.NewStore(), vfs.NewTestLogger(io.Discard, 0), testCache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { fs.Unmount() })
	return fs
}

func newMemoryFS(t *testing.T) *FileSystem {
	t.Helper()
	d, err := device.NewMemoryDevice(testFlashSize, testBlockSize)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	return newTestFS(t, d)
}

func TestOpenWriteRead(t *testing.T) {
	fs := newMemoryFS(t)
	now := time.Now()

	file, err := fs.Open("/f.bin", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := []byte("flash adapter payload")
	n, err := fs.Write(file, payload, now)
	if err != nil || n != vfs.Size(len(payload)) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if err := fs.Close(file); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fs.Close(file); err != vfs.ErrInvalidIdentifier {
		t.Fatalf("double Close: %v", err)
	}

	file, err = fs.Open("/f.bin", vfs.ReadOnly, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	buffer := make([]byte, len(payload))
	n, err = fs.Read(file, buffer, now)
	if err != nil || n != vfs.Size(len(payload)) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if !bytes.Equal(buffer, payload) {
		t.Errorf("read %q, want %q", buffer, payload)
	}
}

func TestBusyDeviceRetried(t *testing.T) {
	// Every callback spin-retries while the device reports Busy, so a
	// device that refuses a bounded number of operations must behave
	// exactly like one that never does.
	inner, err := device.NewMemoryDevice(testFlashSize, testBlockSize)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	fs := newTestFS(t, device.NewBusyDevice(inner, 25))

	now := time.Now()
	file, err := fs.Open("/busy.bin", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.Write(file, []byte("written despite contention"), now); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Close(file); err != nil {
		t.Fatalf("Close: %v", err)
	}

	statistics, err := fs.Stat("/busy.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if statistics.Size != 26 {
		t.Errorf("Size = %d", statistics.Size)
	}
}

func TestMetadataPersistence(t *testing.T) {
	d, err := device.NewMemoryDevice(testFlashSize, testBlockSize)
	if err != nil {
		t.Fatalf("NewMemoryDevice: %v", err)
	}
	entry := device.NewEntry(d, uint32(users.Root), uint32(users.RootGroup), 0o644)
	registry := device.NewRegistry()
	authority := users.NewStore()
	logger := vfs.NewTestLogger(io.Discard, 0)

	if err := Format(entry, registry, testCache); err != nil {
		t.Fatalf("Format: %v", err)
	}
	fs, err := New(entry, registry, authority, logger, testCache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Unix(1700000000, 0)
	file, err := fs.Open("/owned.txt", vfs.WriteOnly|vfs.Create, now, task.Kernel, 42, 43)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fs.Close(file)
	if err := fs.SetPermissions("/owned.txt", 0o640, now); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	if err := fs.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}

	// Remount the same media: ownership, permissions and timestamps come
	// back from the attribute block.
	fs2, err := New(entry, registry, authority, logger, testCache)
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	defer fs2.Unmount()

	statistics, err := fs2.Stat("/owned.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if statistics.User != 42 || statistics.Group != 43 {
		t.Errorf("owner = %d/%d", statistics.User, statistics.Group)
	}
	if statistics.Permissions != 0o640 {
		t.Errorf("permissions = %o", statistics.Permissions)
	}
	if !statistics.AccessTime.Equal(now) {
		t.Errorf("atime = %v, want %v", statistics.AccessTime, now)
	}
}

func TestPermissionCheckOnOpen(t *testing.T) {
	fs := newMemoryFS(t)
	now := time.Now()

	file, err := fs.Open("/root-only.txt", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fs.Close(file)
	if err := fs.SetPermissions("/root-only.txt", 0o600, now); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	if _, err := fs.Open("/root-only.txt", vfs.ReadOnly, now, 2, 100, 100); err != vfs.ErrPermissionDenied {
		t.Fatalf("unprivileged open: %v", err)
	}

	// Creating in the root directory requires write access to it (0o755,
	// root-owned).
	if _, err := fs.Open("/new.txt", vfs.WriteOnly|vfs.Create, now, 2, 100, 100); err != vfs.ErrPermissionDenied {
		t.Fatalf("unprivileged create: %v", err)
	}
}

func TestDirectoryListing(t *testing.T) {
	fs := newMemoryFS(t)
	now := time.Now()

	if err := fs.CreateDirectory("/sub", now, users.Root, users.RootGroup); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	file, err := fs.Open("/sub/inner.txt", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fs.Close(file)

	dir, err := fs.OpenDirectory("/sub", task.Kernel)
	if err != nil {
		t.Fatalf("OpenDirectory: %v", err)
	}
	if !dir.File().IsDirectory() {
		t.Error("directory handle lacks the discriminator")
	}

	entry, err := fs.ReadDirectory(dir)
	if err != nil {
		t.Fatalf("ReadDirectory: %v", err)
	}
	if entry == nil || entry.Name != "inner.txt" || entry.Kind != vfs.KindFile {
		t.Fatalf("entry = %+v", entry)
	}
	entry, err = fs.ReadDirectory(dir)
	if err != nil || entry != nil {
		t.Fatalf("exhausted = %+v, %v", entry, err)
	}

	if err := fs.RewindDirectory(dir); err != nil {
		t.Fatalf("RewindDirectory: %v", err)
	}
	entry, err = fs.ReadDirectory(dir)
	if err != nil || entry == nil {
		t.Fatalf("after rewind = %+v, %v", entry, err)
	}
	if err := fs.CloseDirectory(dir); err != nil {
		t.Fatalf("CloseDirectory: %v", err)
	}
}

func TestDuplicateIndependentPosition(t *testing.T) {
	fs := newMemoryFS(t)
	now := time.Now()

	file, err := fs.Open("/dup.bin", vfs.ReadWrite|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.Write(file, []byte("0123456789"), now); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := fs.SetPosition(file, vfs.PositionFromStart(4)); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}

	dup, err := fs.Duplicate(file)
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}

	// The duplicate starts at the original's position, then moves alone.
	buffer := make([]byte, 2)
	if _, err := fs.Read(dup, buffer, now); err != nil {
		t.Fatalf("Read dup: %v", err)
	}
	if string(buffer) != "45" {
		t.Errorf("dup read %q", buffer)
	}
	if _, err := fs.Read(file, buffer, now); err != nil {
		t.Fatalf("Read original: %v", err)
	}
	if string(buffer) != "45" {
		t.Errorf("original read %q", buffer)
	}
}

func TestTransferRehomesDescriptor(t *testing.T) {
	fs := newMemoryFS(t)
	now := time.Now()

	file, err := fs.Open("/t.bin", vfs.WriteOnly|vfs.Create, now, 1, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	moved, err := fs.Transfer(file, 2)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if moved.Task() != 2 {
		t.Errorf("owner = %d", moved.Task())
	}
	if _, err := fs.Write(file, []byte("x"), now); err != vfs.ErrInvalidIdentifier {
		t.Errorf("stale handle write: %v", err)
	}
	if _, err := fs.Write(moved, []byte("x"), now); err != nil {
		t.Errorf("moved handle write: %v", err)
	}
}

func TestCloseAllPerTask(t *testing.T) {
	fs := newMemoryFS(t)
	now := time.Now()

	mine, err := fs.Open("/mine.bin", vfs.WriteOnly|vfs.Create, now, 1, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	theirs, err := fs.Open("/theirs.bin", vfs.WriteOnly|vfs.Create, now, 2, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := fs.CloseAll(1); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if _, err := fs.Write(mine, []byte("x"), now); err != vfs.ErrInvalidIdentifier {
		t.Errorf("task 1 handle survived: %v", err)
	}
	if _, err := fs.Write(theirs, []byte("x"), now); err != nil {
		t.Errorf("task 2 handle closed: %v", err)
	}
}
