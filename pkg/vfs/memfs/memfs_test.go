package memfs

import (
	"bytes"
	"testing"
	"time"

	"tideos/pkg/task"
	"tideos/pkg/users"
	"tideos/pkg/vfs"
)

func newFS() *FS {
	return New(users.NewStore())
}

func TestOpenCreateWriteRead(t *testing.T) {
	fs := newFS()
	now := time.Now()

	file, err := fs.Open("/f.txt", vfs.ReadWrite|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := []byte("in memory")
	n, err := fs.Write(file, payload, now)
	if err != nil || n != vfs.Size(len(payload)) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	if _, err := fs.SetPosition(file, vfs.PositionFromStart(0)); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	buffer := make([]byte, len(payload))
	n, err = fs.Read(file, buffer, now)
	if err != nil || n != vfs.Size(len(payload)) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if !bytes.Equal(buffer, payload) {
		t.Errorf("read %q, want %q", buffer, payload)
	}

	if err := fs.Close(file); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fs.Close(file); err != vfs.ErrInvalidIdentifier {
		t.Fatalf("double Close: %v", err)
	}
}

func TestOpenFlags(t *testing.T) {
	fs := newFS()
	now := time.Now()

	if _, err := fs.Open("/missing", vfs.ReadOnly, now, task.Kernel, users.Root, users.RootGroup); err != vfs.ErrNotFound {
		t.Errorf("missing = %v", err)
	}
	if _, err := fs.Open("/f", vfs.Create, now, task.Kernel, users.Root, users.RootGroup); err != vfs.ErrInvalidParameter {
		t.Errorf("no access mode = %v", err)
	}

	file, err := fs.Open("/f", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fs.Close(file)

	if _, err := fs.Open("/f", vfs.WriteOnly|vfs.Create|vfs.Exclusive, now, task.Kernel, users.Root, users.RootGroup); err != vfs.ErrAlreadyExists {
		t.Errorf("exclusive = %v", err)
	}
}

func TestTruncateAndAppend(t *testing.T) {
	fs := newFS()
	now := time.Now()

	file, _ := fs.Open("/log", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	fs.Write(file, []byte("aaaa"), now)
	fs.Close(file)

	appendFile, err := fs.Open("/log", vfs.WriteOnly|vfs.Append, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("append open: %v", err)
	}
	fs.Write(appendFile, []byte("bbbb"), now)
	fs.Close(appendFile)

	statistics, err := fs.Stat("/log")
	if err != nil || statistics.Size != 8 {
		t.Fatalf("Stat = %+v, %v", statistics, err)
	}

	truncFile, err := fs.Open("/log", vfs.WriteOnly|vfs.Truncate, now, task.Kernel, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("truncate open: %v", err)
	}
	fs.Close(truncFile)

	statistics, _ = fs.Stat("/log")
	if statistics.Size != 0 {
		t.Errorf("size after truncate = %d", statistics.Size)
	}
}

func TestDirectories(t *testing.T) {
	fs := newFS()
	now := time.Now()

	if err := fs.CreateDirectory("/etc", now, users.Root, users.RootGroup); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := fs.CreateDirectory("/etc", now, users.Root, users.RootGroup); err != vfs.ErrAlreadyExists {
		t.Errorf("duplicate = %v", err)
	}
	if err := fs.CreateDirectory("/missing/sub", now, users.Root, users.RootGroup); err != vfs.ErrNotFound {
		t.Errorf("orphan = %v", err)
	}

	file, _ := fs.Open("/etc/conf", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	fs.Close(file)

	dir, err := fs.OpenDirectory("/etc", task.Kernel)
	if err != nil {
		t.Fatalf("OpenDirectory: %v", err)
	}
	if !dir.File().IsDirectory() {
		t.Error("directory handle lacks the discriminator")
	}

	entry, err := fs.ReadDirectory(dir)
	if err != nil || entry == nil || entry.Name != "conf" {
		t.Fatalf("entry = %+v, %v", entry, err)
	}
	entry, err = fs.ReadDirectory(dir)
	if err != nil || entry != nil {
		t.Fatalf("exhausted = %+v, %v", entry, err)
	}

	if err := fs.RewindDirectory(dir); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if entry, _ := fs.ReadDirectory(dir); entry == nil {
		t.Error("nothing after rewind")
	}
	if err := fs.CloseDirectory(dir); err != nil {
		t.Fatalf("CloseDirectory: %v", err)
	}

	if err := fs.Remove("/etc"); err != vfs.ErrDirectoryNotEmpty {
		t.Errorf("Remove populated = %v", err)
	}
	if err := fs.Remove("/etc/conf"); err != nil {
		t.Fatalf("Remove file: %v", err)
	}
	if err := fs.Remove("/etc"); err != nil {
		t.Fatalf("Remove empty: %v", err)
	}
}

func TestRename(t *testing.T) {
	fs := newFS()
	now := time.Now()

	file, _ := fs.Open("/a", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	fs.Write(file, []byte("payload"), now)
	fs.Close(file)
	fs.CreateDirectory("/dir", now, users.Root, users.RootGroup)

	if err := fs.Rename("/a", "/dir/b"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := fs.Stat("/a"); err != vfs.ErrNotFound {
		t.Errorf("old path = %v", err)
	}
	statistics, err := fs.Stat("/dir/b")
	if err != nil || statistics.Size != 7 {
		t.Errorf("new path = %+v, %v", statistics, err)
	}
}

func TestPermissions(t *testing.T) {
	fs := newFS()
	now := time.Now()

	file, _ := fs.Open("/secret", vfs.WriteOnly|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	fs.Close(file)
	if err := fs.SetPermissions("/secret", 0o600, now); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	if _, err := fs.Open("/secret", vfs.ReadOnly, now, 2, 100, 100); err != vfs.ErrPermissionDenied {
		t.Errorf("unprivileged open = %v", err)
	}

	if err := fs.SetOwner("/secret", 100, 100, now); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}
	opened, err := fs.Open("/secret", vfs.ReadOnly, now, 2, 100, 100)
	if err != nil {
		t.Fatalf("owner open: %v", err)
	}
	fs.Close(opened)

	statistics, _ := fs.Stat("/secret")
	if statistics.User != 100 || statistics.Group != 100 {
		t.Errorf("owner = %d/%d", statistics.User, statistics.Group)
	}
}

func TestTaskIsolation(t *testing.T) {
	fs := newFS()
	now := time.Now()

	mine, _ := fs.Open("/shared", vfs.WriteOnly|vfs.Create, now, 1, users.Root, users.RootGroup)
	theirs, err := fs.Open("/shared", vfs.ReadOnly, now, 2, users.Root, users.RootGroup)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}

	if err := fs.CloseAll(1); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if _, err := fs.Write(mine, []byte("x"), now); err != vfs.ErrInvalidIdentifier {
		t.Errorf("task 1 handle survived: %v", err)
	}
	if _, err := fs.Read(theirs, make([]byte, 1), now); err != nil {
		t.Errorf("task 2 handle closed: %v", err)
	}
}

func TestDuplicate(t *testing.T) {
	fs := newFS()
	now := time.Now()

	file, _ := fs.Open("/d", vfs.ReadWrite|vfs.Create, now, task.Kernel, users.Root, users.RootGroup)
	fs.Write(file, []byte("abcdef"), now)
	fs.SetPosition(file, vfs.PositionFromStart(0))

	dup, err := fs.Duplicate(file)
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}

	buffer := make([]byte, 3)
	fs.Read(file, buffer, now)
	if string(buffer) != "abc" {
		t.Errorf("original read %q", buffer)
	}
	fs.Read(dup, buffer, now)
	if string(buffer) != "abc" {
		t.Errorf("dup read %q", buffer)
	}
}
