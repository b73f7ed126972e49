package vfs

import (
	"testing"

	"tideos/pkg/task"
)

func TestLocalFileIDRoundTrip(t *testing.T) {
	tasks := []task.ID{0, 1, 42, 1 << 16, 0xFFFFFFFF}
	files := []FileID{Stdin, Stdout, Stderr, MinimumFile, 1 << 20, 0x7FFFFFFF, 0xFFFFFFFF}

	for _, tk := range tasks {
		for _, f := range files {
			local := NewLocalFileID(tk, f)
			gotTask, gotFile := local.Split()
			if gotTask != tk || gotFile != f {
				t.Errorf("Split(%d,%d) = (%d,%d)", tk, f, gotTask, gotFile)
			}
			if local.Task() != tk {
				t.Errorf("Task() = %d, want %d", local.Task(), tk)
			}
			if local.File() != f {
				t.Errorf("File() = %d, want %d", local.File(), f)
			}
		}
	}
}

func TestUniqueFileIDRoundTrip(t *testing.T) {
	filesystems := []FileSystemID{PipeFileSystem, DeviceFileSystem, MinimumFileSystem, 1 << 16, 0xFFFFFFFF}
	files := []FileID{Stdin, MinimumFile, 0x7FFFFFFF, 0xFFFFFFFF}

	for _, fs := range filesystems {
		for _, f := range files {
			unique := NewUniqueFileID(fs, f)
			gotFS, gotFile := unique.Split()
			if gotFS != fs || gotFile != f {
				t.Errorf("Split(%d,%d) = (%d,%d)", fs, f, gotFS, gotFile)
			}
		}
	}
}

func TestIdentifierConversion(t *testing.T) {
	// Converting between the local and unique views preserves the file half
	// and swaps only the context half.
	local := NewLocalFileID(7, 99)
	unique := local.IntoUnique(5)

	if unique.FileSystem() != 5 {
		t.Errorf("FileSystem() = %d, want 5", unique.FileSystem())
	}
	if unique.File() != 99 {
		t.Errorf("File() = %d, want 99", unique.File())
	}

	back := unique.IntoLocal(7)
	if back != local {
		t.Errorf("IntoLocal() = %#x, want %#x", back, local)
	}
}

func TestDirectoryDiscriminator(t *testing.T) {
	f := FileID(42)
	if f.IsDirectory() {
		t.Error("plain identifier reports directory")
	}

	d := f.AsDirectory()
	if !d.IsDirectory() {
		t.Error("AsDirectory lost the discriminator")
	}
	if d.AsFile() != f {
		t.Errorf("AsFile() = %d, want %d", d.AsFile(), f)
	}

	// The discriminator survives packing into both identifier spaces.
	if !NewLocalFileID(3, d).File().IsDirectory() {
		t.Error("discriminator lost through LocalFileID")
	}
	if !NewUniqueFileID(3, d).File().IsDirectory() {
		t.Error("discriminator lost through UniqueFileID")
	}
}

func TestReservedIdentifiers(t *testing.T) {
	if Stdin != 0 || Stdout != 1 || Stderr != 2 {
		t.Errorf("standard streams = %d,%d,%d", Stdin, Stdout, Stderr)
	}
	if MinimumFile != 3 {
		t.Errorf("MinimumFile = %d, want 3", MinimumFile)
	}
	if PipeFileSystem != 0 || DeviceFileSystem != 1 || MinimumFileSystem != 2 {
		t.Errorf("reserved filesystems = %d,%d,%d", PipeFileSystem, DeviceFileSystem, MinimumFileSystem)
	}
}
