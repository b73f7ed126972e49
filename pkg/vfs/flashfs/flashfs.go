// Package flashfs implements the backing-filesystem contract on top of the
// embedded lfs flash filesystem. It bridges lfs's synchronous block-callback
// ABI to the device abstraction: devices are registered in a handle arena
// and every callback looks its device up by handle, spin-retries while the
// device reports busy, and maps any other failure to the library's I/O
// error. POSIX-style metadata (kind, owner, permissions, timestamps) is
// layered on via a fixed-size custom attribute block.
package flashfs

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tideos/pkg/device"
	"tideos/pkg/users"
	"tideos/pkg/vfs"
	"tideos/pkg/vfs/flashfs/lfs"
)

// metadataAttr is the private attribute identifier holding the metadata
// block.
const metadataAttr = 1

// Default permissions for entries created without explicit bits.
const (
	defaultFilePermissions      vfs.Permissions = 0o644
	defaultDirectoryPermissions vfs.Permissions = 0o755
)

// FileSystem implements vfs.FileSystem over an lfs instance. The lfs core
// is not internally synchronized, so one mutex serializes every call into
// it; the mutex is scoped to a single operation and never held while
// waiting on unrelated work.
type FileSystem struct {
	mu        sync.Mutex
	log       zerolog.Logger
	authority users.Authority
	registry  *device.Registry
	handle    device.Handle
	fs        *lfs.FS

	files    map[vfs.LocalFileID]*openFile
	dirs     map[vfs.LocalFileID]*openDirectory
	nextFile vfs.FileID
}

type openFile struct {
	file  *lfs.File
	path  vfs.Path
	flags vfs.Flags
}

type openDirectory struct {
	dir  *lfs.Dir
	path vfs.Path
}

// deviceGeometry reads the block size and block count, retrying while the
// device is busy.
func deviceGeometry(entry *device.Entry) (uint32, uint32, error) {
	var blockSize int
	var size uint64
	for {
		var err error
		blockSize, err = entry.GetBlockSize()
		if errors.Is(err, device.ErrBusy) {
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		break
	}
	for {
		var err error
		size, err = entry.GetSize()
		if errors.Is(err, device.ErrBusy) {
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		break
	}
	if blockSize <= 0 || size == 0 {
		return 0, 0, device.ErrOutOfBounds
	}
	return uint32(blockSize), uint32(size / uint64(blockSize)), nil
}

// makeConfig builds the callback table for a registered device. The
// callbacks receive only the handle; they borrow the device entry from the
// registry for the duration of each call and never assume ownership.
func makeConfig(registry *device.Registry, handle device.Handle, blockSize, blockCount, cacheSize uint32) *lfs.Config {
	position := func(entry *device.Entry, block, off uint32) bool {
		for {
			_, err := entry.SetPosition(device.Start, int64(block)*int64(blockSize)+int64(off))
			if errors.Is(err, device.ErrBusy) {
				continue
			}
			return err == nil
		}
	}

	return &lfs.Config{
		Context:    uint64(handle),
		BlockSize:  blockSize,
		BlockCount: blockCount,
		CacheSize:  cacheSize,

		Read: func(ctx uint64, block, off uint32, buf []byte) int {
			entry, ok := registry.Get(device.Handle(ctx))
			if !ok {
				return lfs.ErrIO
			}
			if !position(entry, block, off) {
				return lfs.ErrIO
			}
			for len(buf) > 0 {
				n, err := entry.Read(buf)
				if errors.Is(err, device.ErrBusy) {
					continue
				}
				if err != nil || n == 0 {
					return lfs.ErrIO
				}
				buf = buf[n:]
			}
			return lfs.ErrOK
		},

		Prog: func(ctx uint64, block, off uint32, buf []byte) int {
			entry, ok := registry.Get(device.Handle(ctx))
			if !ok {
				return lfs.ErrIO
			}
			if !position(entry, block, off) {
				return lfs.ErrIO
			}
			for len(buf) > 0 {
				n, err := entry.Write(buf)
				if errors.Is(err, device.ErrBusy) {
					continue
				}
				if err != nil || n == 0 {
					return lfs.ErrIO
				}
				buf = buf[n:]
			}
			return lfs.ErrOK
		},

		Erase: func(ctx uint64, block uint32) int {
			entry, ok := registry.Get(device.Handle(ctx))
			if !ok {
				return lfs.ErrIO
			}
			if !position(entry, block, 0) {
				return lfs.ErrIO
			}
			for {
				err := entry.Erase()
				if errors.Is(err, device.ErrBusy) {
					continue
				}
				if err != nil {
					return lfs.ErrIO
				}
				return lfs.ErrOK
			}
		},

		Sync: func(ctx uint64) int {
			entry, ok := registry.Get(device.Handle(ctx))
			if !ok {
				return lfs.ErrIO
			}
			for {
				err := entry.Flush()
				if errors.Is(err, device.ErrBusy) {
					continue
				}
				if err != nil {
					return lfs.ErrIO
				}
				return lfs.ErrOK
			}
		},
	}
}

// Format initializes the device with an empty filesystem. The root
// directory is stamped as owned by root.
func Format(entry *device.Entry, registry *device.Registry, cacheSize uint32) error {
	blockSize, blockCount, err := deviceGeometry(entry)
	if err != nil {
		return vfs.ErrInputOutput
	}

	handle := registry.Register(entry)
	defer registry.Remove(handle)

	cfg := makeConfig(registry, handle, blockSize, blockCount, cacheSize)
	if code := lfs.Format(cfg); code < 0 {
		return translate(code)
	}

	fs, code := lfs.Mount(cfg)
	if code < 0 {
		return translate(code)
	}
	defer fs.Unmount()

	now := time.Now()
	meta := metadata{
		Kind:             vfs.KindDirectory,
		User:             users.Root,
		Group:            users.RootGroup,
		Permissions:      defaultDirectoryPermissions,
		AccessTime:       now,
		ModificationTime: now,
		ChangeTime:       now,
	}
	if code := fs.SetAttr("/", metadataAttr, meta.encode()); code < 0 {
		return translate(code)
	}
	return nil
}

// New mounts the filesystem on a formatted device.
func New(entry *device.Entry, registry *device.Registry, authority users.Authority, logger zerolog.Logger, cacheSize uint32) (*FileSystem, error) {
	blockSize, blockCount, err := deviceGeometry(entry)
	if err != nil {
		return nil, vfs.ErrInputOutput
	}

	handle := registry.Register(entry)
	cfg := makeConfig(registry, handle, blockSize, blockCount, cacheSize)

	fs, code := lfs.Mount(cfg)
	if code < 0 {
		registry.Remove(handle)
		return nil, translate(code)
	}

	logger.Debug().
		Uint32("block_size", blockSize).
		Uint32("block_count", blockCount).
		Msg("flash filesystem mounted")

	return &FileSystem{
		log:       logger,
		authority: authority,
		registry:  registry,
		handle:    handle,
		fs:        fs,
		files:     make(map[vfs.LocalFileID]*openFile),
		dirs:      make(map[vfs.LocalFileID]*openDirectory),
		nextFile:  vfs.MinimumFile,
	}, nil
}

// Unmount flushes and detaches the filesystem, releasing its device handle.
func (f *FileSystem) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, of := range f.files {
		of.file.Close()
		delete(f.files, id)
	}
	for id, od := range f.dirs {
		od.dir.Close()
		delete(f.dirs, id)
	}

	code := f.fs.Unmount()
	f.registry.Remove(f.handle)
	if code < 0 {
		return translate(code)
	}
	return nil
}

// translate converts an lfs error code into the vfs error taxonomy. No
// library code crosses this boundary.
func translate(code int) error {
	switch code {
	case lfs.ErrIO:
		return vfs.ErrInputOutput
	case lfs.ErrCorrupt:
		return vfs.ErrCorrupted
	case lfs.ErrNoEnt:
		return vfs.ErrNotFound
	case lfs.ErrExist:
		return vfs.ErrAlreadyExists
	case lfs.ErrNotDir:
		return vfs.ErrNotDirectory
	case lfs.ErrIsDir:
		return vfs.ErrIsDirectory
	case lfs.ErrNotEmpty:
		return vfs.ErrDirectoryNotEmpty
	case lfs.ErrBadF:
		return vfs.ErrInvalidIdentifier
	case lfs.ErrFBig, lfs.ErrNoSpc:
		return vfs.ErrNoSpaceLeft
	case lfs.ErrNoMem:
		return vfs.ErrNoMemory
	case lfs.ErrNameTooLong:
		return vfs.ErrNameTooLong
	case lfs.ErrInval:
		return vfs.ErrInvalidParameter
	case lfs.ErrNoAttr:
		return vfs.ErrNotFound
	default:
		return vfs.ErrInternal
	}
}

// mapFlags converts contract flags to lfs open flags.
func mapFlags(flags vfs.Flags) int {
	var out int
	if flags.Readable() {
		out |= lfs.ORdOnly
	}
	if flags.Writable() {
		out |= lfs.OWrOnly
	}
	if flags&vfs.Create != 0 {
		out |= lfs.OCreat
	}
	if flags&vfs.Exclusive != 0 {
		out |= lfs.OExcl
	}
	if flags&vfs.Truncate != 0 {
		out |= lfs.OTrunc
	}
	if flags&vfs.Append != 0 {
		out |= lfs.OAppend
	}
	return out
}
