// Package lfs is a small embedded flash filesystem. It mirrors the shape of
// the C flash-filesystem libraries it replaces: all media access goes
// through four synchronous callbacks (block read, block program, block
// erase, sync) that receive an opaque context value and address data by
// (block, offset) pairs, and every operation reports an integer error code
// rather than a Go error. The adapter layer above translates those codes
// and supplies callbacks that drive an asynchronous device.
//
// On-disk layout: superblock in block 0, then the allocation bitmap, then
// the inode table, then data blocks. Pointers use 0xFFFFFFFF as nil so an
// erased (all-ones) block reads as fully unallocated.
package lfs

// Error codes, matching the conventional embedded flash filesystem values.
const (
	ErrOK          = 0   // No error
	ErrIO          = -5  // Error during device operation
	ErrCorrupt     = -84 // Corrupted
	ErrNoEnt       = -2  // No directory entry
	ErrExist       = -17 // Entry already exists
	ErrNotDir      = -20 // Entry is not a dir
	ErrIsDir       = -21 // Entry is a dir
	ErrNotEmpty    = -39 // Dir is not empty
	ErrBadF        = -9  // Bad file number
	ErrFBig        = -27 // File too large
	ErrInval       = -22 // Invalid parameter
	ErrNoSpc       = -28 // No space left on device
	ErrNoMem       = -12 // No more memory available
	ErrNoAttr      = -61 // No data/attr available
	ErrNameTooLong = -36 // File name too long
)

// Open flags.
const (
	ORdOnly = 0x0001
	OWrOnly = 0x0002
	ORdWr   = 0x0003
	OCreat  = 0x0100
	OExcl   = 0x0200
	OTrunc  = 0x0400
	OAppend = 0x0800
)

// Seek whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Entry types reported in Info.
const (
	TypeReg = 0x001
	TypeDir = 0x002
)

// Layout constants.
const (
	magic      = 0x54_4C_46_53 // "TLFS"
	version    = 1
	inodeSize  = 128
	direntSize = 64
	directPtrs = 10
	ptrNil     = 0xFFFFFFFF

	// MaxName is the longest storable entry name.
	MaxName = 56

	// MaxAttr is the capacity of one custom attribute.
	MaxAttr = 64
)

// Config describes the media and carries the four synchronous callbacks.
// Context is an opaque handle forwarded verbatim to every callback; the
// library never interprets it.
type Config struct {
	Context uint64

	// Read reads buf from (block, off). Must fill buf fully or fail.
	Read func(ctx uint64, block, off uint32, buf []byte) int

	// Prog programs buf at (block, off). The block must have been erased.
	Prog func(ctx uint64, block, off uint32, buf []byte) int

	// Erase erases a block, leaving it all ones.
	Erase func(ctx uint64, block uint32) int

	// Sync flushes any buffered media state.
	Sync func(ctx uint64) int

	BlockSize  uint32
	BlockCount uint32

	// CacheSize sizes the scratch buffer used for formatting and bitmap
	// scans. Zero selects BlockSize; otherwise it must be at least
	// direntSize and divide BlockSize evenly.
	CacheSize uint32
}

func (c *Config) valid() bool {
	return c != nil &&
		c.Read != nil && c.Prog != nil && c.Erase != nil && c.Sync != nil &&
		c.BlockSize >= direntSize && c.BlockSize%inodeSize == 0 &&
		c.BlockCount >= 8 &&
		(c.CacheSize == 0 ||
			(c.CacheSize >= direntSize && c.BlockSize%c.CacheSize == 0))
}

// cacheSize resolves the configured scratch buffer size.
func (c *Config) cacheSize() uint32 {
	if c.CacheSize == 0 {
		return c.BlockSize
	}
	return c.CacheSize
}

// superblock is the block-0 record.
type superblock struct {
	blockSize   uint32
	blockCount  uint32
	inodeCount  uint32
	bitmapStart uint32
	bitmapBlks  uint32
	inodeStart  uint32
	inodeBlks   uint32
	dataStart   uint32
}

// FS is one mounted filesystem instance. It is not internally synchronized;
// callers serialize access, exactly as with the C library.
type FS struct {
	cfg     *Config
	sb      superblock
	scratch []byte
}

// layout computes the on-media layout for a config.
func layout(cfg *Config) superblock {
	var sb superblock
	sb.blockSize = cfg.BlockSize
	sb.blockCount = cfg.BlockCount

	bitmapBytes := (cfg.BlockCount + 7) / 8
	sb.bitmapStart = 1
	sb.bitmapBlks = (bitmapBytes + cfg.BlockSize - 1) / cfg.BlockSize

	inodes := cfg.BlockCount / 16
	if inodes < 16 {
		inodes = 16
	}
	sb.inodeCount = inodes
	sb.inodeStart = sb.bitmapStart + sb.bitmapBlks
	sb.inodeBlks = (inodes*inodeSize + cfg.BlockSize - 1) / cfg.BlockSize
	sb.dataStart = sb.inodeStart + sb.inodeBlks
	return sb
}

// Format initializes the media described by cfg with an empty filesystem
// containing only the root directory.
func Format(cfg *Config) int {
	if !cfg.valid() {
		return ErrInval
	}

	sb := layout(cfg)
	if sb.dataStart >= cfg.BlockCount {
		return ErrNoSpc
	}

	fs := &FS{cfg: cfg, sb: sb, scratch: make([]byte, cfg.cacheSize())}
	cache := uint32(len(fs.scratch))

	// Erase the metadata region.
	for b := uint32(0); b < sb.dataStart; b++ {
		if code := cfg.Erase(cfg.Context, b); code < 0 {
			return code
		}
	}

	// Superblock. The header fits in one cache chunk; the rest of block 0
	// stays erased.
	buf := fs.scratch
	for i := range buf {
		buf[i] = 0
	}
	putU32(buf[0:], magic)
	putU32(buf[4:], version)
	putU32(buf[8:], sb.blockSize)
	putU32(buf[12:], sb.blockCount)
	putU32(buf[16:], sb.inodeCount)
	putU32(buf[20:], sb.bitmapStart)
	putU32(buf[24:], sb.bitmapBlks)
	putU32(buf[28:], sb.inodeStart)
	putU32(buf[32:], sb.inodeBlks)
	putU32(buf[36:], sb.dataStart)
	if code := cfg.Prog(cfg.Context, 0, 0, buf); code < 0 {
		return code
	}

	// Bitmap: metadata blocks allocated, everything else free, programmed
	// one cache chunk at a time.
	for blk := uint32(0); blk < sb.bitmapBlks; blk++ {
		for off := uint32(0); off < sb.blockSize; off += cache {
			for i := range buf {
				buf[i] = 0
			}
			first := (blk*sb.blockSize + off) * 8
			for b := uint32(0); b < sb.dataStart; b++ {
				if b >= first && b < first+cache*8 {
					rel := b - first
					buf[rel/8] |= 1 << (rel % 8)
				}
			}
			if code := cfg.Prog(cfg.Context, sb.bitmapStart+blk, off, buf); code < 0 {
				return code
			}
		}
	}

	// Inode table: all free.
	for i := range buf {
		buf[i] = 0
	}
	for blk := uint32(0); blk < sb.inodeBlks; blk++ {
		for off := uint32(0); off < sb.blockSize; off += cache {
			if code := cfg.Prog(cfg.Context, sb.inodeStart+blk, off, buf); code < 0 {
				return code
			}
		}
	}

	// Root directory at inode 0.
	var root inode
	root.init(typeDir)
	if code := fs.writeInode(0, &root); code < 0 {
		return code
	}

	return cfg.Sync(cfg.Context)
}

// Mount attaches to previously formatted media.
func Mount(cfg *Config) (*FS, int) {
	if !cfg.valid() {
		return nil, ErrInval
	}

	fs := &FS{cfg: cfg, scratch: make([]byte, cfg.cacheSize())}

	buf := make([]byte, 40)
	if code := cfg.Read(cfg.Context, 0, 0, buf); code < 0 {
		return nil, code
	}
	if getU32(buf[0:]) != magic || getU32(buf[4:]) != version {
		return nil, ErrCorrupt
	}

	fs.sb = superblock{
		blockSize:   getU32(buf[8:]),
		blockCount:  getU32(buf[12:]),
		inodeCount:  getU32(buf[16:]),
		bitmapStart: getU32(buf[20:]),
		bitmapBlks:  getU32(buf[24:]),
		inodeStart:  getU32(buf[28:]),
		inodeBlks:   getU32(buf[32:]),
		dataStart:   getU32(buf[36:]),
	}
	if fs.sb.blockSize != cfg.BlockSize || fs.sb.blockCount != cfg.BlockCount {
		return nil, ErrInval
	}
	return fs, ErrOK
}

// Unmount flushes the media. The instance must not be used afterwards.
func (fs *FS) Unmount() int {
	return fs.cfg.Sync(fs.cfg.Context)
}

// readAt reads an absolute byte range, splitting it on block boundaries.
// Absolute position = block*blockSize + offset.
func (fs *FS) readAt(pos uint64, buf []byte) int {
	bs := uint64(fs.sb.blockSize)
	for len(buf) > 0 {
		block := uint32(pos / bs)
		off := uint32(pos % bs)
		n := bs - uint64(off)
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}
		if block >= fs.sb.blockCount {
			return ErrInval
		}
		if code := fs.cfg.Read(fs.cfg.Context, block, off, buf[:n]); code < 0 {
			return code
		}
		buf = buf[n:]
		pos += n
	}
	return ErrOK
}

// progAt programs an absolute byte range, splitting it on block boundaries.
func (fs *FS) progAt(pos uint64, buf []byte) int {
	bs := uint64(fs.sb.blockSize)
	for len(buf) > 0 {
		block := uint32(pos / bs)
		off := uint32(pos % bs)
		n := bs - uint64(off)
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}
		if block >= fs.sb.blockCount {
			return ErrInval
		}
		if code := fs.cfg.Prog(fs.cfg.Context, block, off, buf[:n]); code < 0 {
			return code
		}
		buf = buf[n:]
		pos += n
	}
	return ErrOK
}

// allocBlock finds a free data block, marks it allocated and erases it. The
// bitmap is scanned one cache-sized chunk at a time.
func (fs *FS) allocBlock() (uint32, int) {
	bs := fs.sb.blockSize
	cache := uint32(len(fs.scratch))
	for blk := uint32(0); blk < fs.sb.bitmapBlks; blk++ {
		for off := uint32(0); off < bs; off += cache {
			if code := fs.cfg.Read(fs.cfg.Context, fs.sb.bitmapStart+blk, off, fs.scratch); code < 0 {
				return 0, code
			}
			for i := uint32(0); i < cache; i++ {
				if fs.scratch[i] == 0xFF {
					continue
				}
				for bit := uint32(0); bit < 8; bit++ {
					if fs.scratch[i]&(1<<bit) != 0 {
						continue
					}
					block := (blk*bs+off+i)*8 + bit
					if block >= fs.sb.blockCount {
						return 0, ErrNoSpc
					}
					if block < fs.sb.dataStart {
						continue
					}
					fs.scratch[i] |= 1 << bit
					one := []byte{fs.scratch[i]}
					if code := fs.cfg.Prog(fs.cfg.Context, fs.sb.bitmapStart+blk, off+i, one); code < 0 {
						return 0, code
					}
					if code := fs.cfg.Erase(fs.cfg.Context, block); code < 0 {
						return 0, code
					}
					return block, ErrOK
				}
			}
		}
	}
	return 0, ErrNoSpc
}

// freeBlock clears a block's allocation bit.
func (fs *FS) freeBlock(block uint32) int {
	if block == ptrNil || block < fs.sb.dataStart || block >= fs.sb.blockCount {
		return ErrInval
	}
	byteIdx := block / 8
	blk := byteIdx / fs.sb.blockSize
	off := byteIdx % fs.sb.blockSize

	one := make([]byte, 1)
	if code := fs.cfg.Read(fs.cfg.Context, fs.sb.bitmapStart+blk, off, one); code < 0 {
		return code
	}
	one[0] &^= 1 << (block % 8)
	return fs.cfg.Prog(fs.cfg.Context, fs.sb.bitmapStart+blk, off, one)
}

// Little-endian scalar helpers.

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU64(b []byte, v uint64) {
	putU32(b, uint32(v))
	putU32(b[4:], uint32(v>>32))
}

func getU64(b []byte) uint64 {
	return uint64(getU32(b)) | uint64(getU32(b[4:]))<<32
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
