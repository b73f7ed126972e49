package lfs

// Inode types on media.
const (
	typeFree = 0
	typeFile = 1
	typeDir  = 2
)

// inode is the fixed 128-byte on-media record describing one entry: type,
// link count, size, ten direct block pointers, one single-indirect pointer,
// and a single custom attribute slot.
type inode struct {
	typ      uint8
	attrID   uint8
	attrLen  uint16
	nlink    uint32
	size     uint64
	direct   [directPtrs]uint32
	indirect uint32
	attr     [MaxAttr]byte
}

// init resets the record for a freshly allocated entry.
func (in *inode) init(typ uint8) {
	*in = inode{typ: typ, nlink: 1, indirect: ptrNil}
	for i := range in.direct {
		in.direct[i] = ptrNil
	}
}

func (in *inode) encode(buf []byte) {
	for i := range buf[:inodeSize] {
		buf[i] = 0
	}
	buf[0] = in.typ
	buf[1] = in.attrID
	putU16(buf[2:], in.attrLen)
	putU32(buf[4:], in.nlink)
	putU64(buf[8:], in.size)
	for i, p := range in.direct {
		putU32(buf[16+4*i:], p)
	}
	putU32(buf[56:], in.indirect)
	copy(buf[64:], in.attr[:])
}

func (in *inode) decode(buf []byte) {
	in.typ = buf[0]
	in.attrID = buf[1]
	in.attrLen = getU16(buf[2:])
	in.nlink = getU32(buf[4:])
	in.size = getU64(buf[8:])
	for i := range in.direct {
		in.direct[i] = getU32(buf[16+4*i:])
	}
	in.indirect = getU32(buf[56:])
	copy(in.attr[:], buf[64:inodeSize])
}

// inodePos returns the absolute media position of an inode record.
func (fs *FS) inodePos(idx uint32) uint64 {
	return uint64(fs.sb.inodeStart)*uint64(fs.sb.blockSize) + uint64(idx)*inodeSize
}

// readInode loads inode idx.
func (fs *FS) readInode(idx uint32, in *inode) int {
	if idx >= fs.sb.inodeCount {
		return ErrInval
	}
	buf := make([]byte, inodeSize)
	if code := fs.readAt(fs.inodePos(idx), buf); code < 0 {
		return code
	}
	in.decode(buf)
	return ErrOK
}

// writeInode stores inode idx.
func (fs *FS) writeInode(idx uint32, in *inode) int {
	if idx >= fs.sb.inodeCount {
		return ErrInval
	}
	buf := make([]byte, inodeSize)
	in.encode(buf)
	return fs.progAt(fs.inodePos(idx), buf)
}

// allocInode finds a free inode slot and initializes it.
func (fs *FS) allocInode(typ uint8) (uint32, int) {
	var in inode
	for idx := uint32(0); idx < fs.sb.inodeCount; idx++ {
		if code := fs.readInode(idx, &in); code < 0 {
			return 0, code
		}
		if in.typ != typeFree {
			continue
		}
		in.init(typ)
		if code := fs.writeInode(idx, &in); code < 0 {
			return 0, code
		}
		return idx, ErrOK
	}
	return 0, ErrNoSpc
}

// ptrsPerBlock is the pointer capacity of an indirect block.
func (fs *FS) ptrsPerBlock() uint32 { return fs.sb.blockSize / 4 }

// maxFileSize is the addressable limit with the direct and single-indirect
// scheme.
func (fs *FS) maxFileSize() uint64 {
	return uint64(directPtrs+fs.ptrsPerBlock()) * uint64(fs.sb.blockSize)
}

// blockFor maps a file-relative block index to a media block, allocating
// the data block (and indirect block) on demand when allocate is set. A
// result of ptrNil with ErrOK means an unallocated hole.
func (fs *FS) blockFor(idx uint32, in *inode, fileBlock uint32, allocate bool) (uint32, int) {
	if fileBlock < directPtrs {
		block := in.direct[fileBlock]
		if block == ptrNil && allocate {
			var code int
			block, code = fs.allocBlock()
			if code < 0 {
				return 0, code
			}
			in.direct[fileBlock] = block
			if code := fs.writeInode(idx, in); code < 0 {
				return 0, code
			}
		}
		return block, ErrOK
	}

	slot := fileBlock - directPtrs
	if slot >= fs.ptrsPerBlock() {
		return 0, ErrFBig
	}

	if in.indirect == ptrNil {
		if !allocate {
			return ptrNil, ErrOK
		}
		block, code := fs.allocBlock()
		if code < 0 {
			return 0, code
		}
		// Freshly erased: all pointers read back as ptrNil.
		in.indirect = block
		if code := fs.writeInode(idx, in); code < 0 {
			return 0, code
		}
	}

	pos := uint64(in.indirect)*uint64(fs.sb.blockSize) + uint64(slot)*4
	ptr := make([]byte, 4)
	if code := fs.readAt(pos, ptr); code < 0 {
		return 0, code
	}
	block := getU32(ptr)
	if block == ptrNil && allocate {
		var code int
		block, code = fs.allocBlock()
		if code < 0 {
			return 0, code
		}
		putU32(ptr, block)
		if code := fs.progAt(pos, ptr); code < 0 {
			return 0, code
		}
	}
	return block, ErrOK
}

// freeContents releases every data block an inode references.
func (fs *FS) freeContents(in *inode) int {
	for i, block := range in.direct {
		if block != ptrNil {
			if code := fs.freeBlock(block); code < 0 {
				return code
			}
			in.direct[i] = ptrNil
		}
	}
	if in.indirect != ptrNil {
		ptr := make([]byte, 4)
		for slot := uint32(0); slot < fs.ptrsPerBlock(); slot++ {
			pos := uint64(in.indirect)*uint64(fs.sb.blockSize) + uint64(slot)*4
			if code := fs.readAt(pos, ptr); code < 0 {
				return code
			}
			if block := getU32(ptr); block != ptrNil {
				if code := fs.freeBlock(block); code < 0 {
					return code
				}
			}
		}
		if code := fs.freeBlock(in.indirect); code < 0 {
			return code
		}
		in.indirect = ptrNil
	}
	in.size = 0
	return ErrOK
}

// shrinkContents releases every data block past the new size, returning the
// indirect block too once no pointer in it survives.
func (fs *FS) shrinkContents(in *inode, size uint64) int {
	bs := uint64(fs.sb.blockSize)
	keep := uint32((size + bs - 1) / bs)

	for i := keep; i < directPtrs; i++ {
		if in.direct[i] == ptrNil {
			continue
		}
		if code := fs.freeBlock(in.direct[i]); code < 0 {
			return code
		}
		in.direct[i] = ptrNil
	}

	if in.indirect != ptrNil {
		firstSlot := uint32(0)
		if keep > directPtrs {
			firstSlot = keep - directPtrs
		}
		ptr := make([]byte, 4)
		for slot := firstSlot; slot < fs.ptrsPerBlock(); slot++ {
			pos := uint64(in.indirect)*bs + uint64(slot)*4
			if code := fs.readAt(pos, ptr); code < 0 {
				return code
			}
			block := getU32(ptr)
			if block == ptrNil {
				continue
			}
			if code := fs.freeBlock(block); code < 0 {
				return code
			}
			putU32(ptr, ptrNil)
			if code := fs.progAt(pos, ptr); code < 0 {
				return code
			}
		}
		if keep <= directPtrs {
			if code := fs.freeBlock(in.indirect); code < 0 {
				return code
			}
			in.indirect = ptrNil
		}
	}

	in.size = size
	return ErrOK
}

// readContents reads from an inode's data at pos. Holes read as 0xFF, the
// erased-media value.
func (fs *FS) readContents(idx uint32, in *inode, pos uint64, buf []byte) int {
	bs := uint64(fs.sb.blockSize)
	for len(buf) > 0 {
		fileBlock := uint32(pos / bs)
		off := pos % bs
		n := bs - off
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}

		block, code := fs.blockFor(idx, in, fileBlock, false)
		if code < 0 {
			return code
		}
		if block == ptrNil {
			for i := range buf[:n] {
				buf[i] = 0xFF
			}
		} else {
			abs := uint64(block)*bs + off
			if code := fs.readAt(abs, buf[:n]); code < 0 {
				return code
			}
		}
		buf = buf[n:]
		pos += n
	}
	return ErrOK
}

// writeContents writes into an inode's data at pos, allocating blocks as
// needed and growing the recorded size.
func (fs *FS) writeContents(idx uint32, in *inode, pos uint64, buf []byte) int {
	if pos+uint64(len(buf)) > fs.maxFileSize() {
		return ErrFBig
	}
	bs := uint64(fs.sb.blockSize)
	remaining := buf
	for len(remaining) > 0 {
		fileBlock := uint32(pos / bs)
		off := pos % bs
		n := bs - off
		if n > uint64(len(remaining)) {
			n = uint64(len(remaining))
		}

		block, code := fs.blockFor(idx, in, fileBlock, true)
		if code < 0 {
			return code
		}
		abs := uint64(block)*bs + off
		if code := fs.progAt(abs, remaining[:n]); code < 0 {
			return code
		}
		remaining = remaining[n:]
		pos += n
	}
	if pos > in.size {
		in.size = pos
		if code := fs.writeInode(idx, in); code < 0 {
			return code
		}
	}
	return ErrOK
}
