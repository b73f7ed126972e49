package lfs

// File is an open file handle with its own position.
type File struct {
	fs    *FS
	idx   uint32
	flags int
	pos   uint64
	open  bool
}

// OpenFile opens or creates the file at path.
func (fs *FS) OpenFile(path string, flags int) (*File, int) {
	if flags&ORdWr == 0 {
		return nil, ErrInval
	}

	idx, code := fs.lookup(path)
	switch {
	case code == ErrOK:
		if flags&OExcl != 0 && flags&OCreat != 0 {
			return nil, ErrExist
		}
	case code == ErrNoEnt && flags&OCreat != 0:
		parentIdx, name, pcode := fs.lookupParent(path)
		if pcode < 0 {
			return nil, pcode
		}
		var parent inode
		if pcode := fs.readInode(parentIdx, &parent); pcode < 0 {
			return nil, pcode
		}
		if parent.typ != typeDir {
			return nil, ErrNotDir
		}
		idx, code = fs.allocInode(typeFile)
		if code < 0 {
			return nil, code
		}
		if code := fs.addDirent(parentIdx, &parent, name, idx, TypeReg); code < 0 {
			return nil, code
		}
	default:
		return nil, code
	}

	var in inode
	if code := fs.readInode(idx, &in); code < 0 {
		return nil, code
	}
	if in.typ == typeDir {
		return nil, ErrIsDir
	}

	f := &File{fs: fs, idx: idx, flags: flags, open: true}
	if flags&OTrunc != 0 && flags&OWrOnly != 0 {
		if code := f.Truncate(0); code < 0 {
			return nil, code
		}
	}
	return f, ErrOK
}

// Size returns the current file size.
func (f *File) Size() int64 {
	if !f.open {
		return int64(ErrBadF)
	}
	var in inode
	if code := f.fs.readInode(f.idx, &in); code < 0 {
		return int64(code)
	}
	return int64(in.size)
}

// Read reads up to len(buf) bytes at the file position, returning the count
// read or a negative code.
func (f *File) Read(buf []byte) int {
	if !f.open {
		return ErrBadF
	}
	if f.flags&ORdOnly == 0 {
		return ErrBadF
	}

	var in inode
	if code := f.fs.readInode(f.idx, &in); code < 0 {
		return code
	}

	if f.pos >= in.size {
		return 0
	}
	n := uint64(len(buf))
	if max := in.size - f.pos; n > max {
		n = max
	}
	if code := f.fs.readContents(f.idx, &in, f.pos, buf[:n]); code < 0 {
		return code
	}
	f.pos += n
	return int(n)
}

// Write writes len(buf) bytes at the file position, returning the count
// written or a negative code.
func (f *File) Write(buf []byte) int {
	if !f.open {
		return ErrBadF
	}
	if f.flags&OWrOnly == 0 {
		return ErrBadF
	}

	var in inode
	if code := f.fs.readInode(f.idx, &in); code < 0 {
		return code
	}

	if f.flags&OAppend != 0 {
		f.pos = in.size
	}
	if code := f.fs.writeContents(f.idx, &in, f.pos, buf); code < 0 {
		return code
	}
	f.pos += uint64(len(buf))
	return len(buf)
}

// Seek moves the file position, returning the new absolute position or a
// negative code.
func (f *File) Seek(offset int64, whence int) int64 {
	if !f.open {
		return int64(ErrBadF)
	}

	var in inode
	if code := f.fs.readInode(f.idx, &in); code < 0 {
		return int64(code)
	}

	var next int64
	switch whence {
	case SeekSet:
		next = offset
	case SeekCur:
		next = int64(f.pos) + offset
	case SeekEnd:
		next = int64(in.size) + offset
	default:
		return int64(ErrInval)
	}
	if next < 0 {
		return int64(ErrInval)
	}

	f.pos = uint64(next)
	return next
}

// Truncate resizes the file. Growing leaves a hole; shrinking releases the
// data blocks past the new end.
func (f *File) Truncate(size int64) int {
	if !f.open {
		return ErrBadF
	}
	if size < 0 {
		return ErrInval
	}

	var in inode
	if code := f.fs.readInode(f.idx, &in); code < 0 {
		return code
	}

	switch {
	case size == 0:
		if code := f.fs.freeContents(&in); code < 0 {
			return code
		}
	case uint64(size) < in.size:
		if code := f.fs.shrinkContents(&in, uint64(size)); code < 0 {
			return code
		}
	default:
		in.size = uint64(size)
	}
	if code := f.fs.writeInode(f.idx, &in); code < 0 {
		return code
	}
	if f.pos > uint64(size) {
		f.pos = uint64(size)
	}
	return ErrOK
}

// Sync flushes the media.
func (f *File) Sync() int {
	if !f.open {
		return ErrBadF
	}
	return f.fs.cfg.Sync(f.fs.cfg.Context)
}

// Close syncs and releases the handle.
func (f *File) Close() int {
	if !f.open {
		return ErrBadF
	}
	f.open = false
	return f.fs.cfg.Sync(f.fs.cfg.Context)
}
