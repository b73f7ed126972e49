package lfs

// Custom attributes attach a single fixed-size blob to any entry, keyed by
// a small non-zero attribute identifier. Layers above use them to store
// metadata the filesystem does not natively track.

// SetAttr stores an attribute on the entry at path, replacing any previous
// value regardless of its identifier.
func (fs *FS) SetAttr(path string, id uint8, data []byte) int {
	if id == 0 || len(data) > MaxAttr {
		return ErrInval
	}

	idx, code := fs.lookup(path)
	if code < 0 {
		return code
	}
	var in inode
	if code := fs.readInode(idx, &in); code < 0 {
		return code
	}

	in.attrID = id
	in.attrLen = uint16(len(data))
	for i := range in.attr {
		in.attr[i] = 0
	}
	copy(in.attr[:], data)
	return fs.writeInode(idx, &in)
}

// GetAttr reads the attribute with the given identifier from the entry at
// path into buf, returning the stored length or ErrNoAttr.
func (fs *FS) GetAttr(path string, id uint8, buf []byte) int {
	if id == 0 {
		return ErrInval
	}

	idx, code := fs.lookup(path)
	if code < 0 {
		return code
	}
	var in inode
	if code := fs.readInode(idx, &in); code < 0 {
		return code
	}

	if in.attrID != id {
		return ErrNoAttr
	}
	n := int(in.attrLen)
	if n > len(buf) {
		n = len(buf)
	}
	copy(buf[:n], in.attr[:n])
	return n
}

// RemoveAttr deletes the attribute with the given identifier.
func (fs *FS) RemoveAttr(path string, id uint8) int {
	if id == 0 {
		return ErrInval
	}

	idx, code := fs.lookup(path)
	if code < 0 {
		return code
	}
	var in inode
	if code := fs.readInode(idx, &in); code < 0 {
		return code
	}

	if in.attrID != id {
		return ErrNoAttr
	}
	in.attrID = 0
	in.attrLen = 0
	return fs.writeInode(idx, &in)
}
