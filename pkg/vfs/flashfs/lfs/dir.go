package lfs

import "strings"

// Info describes one entry, as filled by Stat and Dir.Read.
type Info struct {
	Type  uint8
	Size  uint64
	Inode uint32
	Name  string
}

// dirent is the fixed 64-byte directory record: child inode (ptrNil marks a
// tombstone), entry type, and the name.
type dirent struct {
	inode uint32
	typ   uint8
	name  string
}

func encodeDirent(buf []byte, d *dirent) {
	for i := range buf[:direntSize] {
		buf[i] = 0
	}
	putU32(buf[0:], d.inode)
	buf[4] = d.typ
	buf[5] = uint8(len(d.name))
	copy(buf[8:], d.name)
}

func decodeDirent(buf []byte, d *dirent) {
	d.inode = getU32(buf[0:])
	d.typ = buf[4]
	n := int(buf[5])
	if n > MaxName {
		n = MaxName
	}
	d.name = string(buf[8 : 8+n])
}

// splitPath breaks a slash-separated path into components.
func splitPath(path string) []string {
	var out []string
	for _, comp := range strings.Split(path, "/") {
		if comp != "" && comp != "." {
			out = append(out, comp)
		}
	}
	return out
}

// direntAt loads directory slot i.
func (fs *FS) direntAt(dirIdx uint32, dir *inode, i uint32, d *dirent) int {
	buf := make([]byte, direntSize)
	if code := fs.readContents(dirIdx, dir, uint64(i)*direntSize, buf); code < 0 {
		return code
	}
	decodeDirent(buf, d)
	return ErrOK
}

// findDirent scans a directory for name, returning the slot and record.
func (fs *FS) findDirent(dirIdx uint32, dir *inode, name string) (uint32, dirent, int) {
	var d dirent
	slots := uint32(dir.size / direntSize)
	for i := uint32(0); i < slots; i++ {
		if code := fs.direntAt(dirIdx, dir, i, &d); code < 0 {
			return 0, d, code
		}
		if d.inode != ptrNil && d.name == name {
			return i, d, ErrOK
		}
	}
	return 0, d, ErrNoEnt
}

// addDirent records a child in a directory, reusing a tombstone slot when
// one exists.
func (fs *FS) addDirent(dirIdx uint32, dir *inode, name string, child uint32, typ uint8) int {
	if len(name) == 0 {
		return ErrInval
	}
	if len(name) > MaxName {
		return ErrNameTooLong
	}

	slot := uint32(dir.size / direntSize)
	var d dirent
	for i := uint32(0); i < slot; i++ {
		if code := fs.direntAt(dirIdx, dir, i, &d); code < 0 {
			return code
		}
		if d.inode == ptrNil {
			slot = i
			break
		}
	}

	buf := make([]byte, direntSize)
	encodeDirent(buf, &dirent{inode: child, typ: typ, name: name})
	return fs.writeContents(dirIdx, dir, uint64(slot)*direntSize, buf)
}

// removeDirent tombstones a child's slot.
func (fs *FS) removeDirent(dirIdx uint32, dir *inode, slot uint32) int {
	buf := make([]byte, direntSize)
	encodeDirent(buf, &dirent{inode: ptrNil})
	return fs.writeContents(dirIdx, dir, uint64(slot)*direntSize, buf)
}

// liveEntries counts non-tombstone records in a directory.
func (fs *FS) liveEntries(dirIdx uint32, dir *inode) (uint32, int) {
	var d dirent
	var live uint32
	slots := uint32(dir.size / direntSize)
	for i := uint32(0); i < slots; i++ {
		if code := fs.direntAt(dirIdx, dir, i, &d); code < 0 {
			return 0, code
		}
		if d.inode != ptrNil {
			live++
		}
	}
	return live, ErrOK
}

// lookup resolves a path to its inode index.
func (fs *FS) lookup(path string) (uint32, int) {
	idx := uint32(0)
	var in inode
	for _, comp := range splitPath(path) {
		if code := fs.readInode(idx, &in); code < 0 {
			return 0, code
		}
		if in.typ != typeDir {
			return 0, ErrNotDir
		}
		_, d, code := fs.findDirent(idx, &in, comp)
		if code < 0 {
			return 0, code
		}
		idx = d.inode
	}
	return idx, ErrOK
}

// lookupParent resolves a path to its parent directory's inode index and
// the final component name.
func (fs *FS) lookupParent(path string) (uint32, string, int) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return 0, "", ErrInval
	}
	name := comps[len(comps)-1]

	parent := "/" + strings.Join(comps[:len(comps)-1], "/")
	idx, code := fs.lookup(parent)
	if code < 0 {
		return 0, "", code
	}
	return idx, name, ErrOK
}

// Mkdir creates a directory. The parent must exist.
func (fs *FS) Mkdir(path string) int {
	parentIdx, name, code := fs.lookupParent(path)
	if code < 0 {
		return code
	}

	var parent inode
	if code := fs.readInode(parentIdx, &parent); code < 0 {
		return code
	}
	if parent.typ != typeDir {
		return ErrNotDir
	}
	if _, _, code := fs.findDirent(parentIdx, &parent, name); code == ErrOK {
		return ErrExist
	} else if code != ErrNoEnt {
		return code
	}

	childIdx, code := fs.allocInode(typeDir)
	if code < 0 {
		return code
	}
	return fs.addDirent(parentIdx, &parent, name, childIdx, TypeDir)
}

// Remove deletes a file or an empty directory.
func (fs *FS) Remove(path string) int {
	parentIdx, name, code := fs.lookupParent(path)
	if code < 0 {
		return code
	}

	var parent inode
	if code := fs.readInode(parentIdx, &parent); code < 0 {
		return code
	}
	slot, d, code := fs.findDirent(parentIdx, &parent, name)
	if code < 0 {
		return code
	}

	var child inode
	if code := fs.readInode(d.inode, &child); code < 0 {
		return code
	}
	if child.typ == typeDir {
		live, code := fs.liveEntries(d.inode, &child)
		if code < 0 {
			return code
		}
		if live > 0 {
			return ErrNotEmpty
		}
	}

	if code := fs.freeContents(&child); code < 0 {
		return code
	}
	child.typ = typeFree
	if code := fs.writeInode(d.inode, &child); code < 0 {
		return code
	}
	return fs.removeDirent(parentIdx, &parent, slot)
}

// Rename moves oldPath to newPath. An existing file or empty directory at
// newPath is replaced.
func (fs *FS) Rename(oldPath, newPath string) int {
	oldParentIdx, oldName, code := fs.lookupParent(oldPath)
	if code < 0 {
		return code
	}
	var oldParent inode
	if code := fs.readInode(oldParentIdx, &oldParent); code < 0 {
		return code
	}
	oldSlot, d, code := fs.findDirent(oldParentIdx, &oldParent, oldName)
	if code < 0 {
		return code
	}

	newParentIdx, newName, code := fs.lookupParent(newPath)
	if code < 0 {
		return code
	}
	var newParent inode
	if code := fs.readInode(newParentIdx, &newParent); code < 0 {
		return code
	}

	if _, existing, code := fs.findDirent(newParentIdx, &newParent, newName); code == ErrOK {
		if existing.inode == d.inode {
			return ErrOK
		}
		if code := fs.Remove(newPath); code < 0 {
			return code
		}
		// Reload: removal rewrote both directories.
		if code := fs.readInode(newParentIdx, &newParent); code < 0 {
			return code
		}
		if code := fs.readInode(oldParentIdx, &oldParent); code < 0 {
			return code
		}
	} else if code != ErrNoEnt {
		return code
	}

	if code := fs.addDirent(newParentIdx, &newParent, newName, d.inode, d.typ); code < 0 {
		return code
	}
	if oldParentIdx == newParentIdx {
		if code := fs.readInode(oldParentIdx, &oldParent); code < 0 {
			return code
		}
	}
	return fs.removeDirent(oldParentIdx, &oldParent, oldSlot)
}

// Stat fills info for the entry at path.
func (fs *FS) Stat(path string, info *Info) int {
	idx, code := fs.lookup(path)
	if code < 0 {
		return code
	}
	var in inode
	if code := fs.readInode(idx, &in); code < 0 {
		return code
	}

	info.Inode = idx
	info.Size = in.size
	info.Name = ""
	if comps := splitPath(path); len(comps) > 0 {
		info.Name = comps[len(comps)-1]
	}
	if in.typ == typeDir {
		info.Type = TypeDir
		live, code := fs.liveEntries(idx, &in)
		if code < 0 {
			return code
		}
		info.Size = uint64(live)
	} else {
		info.Type = TypeReg
	}
	return ErrOK
}

// Dir is an open directory iterator.
type Dir struct {
	fs   *FS
	idx  uint32
	slot uint32
	open bool
}

// OpenDir opens a directory for iteration.
func (fs *FS) OpenDir(path string) (*Dir, int) {
	idx, code := fs.lookup(path)
	if code < 0 {
		return nil, code
	}
	var in inode
	if code := fs.readInode(idx, &in); code < 0 {
		return nil, code
	}
	if in.typ != typeDir {
		return nil, ErrNotDir
	}
	return &Dir{fs: fs, idx: idx, open: true}, ErrOK
}

// Read fills info with the next entry. It returns 1 when an entry was
// produced, 0 at the end of the directory, and a negative code on error.
func (d *Dir) Read(info *Info) int {
	if !d.open {
		return ErrBadF
	}

	var dir inode
	if code := d.fs.readInode(d.idx, &dir); code < 0 {
		return code
	}

	slots := uint32(dir.size / direntSize)
	var ent dirent
	for d.slot < slots {
		if code := d.fs.direntAt(d.idx, &dir, d.slot, &ent); code < 0 {
			return code
		}
		d.slot++
		if ent.inode == ptrNil {
			continue
		}

		var child inode
		if code := d.fs.readInode(ent.inode, &child); code < 0 {
			return code
		}
		info.Name = ent.name
		info.Type = ent.typ
		info.Inode = ent.inode
		info.Size = child.size
		return 1
	}
	return 0
}

// Rewind resets the iterator to the first entry.
func (d *Dir) Rewind() int {
	if !d.open {
		return ErrBadF
	}
	d.slot = 0
	return ErrOK
}

// Close releases the iterator.
func (d *Dir) Close() int {
	if !d.open {
		return ErrBadF
	}
	d.open = false
	return ErrOK
}
