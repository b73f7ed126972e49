// Package memfs provides an in-memory backing filesystem. It is useful for
// ephemeral mounts, testing, or as a temporary cache; a single instance
// serves many tasks, each with its own open-file table slice.
package memfs

import (
	"sync"
	"time"

	"tideos/pkg/task"
	"tideos/pkg/users"
	"tideos/pkg/vfs"
)

// node is one entry in the tree (file or directory).
type node struct {
	inode    vfs.Inode
	kind     vfs.Kind
	data     []byte
	children map[string]*node

	permissions vfs.Permissions
	user        users.UserID
	group       users.GroupID
	atime       time.Time
	mtime       time.Time
	ctime       time.Time
}

func (n *node) statistics() vfs.Statistics {
	size := vfs.Size(len(n.data))
	if n.kind == vfs.KindDirectory {
		size = vfs.Size(len(n.children))
	}
	return vfs.Statistics{
		Inode:            n.inode,
		Links:            1,
		Size:             size,
		AccessTime:       n.atime,
		ModificationTime: n.mtime,
		ChangeTime:       n.ctime,
		Kind:             n.kind,
		Permissions:      n.permissions,
		User:             n.user,
		Group:            n.group,
	}
}

// openFile is one task's handle on a node.
type openFile struct {
	node     *node
	flags    vfs.Flags
	position uint64
}

// openDirectory is an iterator with a stable entry order snapshot.
type openDirectory struct {
	node  *node
	names []string
	next  int
}

// FS is an in-memory backing filesystem.
type FS struct {
	mu        sync.Mutex
	authority users.Authority
	root      *node
	nextInode vfs.Inode
	nextFile  vfs.FileID
	files     map[vfs.LocalFileID]*openFile
	dirs      map[vfs.LocalFileID]*openDirectory
}

// New creates an empty filesystem with a root-owned root directory.
func New(authority users.Authority) *FS {
	now := time.Now()
	return &FS{
		authority: authority,
		root: &node{
			inode:       0,
			kind:        vfs.KindDirectory,
			children:    make(map[string]*node),
			permissions: 0o755,
			atime:       now,
			mtime:       now,
			ctime:       now,
		},
		nextInode: 1,
		nextFile:  vfs.MinimumFile,
		files:     make(map[vfs.LocalFileID]*openFile),
		dirs:      make(map[vfs.LocalFileID]*openDirectory),
	}
}

// resolve walks the tree. Callers hold f.mu.
func (f *FS) resolve(path vfs.Path) (*node, error) {
	n := f.root
	for _, comp := range vfs.Clean(path).Components() {
		if n.kind != vfs.KindDirectory {
			return nil, vfs.ErrNotDirectory
		}
		child, ok := n.children[comp]
		if !ok {
			return nil, vfs.ErrNotFound
		}
		n = child
	}
	return n, nil
}

// resolveParent walks to the parent of path's final component.
func (f *FS) resolveParent(path vfs.Path) (*node, string, error) {
	clean := vfs.Clean(path)
	if clean.IsRoot() {
		return nil, "", vfs.ErrInvalidPath
	}
	parent, err := f.resolve(clean.Parent())
	if err != nil {
		return nil, "", err
	}
	if parent.kind != vfs.KindDirectory {
		return nil, "", vfs.ErrNotDirectory
	}
	return parent, clean.Name(), nil
}

func (f *FS) allocateFileID() (vfs.FileID, error) {
	id := f.nextFile
	if id.IsDirectory() {
		return 0, vfs.ErrTooManyOpenFiles
	}
	f.nextFile++
	return id, nil
}

// Open implements vfs.FileSystem.
func (f *FS) Open(path vfs.Path, flags vfs.Flags, now time.Time, t task.ID, user users.UserID, group users.GroupID) (vfs.LocalFileID, error) {
	if !flags.Valid() {
		return 0, vfs.ErrInvalidParameter
	}
	if !path.Valid() {
		return 0, vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(path)
	switch {
	case err == nil:
		if flags&vfs.Create != 0 && flags&vfs.Exclusive != 0 {
			return 0, vfs.ErrAlreadyExists
		}
		if n.kind == vfs.KindDirectory {
			return 0, vfs.ErrIsDirectory
		}
		if err := vfs.CheckAccess(n.statistics(), user, group, f.authority, flags); err != nil {
			return 0, err
		}
		if flags&vfs.Truncate != 0 && flags.Writable() {
			n.data = nil
			n.mtime = now
		}

	case err == vfs.ErrNotFound && flags&vfs.Create != 0:
		parent, name, perr := f.resolveParent(path)
		if perr != nil {
			return 0, perr
		}
		if err := vfs.CheckAccess(parent.statistics(), user, group, f.authority, vfs.WriteOnly); err != nil {
			return 0, err
		}
		n = &node{
			inode:       f.nextInode,
			kind:        vfs.KindFile,
			permissions: 0o644,
			user:        user,
			group:       group,
			atime:       now,
			mtime:       now,
			ctime:       now,
		}
		f.nextInode++
		parent.children[name] = n
		parent.mtime = now

	default:
		return 0, err
	}

	id, err := f.allocateFileID()
	if err != nil {
		return 0, err
	}
	local := vfs.NewLocalFileID(t, id)
	of := &openFile{node: n, flags: flags}
	if flags&vfs.Append != 0 {
		of.position = uint64(len(n.data))
	}
	f.files[local] = of
	return local, nil
}

func (f *FS) lookupFile(file vfs.LocalFileID) (*openFile, error) {
	of, ok := f.files[file]
	if !ok {
		return nil, vfs.ErrInvalidIdentifier
	}
	return of, nil
}

// Close implements vfs.FileSystem.
func (f *FS) Close(file vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.lookupFile(file); err != nil {
		return err
	}
	delete(f.files, file)
	return nil
}

// CloseAll implements vfs.FileSystem.
func (f *FS) CloseAll(t task.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id := range f.files {
		if id.Task() == t {
			delete(f.files, id)
		}
	}
	for id := range f.dirs {
		if id.Task() == t {
			delete(f.dirs, id)
		}
	}
	return nil
}

// Duplicate implements vfs.FileSystem.
func (f *FS) Duplicate(file vfs.LocalFileID) (vfs.LocalFileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}
	id, err := f.allocateFileID()
	if err != nil {
		return 0, err
	}
	local := vfs.NewLocalFileID(file.Task(), id)
	dup := *of
	f.files[local] = &dup
	return local, nil
}

// Transfer implements vfs.FileSystem.
func (f *FS) Transfer(file vfs.LocalFileID, to task.ID) (vfs.LocalFileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}
	id, err := f.allocateFileID()
	if err != nil {
		return 0, err
	}
	local := vfs.NewLocalFileID(to, id)
	f.files[local] = of
	delete(f.files, file)
	return local, nil
}

// Read implements vfs.FileSystem.
func (f *FS) Read(file vfs.LocalFileID, buffer []byte, now time.Time) (vfs.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}
	if !of.flags.Readable() {
		return 0, vfs.ErrPermissionDenied
	}

	n := of.node
	if of.position >= uint64(len(n.data)) {
		return 0, nil
	}
	count := copy(buffer, n.data[of.position:])
	of.position += uint64(count)
	n.atime = now
	return vfs.Size(count), nil
}

// Write implements vfs.FileSystem.
func (f *FS) Write(file vfs.LocalFileID, buffer []byte, now time.Time) (vfs.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}
	if !of.flags.Writable() {
		return 0, vfs.ErrPermissionDenied
	}

	n := of.node
	if of.flags&vfs.Append != 0 {
		of.position = uint64(len(n.data))
	}
	needed := of.position + uint64(len(buffer))
	if needed > uint64(len(n.data)) {
		grown := make([]byte, needed)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[of.position:], buffer)
	of.position += uint64(len(buffer))
	n.atime = now
	n.mtime = now
	return vfs.Size(len(buffer)), nil
}

// SetPosition implements vfs.FileSystem.
func (f *FS) SetPosition(file vfs.LocalFileID, position *vfs.Position) (vfs.Size, error) {
	if position == nil {
		return 0, vfs.ErrInvalidParameter
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}

	var next int64
	switch position.Whence {
	case vfs.Start:
		next = position.Offset
	case vfs.Current:
		next = int64(of.position) + position.Offset
	case vfs.End:
		next = int64(len(of.node.data)) + position.Offset
	default:
		return 0, vfs.ErrInvalidParameter
	}
	if next < 0 {
		return 0, vfs.ErrInvalidParameter
	}

	of.position = uint64(next)
	of.node.atime = time.Now()
	return vfs.Size(next), nil
}

// Flush implements vfs.FileSystem. Memory is always consistent.
func (f *FS) Flush(file vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.lookupFile(file)
	return err
}

// Remove implements vfs.FileSystem.
func (f *FS) Remove(path vfs.Path) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParent(path)
	if err != nil {
		return err
	}
	child, ok := parent.children[name]
	if !ok {
		return vfs.ErrNotFound
	}
	if child.kind == vfs.KindDirectory && len(child.children) > 0 {
		return vfs.ErrDirectoryNotEmpty
	}
	delete(parent.children, name)
	parent.mtime = time.Now()
	return nil
}

// Rename implements vfs.FileSystem.
func (f *FS) Rename(oldPath, newPath vfs.Path) error {
	if !oldPath.Valid() || !newPath.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	oldParent, oldName, err := f.resolveParent(oldPath)
	if err != nil {
		return err
	}
	child, ok := oldParent.children[oldName]
	if !ok {
		return vfs.ErrNotFound
	}

	newParent, newName, err := f.resolveParent(newPath)
	if err != nil {
		return err
	}
	if existing, ok := newParent.children[newName]; ok {
		if existing == child {
			return nil
		}
		if existing.kind == vfs.KindDirectory && len(existing.children) > 0 {
			return vfs.ErrDirectoryNotEmpty
		}
	}

	delete(oldParent.children, oldName)
	newParent.children[newName] = child
	now := time.Now()
	oldParent.mtime = now
	newParent.mtime = now
	return nil
}

// CreateDirectory implements vfs.FileSystem.
func (f *FS) CreateDirectory(path vfs.Path, now time.Time, user users.UserID, group users.GroupID) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParent(path)
	if err != nil {
		return err
	}
	if err := vfs.CheckAccess(parent.statistics(), user, group, f.authority, vfs.WriteOnly); err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return vfs.ErrAlreadyExists
	}

	parent.children[name] = &node{
		inode:       f.nextInode,
		kind:        vfs.KindDirectory,
		children:    make(map[string]*node),
		permissions: 0o755,
		user:        user,
		group:       group,
		atime:       now,
		mtime:       now,
		ctime:       now,
	}
	f.nextInode++
	parent.mtime = now
	return nil
}

// OpenDirectory implements vfs.FileSystem.
func (f *FS) OpenDirectory(path vfs.Path, t task.ID) (vfs.LocalFileID, error) {
	if !path.Valid() {
		return 0, vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	if n.kind != vfs.KindDirectory {
		return 0, vfs.ErrNotDirectory
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}

	id, err := f.allocateFileID()
	if err != nil {
		return 0, err
	}
	local := vfs.NewLocalFileID(t, id.AsDirectory())
	f.dirs[local] = &openDirectory{node: n, names: names}
	return local, nil
}

// ReadDirectory implements vfs.FileSystem.
func (f *FS) ReadDirectory(directory vfs.LocalFileID) (*vfs.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	od, ok := f.dirs[directory]
	if !ok {
		return nil, vfs.ErrInvalidIdentifier
	}

	for od.next < len(od.names) {
		name := od.names[od.next]
		od.next++
		child, ok := od.node.children[name]
		if !ok {
			// Deleted while iterating.
			continue
		}
		size := vfs.Size(len(child.data))
		if child.kind == vfs.KindDirectory {
			size = vfs.Size(len(child.children))
		}
		return &vfs.Entry{
			Inode: child.inode,
			Name:  name,
			Kind:  child.kind,
			Size:  size,
		}, nil
	}
	return nil, nil
}

// RewindDirectory implements vfs.FileSystem.
func (f *FS) RewindDirectory(directory vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	od, ok := f.dirs[directory]
	if !ok {
		return vfs.ErrInvalidIdentifier
	}
	names := make([]string, 0, len(od.node.children))
	for name := range od.node.children {
		names = append(names, name)
	}
	od.names = names
	od.next = 0
	return nil
}

// CloseDirectory implements vfs.FileSystem.
func (f *FS) CloseDirectory(directory vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.dirs[directory]; !ok {
		return vfs.ErrInvalidIdentifier
	}
	delete(f.dirs, directory)
	return nil
}

// GetStatistics implements vfs.FileSystem.
func (f *FS) GetStatistics(file vfs.LocalFileID) (vfs.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if of, ok := f.files[file]; ok {
		return of.node.statistics(), nil
	}
	if od, ok := f.dirs[file]; ok {
		return od.node.statistics(), nil
	}
	return vfs.Statistics{}, vfs.ErrInvalidIdentifier
}

// Stat implements vfs.FileSystem.
func (f *FS) Stat(path vfs.Path) (vfs.Statistics, error) {
	if !path.Valid() {
		return vfs.Statistics{}, vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(path)
	if err != nil {
		return vfs.Statistics{}, err
	}
	return n.statistics(), nil
}

// SetPermissions implements vfs.FileSystem.
func (f *FS) SetPermissions(path vfs.Path, permissions vfs.Permissions, now time.Time) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(path)
	if err != nil {
		return err
	}
	n.permissions = permissions
	n.ctime = now
	return nil
}

// SetOwner implements vfs.FileSystem.
func (f *FS) SetOwner(path vfs.Path, user users.UserID, group users.GroupID, now time.Time) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(path)
	if err != nil {
		return err
	}
	n.user = user
	n.group = group
	n.ctime = now
	return nil
}
