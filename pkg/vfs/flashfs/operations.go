package flashfs

import (
	"time"

	"tideos/pkg/task"
	"tideos/pkg/users"
	"tideos/pkg/vfs"
	"tideos/pkg/vfs/flashfs/lfs"
)

// allocateFileID hands out the next file identifier. Callers hold f.mu.
// The counter never produces the directory discriminator bit; exhausting
// the space would take 2^31 opens over one mount's lifetime.
func (f *FileSystem) allocateFileID() (vfs.FileID, error) {
	id := f.nextFile
	if id.IsDirectory() {
		return 0, vfs.ErrTooManyOpenFiles
	}
	f.nextFile++
	return id, nil
}

// Open implements vfs.FileSystem.
func (f *FileSystem) Open(path vfs.Path, flags vfs.Flags, now time.Time, t task.ID, user users.UserID, group users.GroupID) (vfs.LocalFileID, error) {
	if !flags.Valid() {
		return 0, vfs.ErrInvalidParameter
	}
	if !path.Valid() {
		return 0, vfs.ErrInvalidPath
	}
	path = vfs.Clean(path)

	f.mu.Lock()
	defer f.mu.Unlock()

	var info lfs.Info
	exists := f.fs.Stat(string(path), &info) == lfs.ErrOK

	if exists {
		statistics, err := f.statistics(path)
		if err != nil {
			return 0, err
		}
		if err := vfs.CheckAccess(statistics, user, group, f.authority, flags); err != nil {
			return 0, err
		}
	} else {
		if flags&vfs.Create == 0 {
			return 0, vfs.ErrNotFound
		}
		// Creation requires write access to the parent directory.
		parent, err := f.statistics(path.Parent())
		if err != nil {
			return 0, err
		}
		if err := vfs.CheckAccess(parent, user, group, f.authority, vfs.WriteOnly); err != nil {
			return 0, err
		}
	}

	file, code := f.fs.OpenFile(string(path), mapFlags(flags))
	if code < 0 {
		return 0, translate(code)
	}

	if !exists {
		meta := metadata{
			Kind:             vfs.KindFile,
			User:             user,
			Group:            group,
			Permissions:      defaultFilePermissions,
			AccessTime:       now,
			ModificationTime: now,
			ChangeTime:       now,
		}
		if err := f.writeMetadata(path, &meta); err != nil {
			file.Close()
			return 0, err
		}
	}

	id, err := f.allocateFileID()
	if err != nil {
		file.Close()
		return 0, err
	}
	local := vfs.NewLocalFileID(t, id)
	f.files[local] = &openFile{file: file, path: path, flags: flags}

	f.log.Trace().Str("path", path.String()).Uint64("file", uint64(local)).Msg("open")
	return local, nil
}

// lookupFile resolves a handle. Callers hold f.mu.
func (f *FileSystem) lookupFile(file vfs.LocalFileID) (*openFile, error) {
	of, ok := f.files[file]
	if !ok {
		return nil, vfs.ErrInvalidIdentifier
	}
	return of, nil
}

// Close implements vfs.FileSystem.
func (f *FileSystem) Close(file vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return err
	}
	delete(f.files, file)
	if code := of.file.Close(); code < 0 {
		return translate(code)
	}
	return nil
}

// CloseAll implements vfs.FileSystem.
func (f *FileSystem) CloseAll(t task.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, of := range f.files {
		if id.Task() == t {
			of.file.Close()
			delete(f.files, id)
		}
	}
	for id, od := range f.dirs {
		if id.Task() == t {
			od.dir.Close()
			delete(f.dirs, id)
		}
	}
	return nil
}

// Duplicate implements vfs.FileSystem.
func (f *FileSystem) Duplicate(file vfs.LocalFileID) (vfs.LocalFileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}

	// Reopen the same entry; the duplicate keeps an independent position
	// starting where the original is now.
	dup, code := f.fs.OpenFile(string(of.path), mapFlags(of.flags&^(vfs.Truncate|vfs.Exclusive|vfs.Create)))
	if code < 0 {
		return 0, translate(code)
	}
	if pos := of.file.Seek(0, lfs.SeekCur); pos >= 0 {
		dup.Seek(pos, lfs.SeekSet)
	}

	id, err := f.allocateFileID()
	if err != nil {
		dup.Close()
		return 0, err
	}
	local := vfs.NewLocalFileID(file.Task(), id)
	f.files[local] = &openFile{file: dup, path: of.path, flags: of.flags}
	return local, nil
}

// Transfer implements vfs.FileSystem.
func (f *FileSystem) Transfer(file vfs.LocalFileID, to task.ID) (vfs.LocalFileID, error) {
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
func (f *FileSystem) Read(file vfs.LocalFileID, buffer []byte, now time.Time) (vfs.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}
	if !of.flags.Readable() {
		return 0, vfs.ErrPermissionDenied
	}

	n := of.file.Read(buffer)
	if n < 0 {
		return 0, translate(n)
	}

	if m, err := f.readMetadata(of.path); err == nil {
		m.AccessTime = now
		if err := f.writeMetadata(of.path, &m); err != nil {
			f.log.Warn().Err(err).Str("path", of.path.String()).Msg("access time update failed")
		}
	}
	return vfs.Size(n), nil
}

// Write implements vfs.FileSystem.
func (f *FileSystem) Write(file vfs.LocalFileID, buffer []byte, now time.Time) (vfs.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}
	if !of.flags.Writable() {
		return 0, vfs.ErrPermissionDenied
	}

	n := of.file.Write(buffer)
	if n < 0 {
		return 0, translate(n)
	}
	if n != len(buffer) {
		return vfs.Size(n), vfs.ErrInputOutput
	}

	if m, err := f.readMetadata(of.path); err == nil {
		m.AccessTime = now
		m.ModificationTime = now
		if err := f.writeMetadata(of.path, &m); err != nil {
			f.log.Warn().Err(err).Str("path", of.path.String()).Msg("timestamp update failed")
		}
	}
	return vfs.Size(n), nil
}

// SetPosition implements vfs.FileSystem.
func (f *FileSystem) SetPosition(file vfs.LocalFileID, position *vfs.Position) (vfs.Size, error) {
	if position == nil {
		return 0, vfs.ErrInvalidParameter
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return 0, err
	}

	var whence int
	switch position.Whence {
	case vfs.Start:
		whence = lfs.SeekSet
	case vfs.Current:
		whence = lfs.SeekCur
	case vfs.End:
		whence = lfs.SeekEnd
	default:
		return 0, vfs.ErrInvalidParameter
	}

	pos := of.file.Seek(position.Offset, whence)
	if pos < 0 {
		return 0, translate(int(pos))
	}
	return vfs.Size(pos), nil
}

// Flush implements vfs.FileSystem.
func (f *FileSystem) Flush(file vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	of, err := f.lookupFile(file)
	if err != nil {
		return err
	}
	if code := of.file.Sync(); code < 0 {
		return translate(code)
	}
	return nil
}

// Remove implements vfs.FileSystem.
func (f *FileSystem) Remove(path vfs.Path) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if code := f.fs.Remove(string(vfs.Clean(path))); code < 0 {
		return translate(code)
	}
	return nil
}

// Rename implements vfs.FileSystem.
func (f *FileSystem) Rename(oldPath, newPath vfs.Path) error {
	if !oldPath.Valid() || !newPath.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if code := f.fs.Rename(string(vfs.Clean(oldPath)), string(vfs.Clean(newPath))); code < 0 {
		return translate(code)
	}
	return nil
}

// CreateDirectory implements vfs.FileSystem.
func (f *FileSystem) CreateDirectory(path vfs.Path, now time.Time, user users.UserID, group users.GroupID) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}
	path = vfs.Clean(path)

	f.mu.Lock()
	defer f.mu.Unlock()

	parent, err := f.statistics(path.Parent())
	if err != nil {
		return err
	}
	if err := vfs.CheckAccess(parent, user, group, f.authority, vfs.WriteOnly); err != nil {
		return err
	}

	if code := f.fs.Mkdir(string(path)); code < 0 {
		return translate(code)
	}

	meta := metadata{
		Kind:             vfs.KindDirectory,
		User:             user,
		Group:            group,
		Permissions:      defaultDirectoryPermissions,
		AccessTime:       now,
		ModificationTime: now,
		ChangeTime:       now,
	}
	return f.writeMetadata(path, &meta)
}

// OpenDirectory implements vfs.FileSystem.
func (f *FileSystem) OpenDirectory(path vfs.Path, t task.ID) (vfs.LocalFileID, error) {
	if !path.Valid() {
		return 0, vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir, code := f.fs.OpenDir(string(vfs.Clean(path)))
	if code < 0 {
		return 0, translate(code)
	}

	id, err := f.allocateFileID()
	if err != nil {
		dir.Close()
		return 0, err
	}
	local := vfs.NewLocalFileID(t, id.AsDirectory())
	f.dirs[local] = &openDirectory{dir: dir, path: vfs.Clean(path)}
	return local, nil
}

// ReadDirectory implements vfs.FileSystem.
func (f *FileSystem) ReadDirectory(directory vfs.LocalFileID) (*vfs.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	od, ok := f.dirs[directory]
	if !ok {
		return nil, vfs.ErrInvalidIdentifier
	}

	var info lfs.Info
	switch n := od.dir.Read(&info); {
	case n < 0:
		return nil, translate(n)
	case n == 0:
		return nil, nil
	}

	kind := vfs.KindFile
	if info.Type == lfs.TypeDir {
		kind = vfs.KindDirectory
	}
	// The attribute block can refine the kind for special files.
	if m, err := f.readMetadata(od.path.Join(info.Name)); err == nil {
		kind = m.Kind
	}

	return &vfs.Entry{
		Inode: vfs.Inode(info.Inode),
		Name:  info.Name,
		Kind:  kind,
		Size:  vfs.Size(info.Size),
	}, nil
}

// RewindDirectory implements vfs.FileSystem.
func (f *FileSystem) RewindDirectory(directory vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	od, ok := f.dirs[directory]
	if !ok {
		return vfs.ErrInvalidIdentifier
	}
	if code := od.dir.Rewind(); code < 0 {
		return translate(code)
	}
	return nil
}

// CloseDirectory implements vfs.FileSystem.
func (f *FileSystem) CloseDirectory(directory vfs.LocalFileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	od, ok := f.dirs[directory]
	if !ok {
		return vfs.ErrInvalidIdentifier
	}
	delete(f.dirs, directory)
	if code := od.dir.Close(); code < 0 {
		return translate(code)
	}
	return nil
}

// GetStatistics implements vfs.FileSystem.
func (f *FileSystem) GetStatistics(file vfs.LocalFileID) (vfs.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if of, ok := f.files[file]; ok {
		return f.statistics(of.path)
	}
	if od, ok := f.dirs[file]; ok {
		return f.statistics(od.path)
	}
	return vfs.Statistics{}, vfs.ErrInvalidIdentifier
}

// Stat implements vfs.FileSystem.
func (f *FileSystem) Stat(path vfs.Path) (vfs.Statistics, error) {
	if !path.Valid() {
		return vfs.Statistics{}, vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statistics(vfs.Clean(path))
}

// SetPermissions implements vfs.FileSystem.
func (f *FileSystem) SetPermissions(path vfs.Path, permissions vfs.Permissions, now time.Time) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.readMetadata(vfs.Clean(path))
	if err != nil {
		return err
	}
	m.Permissions = permissions
	m.ChangeTime = now
	return f.writeMetadata(vfs.Clean(path), &m)
}

// SetOwner implements vfs.FileSystem.
func (f *FileSystem) SetOwner(path vfs.Path, user users.UserID, group users.GroupID, now time.Time) error {
	if !path.Valid() {
		return vfs.ErrInvalidPath
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.readMetadata(vfs.Clean(path))
	if err != nil {
		return err
	}
	m.User = user
	m.Group = group
	m.ChangeTime = now
	return f.writeMetadata(vfs.Clean(path), &m)
}
