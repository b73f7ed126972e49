package vfs

import (
	"sync"

	"tideos/pkg/task"
	"tideos/pkg/users"
)

// pipe is a bounded byte ring shared between read-end and write-end
// descriptors. Writers block while the ring is full, readers while it is
// empty; closing the last end of the opposite kind wakes every waiter so
// readers see end-of-stream and writers see a broken pipe.
type pipe struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf   []byte
	head  int
	count int

	readers int
	writers int
}

func newPipe(capacity uint) *pipe {
	if capacity == 0 {
		capacity = 512
	}
	p := &pipe{
		buf: make([]byte, capacity),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// attach registers an end.
func (p *pipe) attach(readable, writable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if readable {
		p.readers++
	}
	if writable {
		p.writers++
	}
}

// detach drops an end, waking waiters when the last end of a kind goes
// away. It reports whether both sides are now closed.
func (p *pipe) detach(readable, writable bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if readable {
		p.readers--
	}
	if writable {
		p.writers--
	}
	if p.readers == 0 || p.writers == 0 {
		p.notEmpty.Broadcast()
		p.notFull.Broadcast()
	}
	return p.readers == 0 && p.writers == 0
}

// read copies up to len(buffer) bytes out of the ring, blocking while it is
// empty and a writer remains. It returns 0 at end-of-stream.
func (p *pipe) read(buffer []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.count == 0 {
		if p.writers == 0 {
			return 0, nil
		}
		p.notEmpty.Wait()
	}

	n := 0
	for n < len(buffer) && p.count > 0 {
		buffer[n] = p.buf[p.head]
		p.head = (p.head + 1) % len(p.buf)
		p.count--
		n++
	}
	p.notFull.Broadcast()
	return n, nil
}

// write copies all of buffer into the ring, blocking while it is full and a
// reader remains.
func (p *pipe) write(buffer []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(buffer) {
		if p.readers == 0 {
			return written, ErrInputOutput
		}
		if p.count == len(p.buf) {
			p.notFull.Wait()
			continue
		}
		tail := (p.head + p.count) % len(p.buf)
		p.buf[tail] = buffer[written]
		p.count++
		written++
		p.notEmpty.Broadcast()
	}
	return written, nil
}

func (p *pipe) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// namedPipe is a pipe occupying a namespace Path.
type namedPipe struct {
	pipe        *pipe
	capacity    uint
	permissions Permissions
	user        users.UserID
	group       users.GroupID
}

// pipeHandle is one descriptor on a pipe end.
type pipeHandle struct {
	pipe     *pipe
	readable bool
	writable bool
	path     Path // empty for unnamed pipes
}

// pipeTable is the Router-internal backend owning every pipe descriptor. It
// occupies the reserved PipeFileSystem identifier space.
type pipeTable struct {
	mu       sync.Mutex
	named    map[Path]*namedPipe
	files    map[LocalFileID]*pipeHandle
	nextFile FileID
}

func newPipeTable() *pipeTable {
	return &pipeTable{
		named:    make(map[Path]*namedPipe),
		files:    make(map[LocalFileID]*pipeHandle),
		nextFile: MinimumFile,
	}
}

func (pt *pipeTable) allocate() (FileID, error) {
	id := pt.nextFile
	if id.IsDirectory() {
		return 0, ErrTooManyOpenFiles
	}
	pt.nextFile++
	return id, nil
}

// createNamed registers a named pipe at path.
func (pt *pipeTable) createNamed(path Path, capacity uint, user users.UserID, group users.GroupID) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, exists := pt.named[path]; exists {
		return ErrAlreadyExists
	}
	pt.named[path] = &namedPipe{
		pipe:        newPipe(capacity),
		capacity:    capacity,
		permissions: 0o644,
		user:        user,
		group:       group,
	}
	return nil
}

// exists reports whether a named pipe occupies path.
func (pt *pipeTable) exists(path Path) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	_, ok := pt.named[path]
	return ok
}

// openNamed opens one end of the named pipe at path. Exactly one of read
// or write access must be requested.
func (pt *pipeTable) openNamed(path Path, flags Flags, t task.ID, user users.UserID, group users.GroupID, authority users.Authority) (LocalFileID, error) {
	if flags.Access() == ReadWrite {
		return 0, ErrInvalidParameter
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	np, ok := pt.named[path]
	if !ok {
		return 0, ErrNotFound
	}
	statistics := Statistics{
		Kind:        KindPipe,
		Permissions: np.permissions,
		User:        np.user,
		Group:       np.group,
	}
	if err := CheckAccess(statistics, user, group, authority, flags); err != nil {
		return 0, err
	}

	id, err := pt.allocate()
	if err != nil {
		return 0, err
	}
	handle := &pipeHandle{
		pipe:     np.pipe,
		readable: flags.Readable(),
		writable: flags.Writable(),
		path:     path,
	}
	handle.pipe.attach(handle.readable, handle.writable)
	local := NewLocalFileID(t, id)
	pt.files[local] = handle
	return local, nil
}

// createUnnamed builds a connected descriptor pair (read end, write end)
// not reachable through the namespace.
func (pt *pipeTable) createUnnamed(t task.ID, capacity uint) (LocalFileID, LocalFileID, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	p := newPipe(capacity)

	readID, err := pt.allocate()
	if err != nil {
		return 0, 0, err
	}
	writeID, err := pt.allocate()
	if err != nil {
		return 0, 0, err
	}

	read := &pipeHandle{pipe: p, readable: true}
	write := &pipeHandle{pipe: p, writable: true}
	p.attach(true, false)
	p.attach(false, true)

	readLocal := NewLocalFileID(t, readID)
	writeLocal := NewLocalFileID(t, writeID)
	pt.files[readLocal] = read
	pt.files[writeLocal] = write
	return readLocal, writeLocal, nil
}

func (pt *pipeTable) lookup(file LocalFileID) (*pipeHandle, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	h, ok := pt.files[file]
	if !ok {
		return nil, ErrInvalidIdentifier
	}
	return h, nil
}

// close releases a descriptor. Once both ends of a named pipe are gone its
// buffered bytes are destroyed; the next open starts from an empty ring.
func (pt *pipeTable) close(file LocalFileID) error {
	pt.mu.Lock()
	h, ok := pt.files[file]
	if !ok {
		pt.mu.Unlock()
		return ErrInvalidIdentifier
	}
	delete(pt.files, file)
	pt.mu.Unlock()

	if h.pipe.detach(h.readable, h.writable) {
		pt.resetNamed(h)
	}
	return nil
}

// resetNamed replaces a fully closed named pipe's ring. The identity check
// guards against the path having been removed and recreated while the last
// descriptors were still open.
func (pt *pipeTable) resetNamed(h *pipeHandle) {
	if h.path == "" {
		return
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	np, ok := pt.named[h.path]
	if !ok || np.pipe != h.pipe {
		return
	}
	np.pipe = newPipe(np.capacity)
}

// closeAll releases every descriptor owned by a task.
func (pt *pipeTable) closeAll(t task.ID) {
	pt.mu.Lock()
	var handles []*pipeHandle
	for id, h := range pt.files {
		if id.Task() == t {
			handles = append(handles, h)
			delete(pt.files, id)
		}
	}
	pt.mu.Unlock()

	for _, h := range handles {
		if h.pipe.detach(h.readable, h.writable) {
			pt.resetNamed(h)
		}
	}
}

// transfer re-homes a descriptor to another task.
func (pt *pipeTable) transfer(file LocalFileID, to task.ID) (LocalFileID, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	h, ok := pt.files[file]
	if !ok {
		return 0, ErrInvalidIdentifier
	}
	id, err := pt.allocate()
	if err != nil {
		return 0, err
	}
	local := NewLocalFileID(to, id)
	pt.files[local] = h
	delete(pt.files, file)
	return local, nil
}

// duplicate adds another descriptor on the same end.
func (pt *pipeTable) duplicate(file LocalFileID) (LocalFileID, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	h, ok := pt.files[file]
	if !ok {
		return 0, ErrInvalidIdentifier
	}
	id, err := pt.allocate()
	if err != nil {
		return 0, err
	}
	dup := *h
	dup.pipe.attach(dup.readable, dup.writable)
	local := NewLocalFileID(file.Task(), id)
	pt.files[local] = &dup
	return local, nil
}

// remove deletes a named pipe from the namespace. Open descriptors keep
// the ring alive until both ends close.
func (pt *pipeTable) remove(path Path) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.named[path]; !ok {
		return ErrNotFound
	}
	delete(pt.named, path)
	return nil
}

// statistics describes a named pipe.
func (pt *pipeTable) statistics(path Path) (Statistics, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	np, ok := pt.named[path]
	if !ok {
		return Statistics{}, ErrNotFound
	}
	return Statistics{
		FileSystem:  PipeFileSystem,
		Size:        Size(np.pipe.len()),
		Kind:        KindPipe,
		Permissions: np.permissions,
		User:        np.user,
		Group:       np.group,
	}, nil
}
