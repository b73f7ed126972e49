package flashfs

import (
	"encoding/binary"
	"time"

	"tideos/pkg/users"
	"tideos/pkg/vfs"
	"tideos/pkg/vfs/flashfs/lfs"
)

// metadataLen is the encoded size of the metadata attribute block.
const metadataLen = 35

// metadata is the POSIX-style per-entry state the flash filesystem does not
// natively track. It is stored as one fixed-size attribute block and merged
// into vfs.Statistics on demand.
type metadata struct {
	Kind             vfs.Kind
	User             users.UserID
	Group            users.GroupID
	Permissions      vfs.Permissions
	AccessTime       time.Time
	ModificationTime time.Time
	ChangeTime       time.Time
}

// encode packs the block little-endian with second-granularity timestamps.
func (m *metadata) encode() []byte {
	buf := make([]byte, metadataLen)
	buf[0] = byte(m.Kind)
	binary.LittleEndian.PutUint32(buf[1:], uint32(m.User))
	binary.LittleEndian.PutUint32(buf[5:], uint32(m.Group))
	binary.LittleEndian.PutUint16(buf[9:], uint16(m.Permissions))
	binary.LittleEndian.PutUint64(buf[11:], uint64(m.AccessTime.Unix()))
	binary.LittleEndian.PutUint64(buf[19:], uint64(m.ModificationTime.Unix()))
	binary.LittleEndian.PutUint64(buf[27:], uint64(m.ChangeTime.Unix()))
	return buf
}

func (m *metadata) decode(buf []byte) bool {
	if len(buf) < metadataLen {
		return false
	}
	m.Kind = vfs.Kind(buf[0])
	m.User = users.UserID(binary.LittleEndian.Uint32(buf[1:]))
	m.Group = users.GroupID(binary.LittleEndian.Uint32(buf[5:]))
	m.Permissions = vfs.Permissions(binary.LittleEndian.Uint16(buf[9:]))
	m.AccessTime = time.Unix(int64(binary.LittleEndian.Uint64(buf[11:])), 0)
	m.ModificationTime = time.Unix(int64(binary.LittleEndian.Uint64(buf[19:])), 0)
	m.ChangeTime = time.Unix(int64(binary.LittleEndian.Uint64(buf[27:])), 0)
	return true
}

// readMetadata loads the attribute block for path, synthesizing defaults
// for entries created before the block existed. Callers hold f.mu.
func (f *FileSystem) readMetadata(path vfs.Path) (metadata, error) {
	var info lfs.Info
	if code := f.fs.Stat(string(path), &info); code < 0 {
		return metadata{}, translate(code)
	}

	var m metadata
	buf := make([]byte, lfs.MaxAttr)
	n := f.fs.GetAttr(string(path), metadataAttr, buf)
	if n >= metadataLen && m.decode(buf[:n]) {
		return m, nil
	}
	if n < 0 && n != lfs.ErrNoAttr {
		return metadata{}, translate(n)
	}

	// Entry without a metadata block: root-owned defaults.
	m = metadata{
		User:  users.Root,
		Group: users.RootGroup,
	}
	if info.Type == lfs.TypeDir {
		m.Kind = vfs.KindDirectory
		m.Permissions = defaultDirectoryPermissions
	} else {
		m.Kind = vfs.KindFile
		m.Permissions = defaultFilePermissions
	}
	return m, nil
}

// writeMetadata stores the attribute block for path. Callers hold f.mu.
func (f *FileSystem) writeMetadata(path vfs.Path, m *metadata) error {
	if code := f.fs.SetAttr(string(path), metadataAttr, m.encode()); code < 0 {
		return translate(code)
	}
	return nil
}

// statistics merges the native stat record and the attribute block.
func (f *FileSystem) statistics(path vfs.Path) (vfs.Statistics, error) {
	var info lfs.Info
	if code := f.fs.Stat(string(path), &info); code < 0 {
		return vfs.Statistics{}, translate(code)
	}
	m, err := f.readMetadata(path)
	if err != nil {
		return vfs.Statistics{}, err
	}

	return vfs.Statistics{
		Inode:            vfs.Inode(info.Inode),
		Links:            1,
		Size:             vfs.Size(info.Size),
		AccessTime:       m.AccessTime,
		ModificationTime: m.ModificationTime,
		ChangeTime:       m.ChangeTime,
		Kind:             m.Kind,
		Permissions:      m.Permissions,
		User:             m.User,
		Group:            m.Group,
	}, nil
}
