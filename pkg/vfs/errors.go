package vfs

// Errno is the module-wide error taxonomy. Backends translate their own
// failure codes into these values at their boundary; no backend-specific
// code ever reaches a Router caller.
type Errno uint8

// Error kinds.
const (
	ErrNotFound Errno = iota + 1
	ErrAlreadyExists
	ErrNotDirectory
	ErrIsDirectory
	ErrDirectoryNotEmpty
	ErrInvalidIdentifier
	ErrInvalidParameter
	ErrInvalidPath
	ErrPermissionDenied
	ErrResourceBusy
	ErrNoSpaceLeft
	ErrNoMemory
	ErrNameTooLong
	ErrTooManyOpenFiles
	ErrUnsupportedOperation
	ErrInputOutput
	ErrCorrupted
	ErrInternal
)

var errnoStrings = map[Errno]string{
	ErrNotFound:             "not found",
	ErrAlreadyExists:        "already exists",
	ErrNotDirectory:         "not a directory",
	ErrIsDirectory:          "is a directory",
	ErrDirectoryNotEmpty:    "directory not empty",
	ErrInvalidIdentifier:    "invalid identifier",
	ErrInvalidParameter:     "invalid parameter",
	ErrInvalidPath:          "invalid path",
	ErrPermissionDenied:     "permission denied",
	ErrResourceBusy:         "resource busy",
	ErrNoSpaceLeft:          "no space left on device",
	ErrNoMemory:             "out of memory",
	ErrNameTooLong:          "name too long",
	ErrTooManyOpenFiles:     "too many open files",
	ErrUnsupportedOperation: "unsupported operation",
	ErrInputOutput:          "input/output error",
	ErrCorrupted:            "filesystem corrupted",
	ErrInternal:             "internal error",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if s, ok := errnoStrings[e]; ok {
		return "vfs: " + s
	}
	return "vfs: unknown error"
}

// IsRetryable reports whether a caller holding no locks may retry the
// operation that produced this error. Only contention qualifies; permission
// and identifier errors are terminal.
func (e Errno) IsRetryable() bool {
	return e == ErrResourceBusy
}
