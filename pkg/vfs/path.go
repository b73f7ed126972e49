package vfs

import "strings"

// MaxPathLength is the maximum allowed path length.
const MaxPathLength = 4096

// Path is a lexical, `/`-separated namespace path. It is a pure value type:
// all methods split and join segments literally and never touch storage.
type Path string

// Root is the namespace root.
const Root Path = "/"

// Clean normalizes the path: forward slashes only, leading slash, no empty,
// `.` or escaping `..` segments.
func Clean(p Path) Path {
	s := string(p)
	if s == "" {
		return Root
	}

	s = strings.ReplaceAll(s, "\\", "/")
	if s[0] != '/' {
		s = "/" + s
	}

	components := strings.Split(s, "/")
	result := make([]string, 0, len(components))

	for _, comp := range components {
		switch comp {
		case "", ".":
			continue
		case "..":
			// Up one level, never past root.
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, comp)
		}
	}

	if len(result) == 0 {
		return Root
	}
	return Path("/" + strings.Join(result, "/"))
}

// Valid reports whether the path can be used in the VFS: non-empty,
// absolute, within the length limit, and free of NUL bytes.
func (p Path) Valid() bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if len(p) > MaxPathLength {
		return false
	}
	return !strings.ContainsRune(string(p), '\x00')
}

// IsRoot reports whether the path is the namespace root.
func (p Path) IsRoot() bool { return Clean(p) == Root }

// Join appends segments to the path.
func (p Path) Join(elem ...string) Path {
	parts := append([]string{string(p)}, elem...)
	return Clean(Path(strings.Join(parts, "/")))
}

// Append appends another path.
func (p Path) Append(other Path) Path {
	return Clean(Path(string(p) + "/" + string(other)))
}

// Parent returns all but the last segment of the path.
func (p Path) Parent() Path {
	c := Clean(p)
	lastSlash := strings.LastIndex(string(c), "/")
	if lastSlash == 0 {
		return Root
	}
	return c[:lastSlash]
}

// Name returns the last segment of the path, or "" for the root.
func (p Path) Name() string {
	c := Clean(p)
	if c == Root {
		return ""
	}
	lastSlash := strings.LastIndex(string(c), "/")
	return string(c[lastSlash+1:])
}

// Extension returns the file name extension including the dot, or "".
func (p Path) Extension() string {
	name := p.Name()
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}

// Components returns the path's segments in order. The root has none.
func (p Path) Components() []string {
	c := Clean(p)
	if c == Root {
		return nil
	}
	return strings.Split(string(c[1:]), "/")
}

// HasPrefix reports whether prefix is the path itself or one of its
// ancestors. Matching is segment-wise: "/Devices" is not a prefix of
// "/DevicesExtra".
func (p Path) HasPrefix(prefix Path) bool {
	c := Clean(p)
	pre := Clean(prefix)
	if pre == Root {
		return true
	}
	if c == pre {
		return true
	}
	return strings.HasPrefix(string(c), string(pre)+"/")
}

// TrimPrefix removes an ancestor prefix, returning the remainder as an
// absolute path. If prefix does not apply the path is returned unchanged.
func (p Path) TrimPrefix(prefix Path) Path {
	c := Clean(p)
	pre := Clean(prefix)
	if pre == Root {
		return c
	}
	if c == pre {
		return Root
	}
	if strings.HasPrefix(string(c), string(pre)+"/") {
		return c[len(pre):]
	}
	return c
}

// String implements fmt.Stringer.
func (p Path) String() string { return string(p) }
