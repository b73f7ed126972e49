package vfs

import (
	"reflect"
	"strings"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		input    Path
		expected Path
	}{
		{"", "/"},
		{"/", "/"},
		{"/a/b", "/a/b"},
		{"a/b", "/a/b"},
		{"/a//b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/../b", "/b"},
		{"/../a", "/a"},
		{"/a/b/../..", "/"},
		{"/a/b/", "/a/b"},
		{"\\a\\b", "/a/b"},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := Clean(tt.input); got != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		input Path
		valid bool
	}{
		{"/", true},
		{"/a/b", true},
		{"", false},
		{"relative", false},
		{Path("/a\x00b"), false},
		{Path("/" + strings.Repeat("x", MaxPathLength)), false},
	}

	for _, tt := range tests {
		if got := tt.input.Valid(); got != tt.valid {
			t.Errorf("Valid(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestParentName(t *testing.T) {
	tests := []struct {
		input  Path
		parent Path
		name   string
	}{
		{"/", "/", ""},
		{"/a", "/", "a"},
		{"/a/b/c", "/a/b", "c"},
	}

	for _, tt := range tests {
		if got := tt.input.Parent(); got != tt.parent {
			t.Errorf("Parent(%q) = %q, want %q", tt.input, got, tt.parent)
		}
		if got := tt.input.Name(); got != tt.name {
			t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.name)
		}
	}
}

func TestJoinAppend(t *testing.T) {
	if got := Path("/a").Join("b", "c"); got != "/a/b/c" {
		t.Errorf("Join = %q", got)
	}
	if got := Path("/a").Append("/b/c"); got != "/a/b/c" {
		t.Errorf("Append = %q", got)
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		input     Path
		extension string
	}{
		{"/a/b.txt", ".txt"},
		{"/a/archive.tar.gz", ".gz"},
		{"/a/noext", ""},
		{"/", ""},
	}

	for _, tt := range tests {
		if got := tt.input.Extension(); got != tt.extension {
			t.Errorf("Extension(%q) = %q, want %q", tt.input, got, tt.extension)
		}
	}
}

func TestComponents(t *testing.T) {
	if got := Path("/").Components(); got != nil {
		t.Errorf("root Components = %v", got)
	}
	if got := Path("/a/b/c").Components(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Components = %v", got)
	}
}

func TestPrefixes(t *testing.T) {
	tests := []struct {
		path    Path
		prefix  Path
		has     bool
		trimmed Path
	}{
		{"/Data/file", "/Data", true, "/file"},
		{"/Data", "/Data", true, "/"},
		{"/DataExtra", "/Data", false, "/DataExtra"},
		{"/Data/file", "/", true, "/Data/file"},
		{"/other", "/Data", false, "/other"},
	}

	for _, tt := range tests {
		if got := tt.path.HasPrefix(tt.prefix); got != tt.has {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.has)
		}
		if got := tt.path.TrimPrefix(tt.prefix); got != tt.trimmed {
			t.Errorf("TrimPrefix(%q, %q) = %q, want %q", tt.path, tt.prefix, got, tt.trimmed)
		}
	}
}
