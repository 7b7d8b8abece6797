package vpath_test

import (
	"testing"

	"github.com/inodefs/corefs/vpath"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"/a/b/c",
		"/a/./b/../c",
		"a/b/c",
		"/a//b///c/",
		"/../../../etc",
		"file:///a/b",
		"",
		"/",
	}

	for _, in := range inputs {
		once := vpath.Normalize(in)
		twice := vpath.Normalize(once)
		assert.Equal(t, once, twice, "normalize not idempotent for %q", in)
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/somepath", vpath.Resolve("somepath"))
	assert.Equal(t, "/somepath", vpath.Resolve("/somepath"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/path/to/file.txt", vpath.Join("/path", "to", "file.txt"))
}

func TestClampAboveRoot(t *testing.T) {
	assert.Equal(t, "/etc", vpath.Normalize("/../../../etc"))
}

func TestDirnameBasename(t *testing.T) {
	dir, name := vpath.Split("/a/b/c.txt")
	assert.Equal(t, "/a/b", dir)
	assert.Equal(t, "c.txt", name)

	dir, name = vpath.Split("/")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "", name)
}

func TestHasPrefixPath(t *testing.T) {
	assert.True(t, vpath.HasPrefixPath("/a/b", "/a"))
	assert.True(t, vpath.HasPrefixPath("/a", "/a"))
	assert.False(t, vpath.HasPrefixPath("/ab", "/a"))
	assert.True(t, vpath.HasPrefixPath("/anything", "/"))
}

func TestRelativeTo(t *testing.T) {
	assert.Equal(t, "/a/b", vpath.RelativeTo("/mnt/a/b", "/mnt"))
	assert.Equal(t, "/", vpath.RelativeTo("/mnt", "/mnt"))
}

func TestFileScheme(t *testing.T) {
	assert.Equal(t, "/a/b", vpath.Normalize("file:///a/b"))
}
