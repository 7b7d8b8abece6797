//go:build unix

package vinode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/inodefs/corefs/vinode"
)

// The mode word is bit-compatible with the host's st_mode, so every
// constant must line up with golang.org/x/sys/unix.
func TestModeConstantsMatchHostStMode(t *testing.T) {
	assert.EqualValues(t, unix.S_IFIFO, vinode.S_IFIFO)
	assert.EqualValues(t, unix.S_IFCHR, vinode.S_IFCHR)
	assert.EqualValues(t, unix.S_IFDIR, vinode.S_IFDIR)
	assert.EqualValues(t, unix.S_IFBLK, vinode.S_IFBLK)
	assert.EqualValues(t, unix.S_IFREG, vinode.S_IFREG)
	assert.EqualValues(t, unix.S_IFLNK, vinode.S_IFLNK)
	assert.EqualValues(t, unix.S_IFSOCK, vinode.S_IFSOCK)
	assert.EqualValues(t, unix.S_IFMT, vinode.S_IFMT)

	assert.EqualValues(t, unix.S_ISUID, vinode.S_ISUID)
	assert.EqualValues(t, unix.S_ISGID, vinode.S_ISGID)
	assert.EqualValues(t, unix.S_ISVTX, vinode.S_ISVTX)
}

func TestAccessModeConstantsMatchHost(t *testing.T) {
	assert.EqualValues(t, unix.F_OK, vinode.F_OK)
	assert.EqualValues(t, unix.X_OK, vinode.X_OK)
	assert.EqualValues(t, unix.W_OK, vinode.W_OK)
	assert.EqualValues(t, unix.R_OK, vinode.R_OK)
}
