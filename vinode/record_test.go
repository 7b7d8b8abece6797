package vinode_test

import (
	"testing"

	"github.com/inodefs/corefs/vinode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	r := vinode.New(42, 99, vinode.S_IFREG|0644, 1000, 1000, 1_700_000_000_000)
	r.Size = 4
	r.Attributes.Set(vinode.AttrPosixACLAccess, []byte{0x01, 0x02})
	r.Attributes.Set("user.comment", []byte("hello"))

	buf := r.Marshal()
	got, err := vinode.Unmarshal(buf)
	require.NoError(t, err)

	assert.True(t, r.Equal(got), "round trip changed the record: %+v vs %+v", r, got)
}

func TestDirentType(t *testing.T) {
	assert.Equal(t, vinode.DT_DIR, vinode.DirentType(vinode.S_IFDIR|0755))
	assert.Equal(t, vinode.DT_REG, vinode.DirentType(vinode.S_IFREG|0644))
	assert.Equal(t, vinode.DT_LNK, vinode.DirentType(vinode.S_IFLNK|0777))
}

func TestIOCTLEncode(t *testing.T) {
	v := vinode.IOCTLEncode(vinode.IOC_READ|vinode.IOC_WRITE, 'f', 1, 8)
	assert.Equal(t, uint32(3)<<30|uint32(8)<<16|uint32('f')<<8|1, v)
}

func TestAttrsPreservesOrderAndUnicode(t *testing.T) {
	a := vinode.NewAttrs()
	a.Set("system.posix_acl_access", []byte{1})
	a.Set("user.имя", []byte("Кириллица"))
	a.Set("user.a", []byte("a"))

	assert.Equal(t, []string{"system.posix_acl_access", "user.имя", "user.a"}, a.Names())

	v, ok := a.Get("user.имя")
	require.True(t, ok)
	assert.Equal(t, "Кириллица", string(v))
}

func TestModeHelpers(t *testing.T) {
	m := vinode.S_IFDIR | 0755
	assert.True(t, m.IsDir())
	assert.False(t, m.IsRegular())
	assert.Equal(t, vinode.FileMode(0755), m.Perm())
}
