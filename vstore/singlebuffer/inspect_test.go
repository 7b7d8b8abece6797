package singlebuffer_test

import (
	"testing"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/vstore/singlebuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectFreshlyFormattedBuffer(t *testing.T) {
	buf := newBuf(t, 1<<16)
	_, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	info, err := singlebuffer.Inspect(buf)
	require.NoError(t, err)

	assert.True(t, info.ChecksumOK)
	assert.Equal(t, singlebuffer.Magic, info.Magic)
	assert.Equal(t, singlebuffer.FormatVersion, info.FormatVersion)
	assert.Equal(t, uint32(0), info.Generation)
	assert.Equal(t, uint64(1<<16), info.TotalBytes)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", info.FSID)
	require.Len(t, info.Chain, 1)
	assert.True(t, info.Chain[0].ChecksumOK)
	assert.Empty(t, info.Chain[0].Entries)
}

func TestInspectWalksGenerationChain(t *testing.T) {
	buf := newBuf(t, 1<<16)
	s, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	txn, _ := s.Begin()
	_ = txn.Set(7, []byte("first"), false)
	require.NoError(t, txn.Commit())

	txn, _ = s.Begin()
	_ = txn.Set(9, []byte("second"), false)
	require.NoError(t, txn.Commit())

	info, err := singlebuffer.Inspect(buf)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(info.Chain), 2)
	newest := info.Chain[0]
	assert.True(t, newest.ChecksumOK)
	assert.Equal(t, info.MetadataOffset, newest.Offset)
	assert.Greater(t, newest.Generation, info.Chain[1].Generation)

	// Each generation's block carries only the ids changed by that
	// commit; the union over the chain covers everything live.
	var ids []uint32
	for _, b := range info.Chain {
		for _, e := range b.Entries {
			ids = append(ids, e.ID)
		}
	}
	assert.Contains(t, ids, uint32(9))
	assert.Contains(t, ids, uint32(7))
	assert.Len(t, newest.Entries, 1)
}

func TestInspectRejectsUnformattedBuffer(t *testing.T) {
	_, err := singlebuffer.Inspect(make([]byte, 1<<16))
	assert.Error(t, err)

	_, err = singlebuffer.Inspect(make([]byte, 64))
	assert.Error(t, err)
}
