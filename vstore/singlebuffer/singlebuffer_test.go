package singlebuffer_test

import (
	"testing"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/vstore/singlebuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuf(t *testing.T, size int) []byte {
	t.Helper()
	return make([]byte, size)
}

func TestFormatFreshBuffer(t *testing.T) {
	buf := newBuf(t, 1<<16)
	s, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCommitThenReopenSeesSameState(t *testing.T) {
	buf := newBuf(t, 1<<16)
	s, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	txn, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Set(1, []byte("hello"), true))
	require.NoError(t, txn.Set(2, []byte("world"), false))
	require.NoError(t, txn.Commit())

	s2, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	v, ok, err := s2.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	v, ok, err = s2.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", string(v))
}

func TestDeleteTombstonesAcrossReopen(t *testing.T) {
	buf := newBuf(t, 1<<16)
	s, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	txn, _ := s.Begin()
	_ = txn.Set(1, []byte("a"), false)
	require.NoError(t, txn.Commit())

	txn, _ = s.Begin()
	_ = txn.Delete(1)
	require.NoError(t, txn.Commit())

	s2, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	_, ok, err := s2.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverwriteSmallerReusesSlotInPlace(t *testing.T) {
	buf := newBuf(t, 1<<16)
	s, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	txn, _ := s.Begin()
	_ = txn.Set(5, []byte("0123456789"), false)
	require.NoError(t, txn.Commit())

	usageBefore, err := s.Usage()
	require.NoError(t, err)

	txn, _ = s.Begin()
	_ = txn.Set(5, []byte("abc"), false)
	require.NoError(t, txn.Commit())

	usageAfter, err := s.Usage()
	require.NoError(t, err)
	assert.Equal(t, usageBefore.Free-singlebuffer.MetadataBlockSize, usageAfter.Free, "in-place overwrite should consume only the new metadata block")

	v, ok, err := s.Get(5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(v))
}

func TestReopenAfterTwoGenerationsSeesLatestValue(t *testing.T) {
	buf := newBuf(t, 1<<16)
	s, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	txn, _ := s.Begin()
	_ = txn.Set(1, []byte("first"), false)
	require.NoError(t, txn.Commit())

	txn, _ = s.Begin()
	_ = txn.Set(1, []byte("second-generation-value"), false)
	require.NoError(t, txn.Commit())

	s2, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)
	v, ok, err := s2.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second-generation-value", string(v))
}

func TestFullBufferReturnsENOSPC(t *testing.T) {
	buf := newBuf(t, singlebuffer.SuperBlockSize+singlebuffer.MetadataBlockSize*2)
	s, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)

	txn, _ := s.Begin()
	big := make([]byte, 1<<20)
	err = txn.Set(1, big, false)
	require.NoError(t, err) // staging never fails; only Commit allocates
	err = txn.Commit()
	assert.Error(t, err)
}
