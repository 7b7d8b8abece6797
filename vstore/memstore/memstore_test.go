package memstore_test

import (
	"testing"

	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitMakesWritesVisible(t *testing.T) {
	s := memstore.New()

	txn, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Set(1, []byte("hello"), false))
	require.NoError(t, txn.Commit())

	v, ok, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))
}

func TestAbortRestoresOriginalValue(t *testing.T) {
	s := memstore.New()

	txn, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Set(1, []byte("v1"), false))
	require.NoError(t, txn.Commit())

	txn, err = s.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Set(1, []byte("v2"), false))
	_, _, err = txn.Get(1)
	require.NoError(t, err)
	require.NoError(t, txn.Abort())

	v, ok, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestAbortRemovesNewKey(t *testing.T) {
	s := memstore.New()

	txn, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Set(7, []byte("new"), false))
	require.NoError(t, txn.Abort())

	_, ok, err := s.Get(7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnlyOneLiveTransaction(t *testing.T) {
	s := memstore.New()

	_, err := s.Begin()
	require.NoError(t, err)

	_, err = s.Begin()
	require.Error(t, err)
}

func TestTransactionIsSingleUse(t *testing.T) {
	s := memstore.New()

	txn, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	err = txn.Set(1, []byte("x"), false)
	assert.Error(t, err)
}

func TestDeleteThenKeys(t *testing.T) {
	s := memstore.New()

	txn, _ := s.Begin()
	_ = txn.Set(1, []byte("a"), false)
	_ = txn.Set(2, []byte("b"), false)
	_ = txn.Commit()

	txn, _ = s.Begin()
	_ = txn.Delete(1)
	keys, err := txn.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{2}, keys)
	_ = txn.Commit()

	_, ok, _ := s.Get(1)
	assert.False(t, ok)
}
