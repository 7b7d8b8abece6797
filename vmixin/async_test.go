package vmixin_test

import (
	"context"
	"testing"
	"time"

	"github.com/inodefs/corefs/vmixin"
	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncGetMissBeforeCacheIsPopulatedFailsEAGAIN(t *testing.T) {
	a := vmixin.NewAsync(memstore.New())
	defer a.Close()

	_, _, err := a.Get(42)
	assert.Error(t, err)
}

func TestAsyncGetAsyncPopulatesCacheForSubsequentSyncGet(t *testing.T) {
	inner := memstore.New()
	txn, _ := inner.Begin()
	_ = txn.Set(1, []byte("value"), false)
	_ = txn.Commit()

	a := vmixin.NewAsync(inner)
	defer a.Close()

	res, err := a.GetAsync(1).Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Equal(t, "value", string(res.Value))

	v, ok, err := a.Get(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", string(v))
}

func TestAsyncSetIsVisibleInCacheImmediatelyAndPersistsEventually(t *testing.T) {
	inner := memstore.New()
	a := vmixin.NewAsync(inner)
	defer a.Close()

	a.Set(9, []byte("hello"))

	v, ok, err := a.Get(9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", string(v))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Synced(ctx))

	persisted, ok, err := inner.Get(9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(persisted))
}

func TestAsyncDeleteClearsCacheAndPersists(t *testing.T) {
	inner := memstore.New()
	txn, _ := inner.Begin()
	_ = txn.Set(3, []byte("x"), false)
	_ = txn.Commit()

	a := vmixin.NewAsync(inner)
	defer a.Close()

	a.Delete(3)
	_, ok, err := a.Get(3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Synced(context.Background()))
	_, ok, err = inner.Get(3)
	require.NoError(t, err)
	assert.False(t, ok)
}
