package vmixin_test

import (
	"context"
	"testing"

	"github.com/inodefs/corefs/vmixin"
	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncGetAsyncResolvesImmediately(t *testing.T) {
	store := memstore.New()
	txn, _ := store.Begin()
	_ = txn.Set(1, []byte("v"), false)
	_ = txn.Commit()

	s := vmixin.NewSync(store)
	res, err := s.GetAsync(1).Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Equal(t, "v", string(res.Value))
}
