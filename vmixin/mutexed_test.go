package vmixin_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/storefs"
	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/vmixin"
	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMutexed(t *testing.T) *vmixin.Mutexed {
	t.Helper()
	fs, err := storefs.New(memstore.New(), clock.RealClock{})
	require.NoError(t, err)
	return vmixin.NewMutexed(fs)
}

func TestMutexedSerializesConcurrentWritesToSamePath(t *testing.T) {
	m := newMutexed(t)
	ctx := context.Background()

	_, err := m.CreateFile(ctx, "/f", vbackend.CreateOpts{})
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf := []byte{byte(i)}
			_, _ = m.Write(ctx, "/f", buf, int64(i))
		}(i)
	}
	wg.Wait()

	rec, err := m.Stat(ctx, "/f", true)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), rec.Size)
}

func TestMutexedTryDoFailsEBUSYWhenLocked(t *testing.T) {
	m := newMutexed(t)

	holdRelease := make(chan struct{})
	unblocked := make(chan struct{})
	go func() {
		_ = m.Do("/p", func() error {
			close(unblocked)
			<-holdRelease
			return nil
		})
	}()
	<-unblocked

	err := m.TryDo("/p", func() error { return nil })
	assert.Error(t, err)
	close(holdRelease)
}

func TestMutexedWatchdogFiresEDEADLK(t *testing.T) {
	m := newMutexed(t).WithWatchdog(20 * time.Millisecond)

	release := make(chan struct{})
	unblocked := make(chan struct{})
	go func() {
		_ = m.Do("/p", func() error {
			close(unblocked)
			<-release
			return nil
		})
	}()
	<-unblocked

	err := m.Do("/p", func() error { return nil })
	assert.Error(t, err)
	close(release)
}
