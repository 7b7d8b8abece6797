package vmixin

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vstore"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	data   []byte
	exists bool
}

type writeOp struct {
	id       uint64
	data     []byte
	isDelete bool
}

// Async wraps a vstore.Store treated as slow (remote or otherwise
// buffered) with a local read cache and a write-through queue.
// Reads check the cache first; on miss, concurrent
// fetches for the same id are collapsed via singleflight. Writes land
// in the cache immediately and are persisted by a single background
// worker so the underlying Store never sees more than one live
// transaction at a time.
type Async struct {
	inner vstore.Store

	mu    sync.Mutex
	cache map[uint64]cacheEntry
	known map[uint64]bool

	group singleflight.Group

	queue chan writeOp
	wg    sync.WaitGroup

	errMu   sync.Mutex
	lastErr error
}

// NewAsync wraps inner and starts its write-through worker. Close
// stops the worker once all queued writes have drained.
func NewAsync(inner vstore.Store) *Async {
	a := &Async{
		inner: inner,
		cache: make(map[uint64]cacheEntry),
		known: make(map[uint64]bool),
		queue: make(chan writeOp, 64),
	}
	go a.worker()
	return a
}

func (a *Async) worker() {
	for op := range a.queue {
		a.apply(op)
		a.wg.Done()
	}
}

func (a *Async) apply(op writeOp) {
	txn, err := a.inner.Begin()
	if err != nil {
		a.recordErr(err)
		return
	}
	if op.isDelete {
		if err := txn.Delete(op.id); err != nil {
			_ = txn.Abort()
			a.recordErr(err)
			return
		}
	} else if err := txn.Set(op.id, op.data, false); err != nil {
		_ = txn.Abort()
		a.recordErr(err)
		return
	}
	if err := txn.Commit(); err != nil {
		a.recordErr(err)
	}
}

func (a *Async) recordErr(err error) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.lastErr == nil {
		a.lastErr = err
	}
}

func (a *Async) takeErr() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	err := a.lastErr
	a.lastErr = nil
	return err
}

// Get serves strictly from cache; it never blocks on the underlying
// store. Callers needing a definitive answer for an uncached id should
// use GetAsync.
func (a *Async) Get(id uint64) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.known[id] {
		return nil, false, verrno.New(verrno.EAGAIN, "Get", "", fmt.Errorf("id %d not cached", id))
	}
	e := a.cache[id]
	return append([]byte(nil), e.data...), e.exists, nil
}

// GetAsync resolves from cache if known, otherwise fetches from the
// underlying store and populates the cache on success.
func (a *Async) GetAsync(id uint64) *Future[GetResult] {
	a.mu.Lock()
	if a.known[id] {
		e := a.cache[id]
		a.mu.Unlock()
		return Resolved(GetResult{Value: append([]byte(nil), e.data...), Ok: e.exists}, nil)
	}
	a.mu.Unlock()

	fut := newPending[GetResult]()
	go func() {
		v, err, _ := a.group.Do(strconv.FormatUint(id, 10), func() (interface{}, error) {
			data, ok, err := a.inner.Get(id)
			if err != nil {
				return nil, err
			}
			a.mu.Lock()
			a.cache[id] = cacheEntry{data: data, exists: ok}
			a.known[id] = true
			a.mu.Unlock()
			return GetResult{Value: data, Ok: ok}, nil
		})
		if err != nil {
			fut.settle(GetResult{}, err)
			return
		}
		fut.settle(v.(GetResult), nil)
	}()
	return fut
}

// Set updates the cache immediately and enqueues the write for
// asynchronous persistence.
func (a *Async) Set(id uint64, data []byte) {
	cp := append([]byte(nil), data...)
	a.mu.Lock()
	a.cache[id] = cacheEntry{data: cp, exists: true}
	a.known[id] = true
	a.mu.Unlock()

	a.wg.Add(1)
	a.queue <- writeOp{id: id, data: cp}
}

// Delete updates the cache immediately and enqueues the deletion.
func (a *Async) Delete(id uint64) {
	a.mu.Lock()
	a.cache[id] = cacheEntry{exists: false}
	a.known[id] = true
	a.mu.Unlock()

	a.wg.Add(1)
	a.queue <- writeOp{id: id, isDelete: true}
}

// Synced blocks until the write-through queue has drained, or ctx is
// done first, returning the first error any queued write produced.
func (a *Async) Synced(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return a.takeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new writes once the caller is done with this
// Async wrapper. Pending writes already enqueued still drain.
func (a *Async) Close() {
	close(a.queue)
}
