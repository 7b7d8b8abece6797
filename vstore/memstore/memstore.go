// Package memstore implements vstore.Store over a plain Go map, with
// no persistence.
package memstore

import (
	"sync"

	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vstore"
)

// defaultBlockSize is the nominal block size reported by Usage.
const defaultBlockSize = 4096

// virtualTotal is a large nominal capacity; an in-memory store has no
// real ceiling, but callers expect a Usage with a finite Total.
const virtualTotal = 1 << 40

// Store is a map-backed vstore.Store.
type Store struct {
	mu      sync.Mutex
	values  map[uint64][]byte
	live    *txn // non-nil while a transaction is open
}

var _ vstore.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{values: make(map[uint64][]byte)}
}

func (s *Store) Get(id uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Keys() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint64, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out, nil
}

func (s *Store) Sync() error {
	return nil
}

func (s *Store) Usage() (vstore.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var used uint64
	for _, v := range s.values {
		used += uint64(len(v))
	}

	return vstore.Usage{
		Total:      virtualTotal,
		Free:       virtualTotal - used,
		TotalNodes: virtualTotal / defaultBlockSize,
		FreeNodes:  (virtualTotal - used) / defaultBlockSize,
		BlockSize:  defaultBlockSize,
	}, nil
}

func (s *Store) Begin() (vstore.Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		return nil, verrno.New(verrno.EBUSY, "Begin", "", nil)
	}

	t := &txn{
		store:    s,
		original: make(map[uint64]origValue),
		pending:  make(map[uint64][]byte),
		deleted:  make(map[uint64]bool),
	}
	s.live = t
	return t, nil
}

type origValue struct {
	data    []byte
	existed bool
}

// txn stashes the original value of every key it reads or modifies on
// first touch, so Abort can restore it exactly.
type txn struct {
	store *Store

	done     bool
	original map[uint64]origValue
	pending  map[uint64][]byte
	deleted  map[uint64]bool
}

var _ vstore.Txn = (*txn)(nil)

func (t *txn) checkLive() error {
	if t.done {
		return verrno.New(verrno.EBUSY, "Txn", "", nil)
	}
	return nil
}

func (t *txn) stash(id uint64) {
	if _, ok := t.original[id]; ok {
		return
	}
	t.store.mu.Lock()
	v, existed := t.store.values[id]
	t.store.mu.Unlock()

	cp := append([]byte(nil), v...)
	t.original[id] = origValue{data: cp, existed: existed}
}

func (t *txn) Get(id uint64) ([]byte, bool, error) {
	if err := t.checkLive(); err != nil {
		return nil, false, err
	}
	t.stash(id)

	if t.deleted[id] {
		return nil, false, nil
	}
	if v, ok := t.pending[id]; ok {
		return append([]byte(nil), v...), true, nil
	}

	return t.store.Get(id)
}

func (t *txn) Set(id uint64, data []byte, isMetadata bool) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.stash(id)
	delete(t.deleted, id)
	t.pending[id] = append([]byte(nil), data...)
	return nil
}

func (t *txn) Delete(id uint64) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.stash(id)
	delete(t.pending, id)
	t.deleted[id] = true
	return nil
}

func (t *txn) Keys() ([]uint64, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}

	t.store.mu.Lock()
	set := make(map[uint64]bool, len(t.store.values))
	for k := range t.store.values {
		set[k] = true
	}
	t.store.mu.Unlock()

	for k := range t.pending {
		set[k] = true
	}
	for k := range t.deleted {
		delete(set, k)
	}

	out := make([]uint64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out, nil
}

func (t *txn) Commit() error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id, v := range t.pending {
		t.store.values[id] = v
	}
	for id := range t.deleted {
		delete(t.store.values, id)
	}
	t.store.live = nil

	return nil
}

func (t *txn) Abort() error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id, orig := range t.original {
		if orig.existed {
			t.store.values[id] = orig.data
		} else {
			delete(t.store.values, id)
		}
	}
	t.store.live = nil

	return nil
}
