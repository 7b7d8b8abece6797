package vmixin

import "github.com/inodefs/corefs/vstore"

// Sync wraps an already-synchronous vstore.Store and synthesizes async
// methods that return already-resolved Futures: no suspension ever
// occurs. It exists so a fully in-process backend (e.g. memstore or
// singlebuffer) can be handed to code written against the
// async-capable surface without ever actually suspending.
type Sync struct {
	Store vstore.Store
}

// NewSync wraps store.
func NewSync(store vstore.Store) *Sync {
	return &Sync{Store: store}
}

func (s *Sync) GetAsync(id uint64) *Future[GetResult] {
	v, ok, err := s.Store.Get(id)
	return Resolved(GetResult{Value: v, Ok: ok}, err)
}

// GetResult is the resolved value of a GetAsync call.
type GetResult struct {
	Value []byte
	Ok    bool
}

func (s *Sync) BeginAsync() *Future[vstore.Txn] {
	txn, err := s.Store.Begin()
	return Resolved(txn, err)
}

func (s *Sync) SyncAsync() *Future[struct{}] {
	return Resolved(struct{}{}, s.Store.Sync())
}

func (s *Sync) UsageAsync() *Future[vstore.Usage] {
	u, err := s.Store.Usage()
	return Resolved(u, err)
}
