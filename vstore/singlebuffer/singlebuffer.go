package singlebuffer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/logger"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vstore"
)

// slot is where one id's bytes currently live in the data region.
type slot struct {
	offset uint32
	size   uint32 // capacity of the slot, not necessarily len(data)
	used   uint32 // actual length of the stored blob
}

// Store is a vstore.Store backed by a single contiguous []byte holding
// a superblock, a chain of metadata blocks, and a data region. A Store
// opened over bytes that another Store has committed to sees that
// committed state; an already open Store does not reload the buffer.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	buf []byte
	sb  *superBlock

	index    map[uint64]slot
	freeList map[uint32][]uint32 // size -> stack of free offsets
	nextFree uint32              // bump pointer into buf

	live *txn
}

var _ vstore.Store = (*Store)(nil)

// Open formats buf as a fresh SingleBuffer store if it does not
// already carry the magic number, or loads and verifies an existing
// one otherwise. buf must be at least SuperBlockSize+MetadataBlockSize
// long; its capacity is the store's total byte budget.
func Open(buf []byte, clk clock.Clock) (*Store, error) {
	if len(buf) < SuperBlockSize+MetadataBlockSize {
		return nil, verrno.New(verrno.EINVAL, "Open", "", fmt.Errorf("buffer too small: %d bytes", len(buf)))
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	s := &Store{
		clock:    clk,
		buf:      buf,
		index:    make(map[uint64]slot),
		freeList: make(map[uint32][]uint32),
	}

	magic := decodeSuperBlock(buf).magic
	if magic == Magic {
		if err := s.load(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.format(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) format() error {
	id, err := uuid.NewRandom()
	if err != nil {
		return verrno.Wrap("Open", "", err)
	}

	sb := &superBlock{
		magic:             Magic,
		formatVersion:     FormatVersion,
		inodeVersion:      InodeVersion,
		generation:        0,
		totalBytes:        uint64(len(s.buf)),
		metadataBlockSize: MetadataBlockSize,
	}
	copy(sb.fsID[:], id[:])

	firstBlockOffset := uint32(SuperBlockSize)
	mb := &metadataBlock{generation: 0, timestamp: uint64(s.clock.Now().UnixMilli())}
	mb.encode(s.buf[firstBlockOffset : firstBlockOffset+MetadataBlockSize])

	sb.metadataOffset = firstBlockOffset
	sb.backupMetadataOffset = firstBlockOffset
	sb.usedBytes = uint64(MetadataBlockSize)
	sb.encode(s.buf[:SuperBlockSize])

	s.sb = sb
	s.nextFree = firstBlockOffset + MetadataBlockSize
	return nil
}

func (s *Store) load() error {
	sb := decodeSuperBlock(s.buf[:SuperBlockSize])
	if !sb.verify(s.buf[:SuperBlockSize]) {
		return verrno.New(verrno.EIO, "Open", "", fmt.Errorf("superblock checksum mismatch"))
	}
	if sb.magic != Magic {
		return verrno.New(verrno.EIO, "Open", "", fmt.Errorf("bad magic %x", sb.magic))
	}

	primary, perr := s.readMetadataBlock(sb.metadataOffset)
	if perr != nil {
		logger.Warnf("singlebuffer: primary metadata block at %d failed verification, trying backup: %v", sb.metadataOffset, perr)
		primary, perr = s.readMetadataBlock(sb.backupMetadataOffset)
		if perr != nil {
			logger.Errorf("singlebuffer: backup metadata block at %d is also corrupt: %v", sb.backupMetadataOffset, perr)
			return verrno.New(verrno.EIO, "Open", "", fmt.Errorf("both primary and backup metadata blocks are corrupt"))
		}
	}

	index := make(map[uint64]slot)
	seen := make(map[uint64]bool)
	maxEnd := uint32(SuperBlockSize + MetadataBlockSize)

	cur := primary
	for cur != nil {
		for _, e := range cur.entries {
			id := uint64(e.id)
			if seen[id] {
				continue
			}
			seen[id] = true
			if e.offset == tombstoneOffset {
				continue
			}
			index[id] = slot{offset: e.offset, size: e.size, used: e.size}
			if end := e.offset + e.size; end > maxEnd {
				maxEnd = end
			}
		}
		if cur.previousOffset == 0 {
			break
		}
		next, err := s.readMetadataBlock(cur.previousOffset)
		if err != nil {
			break // chain truncated by corruption; accept what we recovered
		}
		if end := cur.previousOffset + MetadataBlockSize; end > maxEnd {
			maxEnd = end
		}
		cur = next
	}

	s.sb = sb
	s.index = index
	s.nextFree = maxEnd
	return nil
}

func (s *Store) readMetadataBlock(offset uint32) (*metadataBlock, error) {
	if uint64(offset)+MetadataBlockSize > uint64(len(s.buf)) {
		return nil, verrno.New(verrno.EIO, "Open", "", fmt.Errorf("metadata offset %d out of range", offset))
	}
	buf := s.buf[offset : offset+MetadataBlockSize]
	mb := decodeMetadataBlock(buf)
	if !mb.verify(buf) {
		return nil, verrno.New(verrno.EIO, "Open", "", fmt.Errorf("metadata block at %d failed checksum", offset))
	}
	return mb, nil
}

func (s *Store) Get(id uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.index[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), s.buf[sl.offset:sl.offset+sl.used]...), true, nil
}

func (s *Store) Keys() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint64, 0, len(s.index))
	for k := range s.index {
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

	total := s.sb.totalBytes
	used := uint64(s.nextFree)
	if used > total {
		used = total
	}
	return vstore.Usage{
		Total:      total,
		Free:       total - used,
		TotalNodes: total / MetadataBlockSize,
		FreeNodes:  (total - used) / MetadataBlockSize,
		BlockSize:  MetadataBlockSize,
	}, nil
}

func (s *Store) Begin() (vstore.Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		return nil, verrno.New(verrno.EBUSY, "Begin", "", nil)
	}
	t := &txn{
		store:   s,
		pending: make(map[uint64][]byte),
		deleted: make(map[uint64]bool),
	}
	s.live = t
	return t, nil
}

// allocate returns an offset with room for at least size bytes,
// reusing a same-size freed slot before bumping into fresh space.
func (s *Store) allocate(size uint32) (uint32, error) {
	if stack := s.freeList[size]; len(stack) > 0 {
		off := stack[len(stack)-1]
		s.freeList[size] = stack[:len(stack)-1]
		return off, nil
	}
	if uint64(s.nextFree)+uint64(size) > s.sb.totalBytes {
		return 0, verrno.New(verrno.ENOSPC, "Write", "", nil)
	}
	off := s.nextFree
	s.nextFree += size
	return off, nil
}

func (s *Store) free(sl slot) {
	s.freeList[sl.size] = append(s.freeList[sl.size], sl.offset)
}

// txn buffers writes/deletes in memory; Commit persists them as one or
// more chained metadata block generations.
type txn struct {
	store *Store

	done    bool
	pending map[uint64][]byte
	deleted map[uint64]bool
}

var _ vstore.Txn = (*txn)(nil)

func (t *txn) checkLive() error {
	if t.done {
		return verrno.New(verrno.EBUSY, "Txn", "", nil)
	}
	return nil
}

func (t *txn) Get(id uint64) ([]byte, bool, error) {
	if err := t.checkLive(); err != nil {
		return nil, false, err
	}
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
	delete(t.deleted, id)
	t.pending[id] = append([]byte(nil), data...)
	return nil
}

func (t *txn) Delete(id uint64) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	delete(t.pending, id)
	t.deleted[id] = true
	return nil
}

func (t *txn) Keys() ([]uint64, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}

	t.store.mu.Lock()
	set := make(map[uint64]bool, len(t.store.index))
	for k := range t.store.index {
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

func (t *txn) Abort() error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.live = nil
	return nil
}

// Commit writes the staged blobs into the data region, then persists
// one or more chained metadata block generations and, last, swaps the
// superblock's pointers: write the new metadata, then the backup
// pointer, then the primary pointer, then the generation counter last.
func (t *txn) Commit() error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.live = nil }()

	if len(t.pending) == 0 && len(t.deleted) == 0 {
		return nil
	}

	// Snapshot allocator state so a mid-commit failure (ENOSPC) leaves
	// the store exactly as it was rather than partially applied.
	nextFreeBefore := s.nextFree
	indexBefore := make(map[uint64]slot, len(s.index))
	for k, v := range s.index {
		indexBefore[k] = v
	}
	freeListBefore := make(map[uint32][]uint32, len(s.freeList))
	for k, v := range s.freeList {
		freeListBefore[k] = append([]uint32(nil), v...)
	}
	rollback := func() {
		s.nextFree = nextFreeBefore
		s.index = indexBefore
		s.freeList = freeListBefore
	}

	changedIDs := make([]uint64, 0, len(t.pending)+len(t.deleted))
	for id := range t.pending {
		changedIDs = append(changedIDs, id)
	}
	for id := range t.deleted {
		changedIDs = append(changedIDs, id)
	}
	sort.Slice(changedIDs, func(i, j int) bool { return changedIDs[i] < changedIDs[j] })

	newEntries := make(map[uint64]metaEntry, len(changedIDs))
	var freedOnFailure []slot

	// In-place overwrites are copied only after the metadata chain is
	// written, so a failure before then leaves the old bytes intact.
	type inPlaceWrite struct {
		offset uint32
		data   []byte
	}
	var inPlace []inPlaceWrite

	for _, id := range changedIDs {
		if t.deleted[id] {
			if old, ok := s.index[id]; ok {
				freedOnFailure = append(freedOnFailure, old)
			}
			newEntries[id] = metaEntry{id: uint32(id), offset: tombstoneOffset, size: 0}
			continue
		}

		data := t.pending[id]
		old, existed := s.index[id]
		if existed && old.size >= uint32(len(data)) {
			inPlace = append(inPlace, inPlaceWrite{offset: old.offset, data: data})
			s.index[id] = slot{offset: old.offset, size: old.size, used: uint32(len(data))}
			newEntries[id] = metaEntry{id: uint32(id), offset: old.offset, size: uint32(len(data))}
			continue
		}

		off, err := s.allocate(uint32(len(data)))
		if err != nil {
			rollback()
			return err
		}
		copy(s.buf[off:off+uint32(len(data))], data)
		if existed {
			freedOnFailure = append(freedOnFailure, old)
		}
		s.index[id] = slot{offset: off, size: uint32(len(data)), used: uint32(len(data))}
		newEntries[id] = metaEntry{id: uint32(id), offset: off, size: uint32(len(data))}
	}

	for _, sl := range freedOnFailure {
		s.free(sl)
	}
	for id := range t.deleted {
		delete(s.index, id)
	}

	if err := s.persistMetadataChain(newEntries); err != nil {
		rollback()
		return err
	}
	for _, w := range inPlace {
		copy(s.buf[w.offset:], w.data)
	}

	return nil
}

// persistMetadataChain writes entries as one or more 254-entry
// metadata blocks, oldest first, chaining each to the previous
// generation, then performs the three-step superblock swap.
func (s *Store) persistMetadataChain(entries map[uint64]metaEntry) error {
	ordered := make([]metaEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	oldPrimary := s.sb.metadataOffset
	prevOffset := oldPrimary
	generation := s.sb.generation
	var newestOffset uint32
	var newestGeneration uint32

	for start := 0; start < len(ordered) || start == 0; start += EntriesPerBlock {
		end := start + EntriesPerBlock
		if end > len(ordered) {
			end = len(ordered)
		}
		chunk := ordered[start:end]

		generation++
		mb := &metadataBlock{
			generation:     generation,
			timestamp:      uint64(s.clock.Now().UnixMilli()),
			previousOffset: prevOffset,
			entries:        chunk,
		}

		off, err := s.allocate(MetadataBlockSize)
		if err != nil {
			return err
		}
		mb.encode(s.buf[off : off+MetadataBlockSize])

		prevOffset = off
		newestOffset = off
		newestGeneration = generation

		if len(ordered) == 0 {
			break
		}
	}

	s.sb.usedBytes = uint64(s.nextFree)

	// Step 1: backup pointer trails the last known-good primary.
	s.sb.backupMetadataOffset = oldPrimary
	s.sb.encode(s.buf[:SuperBlockSize])

	// Step 2: swap primary to the newly written chain head.
	s.sb.metadataOffset = newestOffset
	s.sb.encode(s.buf[:SuperBlockSize])

	// Step 3: advance the generation counter last.
	s.sb.generation = newestGeneration
	s.sb.encode(s.buf[:SuperBlockSize])

	return nil
}
