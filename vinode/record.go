package vinode

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/inodefs/corefs/verrno"
)

// RecordVersion is the on-disk/in-store version of the Record layout.
// Bumped whenever a field is added or reordered.
const RecordVersion uint16 = 1

// Record is the fixed-metadata half of an inode. The variable-length
// half (file content, or a directory's serialized child map) lives in
// the Store under Data, a distinct key from Ino.
type Record struct {
	Ino  uint64
	Data uint64

	Size uint64
	Mode FileMode
	Uid  uint32
	Gid  uint32

	Nlink uint32
	Flags uint32

	// Millisecond epoch timestamps, the narrow view used by most
	// callers.
	AtimeMs     int64
	MtimeMs     int64
	CtimeMs     int64
	BirthtimeMs int64

	Attributes *Attrs
}

// New returns a zeroed record for a freshly allocated inode/data pair.
func New(ino, data uint64, mode FileMode, uid, gid uint32, nowMs int64) *Record {
	return &Record{
		Ino:         ino,
		Data:        data,
		Mode:        mode,
		Uid:         uid,
		Gid:         gid,
		Nlink:       1,
		AtimeMs:     nowMs,
		MtimeMs:     nowMs,
		CtimeMs:     nowMs,
		BirthtimeMs: nowMs,
		Attributes:  NewAttrs(),
	}
}

// AtimeNs, MtimeNs, CtimeNs, BirthtimeNs project the millisecond
// fields to nanosecond big.Int, the wide view some callers need at
// the API boundary when a plain int64 would overflow their units.
func (r *Record) AtimeNs() *big.Int     { return msToNs(r.AtimeMs) }
func (r *Record) MtimeNs() *big.Int     { return msToNs(r.MtimeMs) }
func (r *Record) CtimeNs() *big.Int     { return msToNs(r.CtimeMs) }
func (r *Record) BirthtimeNs() *big.Int { return msToNs(r.BirthtimeMs) }

func msToNs(ms int64) *big.Int {
	out := big.NewInt(ms)
	return out.Mul(out, big.NewInt(1_000_000))
}

// Clone deep-copies r, including its attribute map.
func (r *Record) Clone() *Record {
	c := *r
	c.Attributes = r.Attributes.Clone()
	return &c
}

// Equal reports whether two records carry identical metadata,
// including attributes.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Ino != o.Ino || r.Data != o.Data || r.Size != o.Size ||
		r.Mode != o.Mode || r.Uid != o.Uid || r.Gid != o.Gid ||
		r.Nlink != o.Nlink || r.Flags != o.Flags ||
		r.AtimeMs != o.AtimeMs || r.MtimeMs != o.MtimeMs ||
		r.CtimeMs != o.CtimeMs || r.BirthtimeMs != o.BirthtimeMs {
		return false
	}
	an, bn := r.Attributes.Names(), o.Attributes.Names()
	if len(an) != len(bn) {
		return false
	}
	for i := range an {
		if an[i] != bn[i] {
			return false
		}
		av, _ := r.Attributes.Get(an[i])
		bv, _ := o.Attributes.Get(bn[i])
		if string(av) != string(bv) {
			return false
		}
	}
	return true
}

// Marshal serializes r into a flat byte slice: a fixed header
// followed by a count-prefixed list of (name, value) attribute pairs.
func (r *Record) Marshal() []byte {
	const headerLen = 2 + 8 + 8 + 8 + 4 + 4 + 4 + 4 + 4*8 + 4

	buf := make([]byte, headerLen)
	off := 0
	putU16 := func(v uint16) { binary.LittleEndian.PutUint16(buf[off:], v); off += 2 }
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(buf[off:], v); off += 4 }
	putU64 := func(v uint64) { binary.LittleEndian.PutUint64(buf[off:], v); off += 8 }
	putI64 := func(v int64) { putU64(uint64(v)) }

	putU16(RecordVersion)
	putU64(r.Ino)
	putU64(r.Data)
	putU64(r.Size)
	putU32(uint32(r.Mode))
	putU32(r.Uid)
	putU32(r.Gid)
	putU32(r.Nlink)
	putI64(r.AtimeMs)
	putI64(r.MtimeMs)
	putI64(r.CtimeMs)
	putI64(r.BirthtimeMs)
	putU32(r.Flags)

	names := r.Attributes.Names()
	tail := make([]byte, 4)
	binary.LittleEndian.PutUint32(tail, uint32(len(names)))
	out := append(buf, tail...)

	for _, name := range names {
		val, _ := r.Attributes.Get(name)
		lenBuf := make([]byte, 8)
		binary.LittleEndian.PutUint32(lenBuf[0:4], uint32(len(name)))
		binary.LittleEndian.PutUint32(lenBuf[4:8], uint32(len(val)))
		out = append(out, lenBuf...)
		out = append(out, name...)
		out = append(out, val...)
	}

	return out
}

// Unmarshal parses bytes produced by Marshal.
func Unmarshal(buf []byte) (*Record, error) {
	const headerLen = 2 + 8 + 8 + 8 + 4 + 4 + 4 + 4 + 4*8 + 4
	if len(buf) < headerLen+4 {
		return nil, verrno.New(verrno.EIO, "Unmarshal", "", fmt.Errorf("short inode record: %d bytes", len(buf)))
	}

	off := 0
	getU16 := func() uint16 { v := binary.LittleEndian.Uint16(buf[off:]); off += 2; return v }
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off:]); off += 4; return v }
	getU64 := func() uint64 { v := binary.LittleEndian.Uint64(buf[off:]); off += 8; return v }
	getI64 := func() int64 { return int64(getU64()) }

	version := getU16()
	if version != RecordVersion {
		return nil, verrno.New(verrno.EINVAL, "Unmarshal", "", fmt.Errorf("unsupported inode record version %d", version))
	}

	r := &Record{}
	r.Ino = getU64()
	r.Data = getU64()
	r.Size = getU64()
	r.Mode = FileMode(getU32())
	r.Uid = getU32()
	r.Gid = getU32()
	r.Nlink = getU32()
	r.AtimeMs = getI64()
	r.MtimeMs = getI64()
	r.CtimeMs = getI64()
	r.BirthtimeMs = getI64()
	r.Flags = getU32()

	count := getU32()
	r.Attributes = NewAttrs()
	for i := uint32(0); i < count; i++ {
		if off+8 > len(buf) {
			return nil, verrno.New(verrno.EIO, "Unmarshal", "", fmt.Errorf("truncated attribute table"))
		}
		nameLen := binary.LittleEndian.Uint32(buf[off : off+4])
		valLen := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		off += 8
		if off+int(nameLen)+int(valLen) > len(buf) {
			return nil, verrno.New(verrno.EIO, "Unmarshal", "", fmt.Errorf("truncated attribute payload"))
		}
		name := string(buf[off : off+int(nameLen)])
		off += int(nameLen)
		val := append([]byte(nil), buf[off:off+int(valLen)]...)
		off += int(valLen)
		r.Attributes.Set(name, val)
	}

	return r, nil
}
