package storefs

import (
	"encoding/binary"
	"fmt"

	"github.com/inodefs/corefs/verrno"
)

// dirBlobMagic tags a serialized directory listing so a stray data
// blob never gets misread as one.
const dirBlobMagic uint32 = 0x76644972 // "vdIr"

const dirBlobVersion uint16 = 1

// dirEntry is one name→inode mapping. Order is preserved exactly as
// inserted.
type dirEntry struct {
	Name string
	Ino  uint64
}

// directory is the decoded form of a directory's data blob: a
// UTF-8-safe, order-preserving {name: ino} listing with a small
// header.
type directory struct {
	entries []dirEntry
	byName  map[string]int // name -> index into entries
}

func newDirectory() *directory {
	return &directory{byName: make(map[string]int)}
}

func (d *directory) lookup(name string) (uint64, bool) {
	i, ok := d.byName[name]
	if !ok {
		return 0, false
	}
	return d.entries[i].Ino, true
}

func (d *directory) add(name string, ino uint64) {
	if i, ok := d.byName[name]; ok {
		d.entries[i].Ino = ino
		return
	}
	d.byName[name] = len(d.entries)
	d.entries = append(d.entries, dirEntry{Name: name, Ino: ino})
}

func (d *directory) remove(name string) bool {
	i, ok := d.byName[name]
	if !ok {
		return false
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	delete(d.byName, name)
	for j := i; j < len(d.entries); j++ {
		d.byName[d.entries[j].Name] = j
	}
	return true
}

func (d *directory) empty() bool {
	return len(d.entries) == 0
}

// marshal encodes the directory as: magic(u32) version(u16) count(u16)
// followed by count entries of [namelen(u16) name(namelen bytes)
// ino(u64)] — a compact binary encoding consistent with this module's
// other on-disk records, rather than literal JSON.
func (d *directory) marshal() []byte {
	size := 8
	for _, e := range d.entries {
		size += 2 + len(e.Name) + 8
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], dirBlobMagic)
	binary.LittleEndian.PutUint16(buf[4:], dirBlobVersion)
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(d.entries)))

	off := 8
	for _, e := range d.entries {
		nameBytes := []byte(e.Name)
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(nameBytes)))
		off += 2
		copy(buf[off:], nameBytes)
		off += len(nameBytes)
		binary.LittleEndian.PutUint64(buf[off:], e.Ino)
		off += 8
	}
	return buf
}

func unmarshalDirectory(buf []byte) (*directory, error) {
	if len(buf) < 8 {
		return nil, verrno.New(verrno.EIO, "readdir", "", fmt.Errorf("directory blob too short"))
	}
	magic := binary.LittleEndian.Uint32(buf[0:])
	if magic != dirBlobMagic {
		return nil, verrno.New(verrno.EIO, "readdir", "", fmt.Errorf("bad directory blob magic %x", magic))
	}
	version := binary.LittleEndian.Uint16(buf[4:])
	if version != dirBlobVersion {
		return nil, verrno.New(verrno.EINVAL, "readdir", "", fmt.Errorf("unsupported directory blob version %d", version))
	}
	count := binary.LittleEndian.Uint16(buf[6:])

	d := newDirectory()
	off := 8
	for i := uint16(0); i < count; i++ {
		if off+2 > len(buf) {
			return nil, verrno.New(verrno.EIO, "readdir", "", fmt.Errorf("truncated directory entry"))
		}
		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+nameLen+8 > len(buf) {
			return nil, verrno.New(verrno.EIO, "readdir", "", fmt.Errorf("truncated directory entry body"))
		}
		name := string(buf[off : off+nameLen])
		off += nameLen
		ino := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		d.add(name, ino)
	}
	return d, nil
}
