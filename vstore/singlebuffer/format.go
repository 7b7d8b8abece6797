// Package singlebuffer implements a self-describing, checksummed store
// format: a superblock, a generation-chained metadata block holding an
// id→(offset,size) index, and a data region. The whole store lives in
// one contiguous []byte, so a Store opened over bytes that another
// Store has committed to observes that committed state. A Store reads
// the buffer's metadata only when it is opened; commits made through
// another Store afterwards are not picked up, and Sync does not reload.
package singlebuffer

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic is the ASCII bytes 'z.sb' read as a big-endian number. Like
// every other field it is stored little-endian, so the bytes in the
// buffer read "bs.z".
const Magic uint32 = 0x7a2e7362

const (
	FormatVersion uint16 = 1
	InodeVersion  uint16 = 1

	SuperBlockSize    = 512
	MetadataBlockSize = 4096
	EntriesPerBlock   = 254
	entryEncodedSize  = 16 // id, reserved_offset, offset, size: four u32s

	// metadataHeaderSize is the fixed portion of a metadata block before
	// its entry array: checksum, generation, timestamp, previous_offset
	// (+ its reserved word), padded to a 16-byte boundary.
	metadataHeaderSize = 32
)

// superblock field offsets, all fixed width and little-endian.
const (
	sbOffChecksum             = 0
	sbOffMagic                = 4
	sbOffFormatVersion        = 8
	sbOffInodeVersion         = 10
	sbOffGeneration           = 12
	sbOffFlags                = 16
	sbOffUsedBytes            = 20
	sbOffTotalBytes           = 28
	sbOffFSID                 = 36
	sbOffMetadataBlockSize    = 52
	sbOffMetadataOffset       = 56
	sbOffMetadataOffsetRes    = 60
	sbOffBackupMetadataOffset = 64
	sbOffBackupMetadataOffRes = 68
	sbOffLabel                = 72
	sbLabelSize               = 64
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// checksum computes CRC32C over a block body, excluding the leading
// 4-byte checksum word.
func checksum(body []byte) uint32 {
	return crc32.Checksum(body, crcTable)
}

// superBlock is the in-memory decoded form of the 512-byte superblock.
type superBlock struct {
	checksum             uint32
	magic                uint32
	formatVersion        uint16
	inodeVersion         uint16
	generation           uint32
	flags                uint32
	usedBytes            uint64
	totalBytes           uint64
	fsID                 [16]byte
	metadataBlockSize    uint32
	metadataOffset       uint32
	backupMetadataOffset uint32
	label                [sbLabelSize]byte
}

func (sb *superBlock) encode(buf []byte) {
	if len(buf) < SuperBlockSize {
		panic("singlebuffer: superblock buffer too small")
	}
	binary.LittleEndian.PutUint32(buf[sbOffMagic:], sb.magic)
	binary.LittleEndian.PutUint16(buf[sbOffFormatVersion:], sb.formatVersion)
	binary.LittleEndian.PutUint16(buf[sbOffInodeVersion:], sb.inodeVersion)
	binary.LittleEndian.PutUint32(buf[sbOffGeneration:], sb.generation)
	binary.LittleEndian.PutUint32(buf[sbOffFlags:], sb.flags)
	binary.LittleEndian.PutUint64(buf[sbOffUsedBytes:], sb.usedBytes)
	binary.LittleEndian.PutUint64(buf[sbOffTotalBytes:], sb.totalBytes)
	copy(buf[sbOffFSID:sbOffFSID+16], sb.fsID[:])
	binary.LittleEndian.PutUint32(buf[sbOffMetadataBlockSize:], sb.metadataBlockSize)
	binary.LittleEndian.PutUint32(buf[sbOffMetadataOffset:], sb.metadataOffset)
	binary.LittleEndian.PutUint32(buf[sbOffMetadataOffsetRes:], 0)
	binary.LittleEndian.PutUint32(buf[sbOffBackupMetadataOffset:], sb.backupMetadataOffset)
	binary.LittleEndian.PutUint32(buf[sbOffBackupMetadataOffRes:], 0)
	copy(buf[sbOffLabel:sbOffLabel+sbLabelSize], sb.label[:])
	for i := sbOffLabel + sbLabelSize; i < SuperBlockSize; i++ {
		buf[i] = 0
	}

	sum := checksum(buf[sbOffMagic:SuperBlockSize])
	binary.LittleEndian.PutUint32(buf[sbOffChecksum:], sum)
	sb.checksum = sum
}

func decodeSuperBlock(buf []byte) *superBlock {
	sb := &superBlock{}
	sb.checksum = binary.LittleEndian.Uint32(buf[sbOffChecksum:])
	sb.magic = binary.LittleEndian.Uint32(buf[sbOffMagic:])
	sb.formatVersion = binary.LittleEndian.Uint16(buf[sbOffFormatVersion:])
	sb.inodeVersion = binary.LittleEndian.Uint16(buf[sbOffInodeVersion:])
	sb.generation = binary.LittleEndian.Uint32(buf[sbOffGeneration:])
	sb.flags = binary.LittleEndian.Uint32(buf[sbOffFlags:])
	sb.usedBytes = binary.LittleEndian.Uint64(buf[sbOffUsedBytes:])
	sb.totalBytes = binary.LittleEndian.Uint64(buf[sbOffTotalBytes:])
	copy(sb.fsID[:], buf[sbOffFSID:sbOffFSID+16])
	sb.metadataBlockSize = binary.LittleEndian.Uint32(buf[sbOffMetadataBlockSize:])
	sb.metadataOffset = binary.LittleEndian.Uint32(buf[sbOffMetadataOffset:])
	sb.backupMetadataOffset = binary.LittleEndian.Uint32(buf[sbOffBackupMetadataOffset:])
	copy(sb.label[:], buf[sbOffLabel:sbOffLabel+sbLabelSize])
	return sb
}

func (sb *superBlock) verify(buf []byte) bool {
	return checksum(buf[sbOffMagic:SuperBlockSize]) == sb.checksum
}

// metaEntry maps one id to its (offset, size) in the data region. An
// offset of zero means the entry is a tombstone ("delete
// zeroes the entry").
type metaEntry struct {
	id     uint32
	offset uint32
	size   uint32
}

const tombstoneOffset = 0

type metadataBlock struct {
	checksum       uint32
	generation     uint32
	timestamp      uint64
	previousOffset uint32 // 0 means "no older generation"
	entries        []metaEntry
}

func (mb *metadataBlock) encode(buf []byte) {
	if len(buf) < MetadataBlockSize {
		panic("singlebuffer: metadata block buffer too small")
	}
	for i := range buf[:MetadataBlockSize] {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint32(buf[4:], mb.generation)
	binary.LittleEndian.PutUint64(buf[8:], mb.timestamp)
	binary.LittleEndian.PutUint32(buf[16:], mb.previousOffset)
	binary.LittleEndian.PutUint32(buf[20:], 0) // reserved

	if len(mb.entries) > EntriesPerBlock {
		panic("singlebuffer: too many entries for one metadata block")
	}

	off := metadataHeaderSize
	for _, e := range mb.entries {
		binary.LittleEndian.PutUint32(buf[off:], e.id)
		binary.LittleEndian.PutUint32(buf[off+4:], 0) // reserved_offset
		binary.LittleEndian.PutUint32(buf[off+8:], e.offset)
		binary.LittleEndian.PutUint32(buf[off+12:], e.size)
		off += entryEncodedSize
	}

	sum := checksum(buf[4:MetadataBlockSize])
	binary.LittleEndian.PutUint32(buf[0:], sum)
	mb.checksum = sum
}

func decodeMetadataBlock(buf []byte) *metadataBlock {
	mb := &metadataBlock{}
	mb.checksum = binary.LittleEndian.Uint32(buf[0:])
	mb.generation = binary.LittleEndian.Uint32(buf[4:])
	mb.timestamp = binary.LittleEndian.Uint64(buf[8:])
	mb.previousOffset = binary.LittleEndian.Uint32(buf[16:])

	off := metadataHeaderSize
	for i := 0; i < EntriesPerBlock; i++ {
		id := binary.LittleEndian.Uint32(buf[off:])
		offset := binary.LittleEndian.Uint32(buf[off+8:])
		size := binary.LittleEndian.Uint32(buf[off+12:])
		off += entryEncodedSize
		if id == 0 && offset == 0 && size == 0 {
			continue
		}
		mb.entries = append(mb.entries, metaEntry{id: id, offset: offset, size: size})
	}

	return mb
}

func (mb *metadataBlock) verify(buf []byte) bool {
	return checksum(buf[4:MetadataBlockSize]) == mb.checksum
}
