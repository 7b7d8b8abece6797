package singlebuffer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/inodefs/corefs/verrno"
)

// EntryInfo is one id→(offset,size) mapping from a metadata block.
type EntryInfo struct {
	ID     uint32
	Offset uint32
	Size   uint32
}

// BlockInfo describes one metadata block in the generation chain.
type BlockInfo struct {
	Offset         uint32
	ChecksumOK     bool
	Generation     uint32
	TimestampMs    uint64
	PreviousOffset uint32
	Entries        []EntryInfo
}

// Info is a decoded, read-only view of a buffer's superblock and its
// metadata-block chain, newest first. Inspect never mutates the
// buffer, so it is safe to run against a live store's bytes.
type Info struct {
	ChecksumOK    bool
	Magic         uint32
	FormatVersion uint16
	InodeVersion  uint16
	Generation    uint32
	Flags         uint32
	UsedBytes     uint64
	TotalBytes    uint64
	FSID          string
	Label         string

	MetadataBlockSize    uint32
	MetadataOffset       uint32
	BackupMetadataOffset uint32

	Chain []BlockInfo
}

// Inspect decodes the superblock at the head of buf and walks the
// metadata chain from the primary offset. Blocks that fail their
// checksum still appear in the chain (flagged), but the walk stops
// there, since their previous pointer can't be trusted.
func Inspect(buf []byte) (*Info, error) {
	if len(buf) < SuperBlockSize+MetadataBlockSize {
		return nil, verrno.New(verrno.EINVAL, "Inspect", "", fmt.Errorf("buffer too small: %d bytes", len(buf)))
	}

	sb := decodeSuperBlock(buf[:SuperBlockSize])
	if sb.magic != Magic {
		return nil, verrno.New(verrno.EINVAL, "Inspect", "", fmt.Errorf("bad magic %#x, buffer is not formatted", sb.magic))
	}

	label := sb.label[:]
	for i, b := range label {
		if b == 0 {
			label = label[:i]
			break
		}
	}

	info := &Info{
		ChecksumOK:           sb.verify(buf[:SuperBlockSize]),
		Magic:                sb.magic,
		FormatVersion:        sb.formatVersion,
		InodeVersion:         sb.inodeVersion,
		Generation:           sb.generation,
		Flags:                sb.flags,
		UsedBytes:            sb.usedBytes,
		TotalBytes:           sb.totalBytes,
		FSID:                 uuid.UUID(sb.fsID).String(),
		Label:                string(label),
		MetadataBlockSize:    sb.metadataBlockSize,
		MetadataOffset:       sb.metadataOffset,
		BackupMetadataOffset: sb.backupMetadataOffset,
	}

	seen := make(map[uint32]bool)
	offset := sb.metadataOffset
	for offset != 0 && !seen[offset] {
		seen[offset] = true
		if uint64(offset)+MetadataBlockSize > uint64(len(buf)) {
			break
		}
		raw := buf[offset : offset+MetadataBlockSize]
		mb := decodeMetadataBlock(raw)

		bi := BlockInfo{
			Offset:         offset,
			ChecksumOK:     mb.verify(raw),
			Generation:     mb.generation,
			TimestampMs:    mb.timestamp,
			PreviousOffset: mb.previousOffset,
		}
		for _, e := range mb.entries {
			bi.Entries = append(bi.Entries, EntryInfo{ID: e.id, Offset: e.offset, Size: e.size})
		}
		info.Chain = append(info.Chain, bi)

		if !bi.ChecksumOK {
			break
		}
		offset = mb.previousOffset
	}

	return info, nil
}
