// Package vacl implements POSIX.1e access control lists: the binary
// wire format Linux stores under the system.posix_acl_access extended
// attribute, and the access-check algorithm (user-obj, named users,
// group-obj, named groups, mask, other) that governs permission checks
// when an inode carries one. No third-party ACL library exists in the
// reference corpus (github.com/pkg/xattr only reads/writes raw xattr
// bytes, it doesn't parse them), so the wire format and algorithm are
// implemented directly against the documented kernel layout.
package vacl

import (
	"encoding/binary"
	"sort"

	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
)

// Tag identifies which principal an Entry governs.
type Tag uint16

const (
	TagUserObj  Tag = 0x01
	TagUser     Tag = 0x02
	TagGroupObj Tag = 0x04
	TagGroup    Tag = 0x08
	TagMask     Tag = 0x10
	TagOther    Tag = 0x20
)

// undefinedID marks an Entry.ID that does not apply (ACL_UNDEFINED_ID
// in the kernel header), used by the four tags that don't carry a
// principal id of their own.
const undefinedID = ^uint32(0)

// aclVersion is the only version the kernel's xattr format defines.
const aclVersion uint32 = 0x0002

// Entry is one (tag, id, permission) triple. ID is meaningful only for
// TagUser and TagGroup.
type Entry struct {
	Tag  Tag
	ID   uint32
	Perm vinode.FileMode // only the low 3 bits (r/w/x) are meaningful
}

// ACL is a decoded access-control list: one entry for each of
// user-obj, group-obj, other, optionally a mask, and zero or more
// named user/group entries.
type ACL struct {
	Entries []Entry
}

// Marshal encodes a into the system.posix_acl_access wire format:
// a 4-byte version header followed by one 8-byte record per entry
// (tag uint16, perm uint16, id uint32), sorted into kernel-canonical
// order (user-obj, named users by id, group-obj, named groups by id,
// mask, other).
func (a *ACL) Marshal() []byte {
	entries := append([]Entry(nil), a.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		oi, oj := tagOrder(entries[i].Tag), tagOrder(entries[j].Tag)
		if oi != oj {
			return oi < oj
		}
		return entries[i].ID < entries[j].ID
	})

	buf := make([]byte, 4+8*len(entries))
	binary.LittleEndian.PutUint32(buf[0:], aclVersion)
	off := 4
	for _, e := range entries {
		id := e.ID
		if e.Tag != TagUser && e.Tag != TagGroup {
			id = undefinedID
		}
		binary.LittleEndian.PutUint16(buf[off:], uint16(e.Tag))
		binary.LittleEndian.PutUint16(buf[off+2:], uint16(e.Perm&0o7))
		binary.LittleEndian.PutUint32(buf[off+4:], id)
		off += 8
	}
	return buf
}

func tagOrder(t Tag) int {
	switch t {
	case TagUserObj:
		return 0
	case TagUser:
		return 1
	case TagGroupObj:
		return 2
	case TagGroup:
		return 3
	case TagMask:
		return 4
	case TagOther:
		return 5
	default:
		return 6
	}
}

// Unmarshal parses bytes produced by Marshal (or by a kernel xattr
// read of the same format).
func Unmarshal(buf []byte) (*ACL, error) {
	if len(buf) < 4 {
		return nil, verrno.New(verrno.EINVAL, "acl", "", nil)
	}
	version := binary.LittleEndian.Uint32(buf[0:])
	if version != aclVersion {
		return nil, verrno.New(verrno.EINVAL, "acl", "", nil)
	}
	rest := buf[4:]
	if len(rest)%8 != 0 {
		return nil, verrno.New(verrno.EINVAL, "acl", "", nil)
	}

	acl := &ACL{}
	for off := 0; off < len(rest); off += 8 {
		tag := Tag(binary.LittleEndian.Uint16(rest[off:]))
		perm := vinode.FileMode(binary.LittleEndian.Uint16(rest[off+2:]))
		id := binary.LittleEndian.Uint32(rest[off+4:])
		acl.Entries = append(acl.Entries, Entry{Tag: tag, ID: id, Perm: perm})
	}
	return acl, nil
}

// FromRecord loads the ACL stored on rec's system.posix_acl_access
// attribute, returning (nil, false) if rec carries none.
func FromRecord(rec *vinode.Record) (*ACL, bool, error) {
	raw, ok := rec.Attributes.Get(vinode.AttrPosixACLAccess)
	if !ok {
		return nil, false, nil
	}
	acl, err := Unmarshal(raw)
	if err != nil {
		return nil, false, err
	}
	return acl, true, nil
}

// SetOn stores a on rec's system.posix_acl_access attribute.
func (a *ACL) SetOn(rec *vinode.Record) {
	rec.Attributes.Set(vinode.AttrPosixACLAccess, a.Marshal())
}

// RemoveFrom clears any ACL stored on rec.
func RemoveFrom(rec *vinode.Record) {
	rec.Attributes.Delete(vinode.AttrPosixACLAccess)
}

// entry returns the first entry with the given tag (and, for named
// entries, the given id), if present.
func (a *ACL) entry(tag Tag, id uint32) (Entry, bool) {
	for _, e := range a.Entries {
		if e.Tag != tag {
			continue
		}
		if tag == TagUser || tag == TagGroup {
			if e.ID == id {
				return e, true
			}
			continue
		}
		return e, true
	}
	return Entry{}, false
}

// Check runs the POSIX.1e access algorithm for a process identified by
// uid/gid/groups against an inode whose owner is ownerUID/ownerGID and
// which carries this ACL. want is any combination of
// vinode.R_OK/W_OK/X_OK. Root (uid 0) always succeeds.
func (a *ACL) Check(uid, gid uint32, groups []uint32, ownerUID, ownerGID uint32, want vinode.FileMode) bool {
	if uid == 0 {
		return true
	}

	var allowed vinode.FileMode

	switch {
	case uid == ownerUID:
		e, _ := a.entry(TagUserObj, 0)
		allowed = e.Perm

	default:
		if e, ok := a.entry(TagUser, uid); ok {
			allowed = applyMask(a, e.Perm)
			break
		}

		isMember := gid == ownerGID
		var groupPerm vinode.FileMode
		matchedGroup := false
		if e, ok := a.entry(TagGroupObj, 0); ok && gid == ownerGID {
			groupPerm |= e.Perm
			matchedGroup = true
		}
		for _, g := range groups {
			if e, ok := a.entry(TagGroup, g); ok {
				groupPerm |= e.Perm
				matchedGroup = true
				isMember = true
			}
		}
		if matchedGroup || isMember {
			allowed = applyMask(a, groupPerm)
			break
		}

		e, _ := a.entry(TagOther, 0)
		allowed = e.Perm
	}

	return allowed&want == want
}

// applyMask intersects perm with the ACL's mask entry, if one is
// present; an ACL with no mask imposes no additional restriction
// (only possible for a minimal ACL with no named entries).
func applyMask(a *ACL, perm vinode.FileMode) vinode.FileMode {
	if mask, ok := a.entry(TagMask, 0); ok {
		return perm & mask.Perm
	}
	return perm
}

// FromMode synthesizes a minimal three-entry ACL (user-obj, group-obj,
// other) from a mode word's owner/group/other bits, the ACL a freshly
// created inode without an explicit ACL request is equivalent to.
func FromMode(mode vinode.FileMode) *ACL {
	return &ACL{Entries: []Entry{
		{Tag: TagUserObj, Perm: (mode & vinode.S_IRWXU) >> 6},
		{Tag: TagGroupObj, Perm: (mode & vinode.S_IRWXG) >> 3},
		{Tag: TagOther, Perm: mode & vinode.S_IRWXO},
	}}
}
