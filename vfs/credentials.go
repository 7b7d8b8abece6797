package vfs

import "github.com/inodefs/corefs/vinode"

// Credentials is the active identity a Context's operations are
// checked against: a real/effective/saved uid and gid triplet plus
// supplementary groups, mirroring the fields a Unix process carries.
type Credentials struct {
	Uid  uint32
	Gid  uint32
	Euid uint32
	Egid uint32
	Suid uint32
	Sgid uint32

	Groups []uint32
}

// RootCredentials is the all-powerful identity: uid/gid 0 bypasses
// every permission check.
var RootCredentials = Credentials{}

// isRoot reports whether any id in the active credential set is zero,
// matching "any zero in the active credential set" bypasses checks.
func (c Credentials) isRoot() bool {
	return c.Euid == 0 || c.Uid == 0 || c.Egid == 0 || c.Gid == 0
}

// inGroup reports whether gid is the effective group or among the
// supplementary groups.
func (c Credentials) inGroup(gid uint32) bool {
	if c.Egid == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// checkPOSIX runs the plain owner/group/other permission check against
// mode, ignoring any ACL. want is a combination of vinode.R_OK/W_OK/X_OK.
func (c Credentials) checkPOSIX(mode vinode.FileMode, ownerUID, ownerGID uint32, want vinode.FileMode) bool {
	if c.isRoot() {
		return true
	}

	var allowed vinode.FileMode
	switch {
	case c.Euid == ownerUID:
		allowed = (mode & vinode.S_IRWXU) >> 6
	case c.inGroup(ownerGID):
		allowed = (mode & vinode.S_IRWXG) >> 3
	default:
		allowed = mode & vinode.S_IRWXO
	}
	return allowed&want == want
}
