package vfs

import (
	"regexp"

	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
)

var flagStringPattern = regexp.MustCompile(`^[rwasx]{1,2}\+?$`)

// accessModeMask isolates O_RDONLY/O_WRONLY/O_RDWR from the rest of an
// open flag bitmask.
const accessModeMask = vinode.O_RDONLY | vinode.O_WRONLY | vinode.O_RDWR

// ParseFlagString translates a fopen-style flag string ("r", "w+",
// "a", "rx", ...) into the O_* bitmask OpenFile expects. Grammar:
// /[rwasx]{1,2}\+?/. r -> O_RDONLY, w -> O_CREAT|O_TRUNC,
// a -> O_CREAT|O_APPEND, + upgrades to O_RDWR, s adds O_SYNC, x adds
// O_EXCL. Anything else fails EINVAL.
func ParseFlagString(s string) (int, error) {
	if !flagStringPattern.MatchString(s) {
		return 0, verrno.New(verrno.EINVAL, "open", s, nil)
	}

	var flags int
	seenBase := false
	for _, r := range s {
		switch r {
		case 'r':
			flags |= vinode.O_RDONLY
			seenBase = true
		case 'w':
			flags |= vinode.O_CREAT | vinode.O_TRUNC
			seenBase = true
		case 'a':
			flags |= vinode.O_CREAT | vinode.O_APPEND
			seenBase = true
		case '+':
			flags = (flags &^ accessModeMask) | vinode.O_RDWR
		case 's':
			flags |= vinode.O_SYNC
		case 'x':
			flags |= vinode.O_EXCL
		}
	}
	if !seenBase {
		return 0, verrno.New(verrno.EINVAL, "open", s, nil)
	}
	return flags, nil
}
