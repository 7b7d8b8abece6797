// Package vpath implements the pure path algebra used throughout the
// virtual file system: normalization, joining, resolution against a
// working directory, and splitting into dirname/basename. None of
// these functions touch a backend; they operate purely on strings.
package vpath

import (
	"strings"
)

// Separator is the path component delimiter used by every backend in
// this module, independent of the host OS.
const Separator = "/"

// Normalize collapses "." and ".." segments and duplicate slashes,
// producing a canonical absolute path that always starts with "/".
// A "file://" prefix is stripped before normalization. ".." segments
// that would climb above the root are clamped to the root rather than
// erroring, matching the context break-out semantics.
func Normalize(p string) string {
	p = stripFileScheme(p)
	if p == "" {
		return "/"
	}

	segments := strings.Split(p, "/")

	var out []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			// Above the root: clamp, don't error.
		default:
			out = append(out, seg)
		}
	}

	// This module only ever deals in absolute canonical paths; a
	// relative input is resolved against the root by the caller before
	// reaching here (see Resolve).
	return "/" + strings.Join(out, "/")
}

func stripFileScheme(p string) string {
	const scheme = "file://"
	if strings.HasPrefix(p, scheme) {
		return p[len(scheme):]
	}
	return p
}

// Join mirrors path.Join but always returns a normalized absolute
// path, matching the `join('/path','to','file.txt') ==
// '/path/to/file.txt'` testable property.
func Join(base string, parts ...string) string {
	all := append([]string{base}, parts...)
	return Normalize(strings.Join(all, "/"))
}

// Resolve normalizes p, treating it as relative to "/" if it does not
// already start with a slash: Resolve("somepath") == "/somepath".
func Resolve(p string) string {
	if !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "file://") {
		p = "/" + p
	}
	return Normalize(p)
}

// Dirname returns the parent directory of p. Dirname("/") == "/".
func Dirname(p string) string {
	p = Normalize(p)
	if p == "/" {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Basename returns the final path component of p. Basename("/") == "".
func Basename(p string) string {
	p = Normalize(p)
	if p == "/" {
		return ""
	}
	idx := strings.LastIndex(p, "/")
	return p[idx+1:]
}

// Split is a convenience combining Dirname and Basename.
func Split(p string) (dir, name string) {
	return Dirname(p), Basename(p)
}

// Segments returns the non-empty path components of a normalized path.
// Segments("/") returns nil.
func Segments(p string) []string {
	p = Normalize(p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// IsRoot reports whether p normalizes to "/".
func IsRoot(p string) bool {
	return Normalize(p) == "/"
}

// HasPrefixPath reports whether p is equal to prefix or a descendant
// of it, treating both as normalized absolute paths. Used by the mount
// table (longest-prefix match).
func HasPrefixPath(p, prefix string) bool {
	p = Normalize(p)
	prefix = Normalize(prefix)

	if prefix == "/" {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// RelativeTo returns p's path components below prefix, as a normalized
// absolute path rooted at "/". RelativeTo("/mnt/a/b", "/mnt") == "/a/b".
func RelativeTo(p, prefix string) string {
	p = Normalize(p)
	prefix = Normalize(prefix)

	if prefix == "/" {
		return p
	}
	rest := strings.TrimPrefix(p, prefix)
	if rest == "" {
		return "/"
	}
	return Normalize(rest)
}
