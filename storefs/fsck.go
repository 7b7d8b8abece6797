package storefs

import (
	"context"
	"fmt"

	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vpath"
)

// CheckInvariants walks the whole tree from the root and reports every
// violated structural invariant: a record whose type bits aren't
// exactly one file type, a size disagreeing with its data blob, a
// directory entry pointing at a missing inode, a link count that
// doesn't match the number of directory entries referencing the inode,
// and ids in the store no path reaches. An empty slice means the
// store is consistent.
func (fs *FS) CheckInvariants(ctx context.Context) ([]string, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	var problems []string
	reached := map[uint64]bool{rootIno: true}
	// Directory entries referencing each ino; dirs additionally count
	// "." and their children's "..".
	refs := map[uint64]uint32{rootIno: 2}

	type frame struct {
		ino  uint64
		path string
	}
	queue := []frame{{ino: rootIno, path: "/"}}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		rec, rerr := getRecord(txn, f.ino)
		if rerr != nil {
			problems = append(problems, fmt.Sprintf("%s: inode %d unreadable: %v", f.path, f.ino, rerr))
			continue
		}

		if rec.Ino != f.ino {
			problems = append(problems, fmt.Sprintf("%s: record stored under id %d claims ino %d", f.path, f.ino, rec.Ino))
		}
		switch rec.Mode.Type() {
		case vinode.S_IFREG, vinode.S_IFDIR, vinode.S_IFLNK, vinode.S_IFIFO,
			vinode.S_IFSOCK, vinode.S_IFBLK, vinode.S_IFCHR:
		default:
			problems = append(problems, fmt.Sprintf("%s: mode %#o has invalid type bits", f.path, rec.Mode))
		}

		raw, ok, gerr := txn.Get(rec.Data)
		if gerr != nil {
			return nil, gerr
		}
		reached[rec.Data] = true
		if ok && rec.Size != uint64(len(raw)) {
			problems = append(problems, fmt.Sprintf("%s: size %d but data blob holds %d bytes", f.path, rec.Size, len(raw)))
		}
		if !ok && rec.Size != 0 {
			problems = append(problems, fmt.Sprintf("%s: size %d but no data blob", f.path, rec.Size))
		}

		if !rec.Mode.IsDir() {
			continue
		}

		dir, derr := getDirectory(txn, rec)
		if derr != nil {
			problems = append(problems, fmt.Sprintf("%s: directory blob unreadable: %v", f.path, derr))
			continue
		}
		for _, e := range dir.entries {
			child, cerr := getRecord(txn, e.Ino)
			if cerr != nil {
				problems = append(problems, fmt.Sprintf("%s: entry %q points at missing inode %d", f.path, e.Name, e.Ino))
				continue
			}
			refs[e.Ino]++
			if child.Mode.IsDir() {
				refs[rec.Ino]++ // the child's ".."
				if reached[e.Ino] {
					problems = append(problems, fmt.Sprintf("%s: directory inode %d reached twice", f.path, e.Ino))
					continue
				}
				refs[e.Ino]++ // the child's "."
				queue = append(queue, frame{ino: e.Ino, path: vpath.Join(f.path, e.Name)})
			}
			reached[e.Ino] = true
		}
	}

	// Second pass: nlink vs. counted references.
	for ino, want := range refs {
		rec, rerr := getRecord(txn, ino)
		if rerr != nil {
			continue // already reported above
		}
		if rec.Nlink != want {
			problems = append(problems, fmt.Sprintf("inode %d: nlink %d, but %d references found", ino, rec.Nlink, want))
		}
	}

	keys, err := txn.Keys()
	if err != nil {
		return nil, err
	}
	for _, id := range keys {
		if !reached[id] {
			problems = append(problems, fmt.Sprintf("id %d: not reachable from the root", id))
		}
	}

	return problems, nil
}
