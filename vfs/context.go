package vfs

import (
	"github.com/inodefs/corefs/vpath"
)

// ctxID indexes into a VFS's context arena. Contexts form a tree with
// parent back-edges; representing parent/children as indices rather
// than pointers avoids a reference cycle between sibling Go values.
type ctxID int

type contextNode struct {
	root  string
	pwd   string
	creds Credentials

	descriptors map[int]*Descriptor
	nextFD      int

	parent    ctxID
	hasParent bool
	children  []ctxID
}

// Context is a lightweight handle into a VFS's context arena: its own
// root, working directory, credentials, and open descriptor table,
// while sharing the VFS's mount table, clock, and watch hub with every
// other context derived from it.
type Context struct {
	vfs *VFS
	id  ctxID
}

// Root returns the VFS's top-level context, rooted at "/" with no
// parent.
func (v *VFS) Root() *Context {
	return &Context{vfs: v, id: v.rootCtx}
}

func (v *VFS) newContextNode(root, pwd string, creds Credentials, parent ctxID, hasParent bool) ctxID {
	v.ctxMu.Lock()
	defer v.ctxMu.Unlock()

	node := &contextNode{
		root:        root,
		pwd:         pwd,
		creds:       creds,
		descriptors: make(map[int]*Descriptor),
		parent:      parent,
		hasParent:   hasParent,
	}
	id := ctxID(len(v.contexts))
	v.contexts = append(v.contexts, node)
	if hasParent {
		v.contexts[parent].children = append(v.contexts[parent].children, id)
	}
	return id
}

func (c *Context) node() *contextNode {
	c.vfs.ctxMu.Lock()
	defer c.vfs.ctxMu.Unlock()
	return c.vfs.contexts[c.id]
}

// Credentials returns the context's active identity.
func (c *Context) Credentials() Credentials {
	c.vfs.ctxMu.Lock()
	defer c.vfs.ctxMu.Unlock()
	return c.vfs.contexts[c.id].creds
}

// SetCredentials replaces the context's active identity.
func (c *Context) SetCredentials(creds Credentials) {
	c.vfs.ctxMu.Lock()
	defer c.vfs.ctxMu.Unlock()
	c.vfs.contexts[c.id].creds = creds
}

// Getwd returns the context's current working directory.
func (c *Context) Getwd() string {
	c.vfs.ctxMu.Lock()
	defer c.vfs.ctxMu.Unlock()
	return c.vfs.contexts[c.id].pwd
}

// Chdir changes the context's working directory to path, resolved
// against the context's current root and pwd.
func (c *Context) Chdir(path string) {
	abs := c.resolveAgainstPwd(path)
	c.vfs.ctxMu.Lock()
	defer c.vfs.ctxMu.Unlock()
	c.vfs.contexts[c.id].pwd = abs
}

// resolveAgainstPwd turns a possibly-relative path into an absolute
// one inside the context's own subtree, without touching the backend.
func (c *Context) resolveAgainstPwd(path string) string {
	n := c.node()
	var abs string
	if vpath.IsRoot(vpath.Resolve(path)) || path == "" {
		abs = vpath.Resolve(path)
	} else if path[0] == '/' {
		abs = vpath.Normalize(path)
	} else {
		abs = vpath.Join(n.pwd, path)
	}
	return abs
}

// Chroot returns a new child Context whose root is rebound to path
// (resolved against this context's current view). Every path the
// child context observes is clamped inside that subtree: root/pwd are
// stored as absolute paths within the parent's namespace, and virtualPath
// always joins them back onto the shared root before touching a
// backend, so ".." can never climb above the new root.
func (c *Context) Chroot(path string) *Context {
	newRoot := c.virtualPath(path)
	creds := c.Credentials()

	id := c.vfs.newContextNode(newRoot, "/", creds, c.id, true)
	return &Context{vfs: c.vfs, id: id}
}

// virtualPath maps a path as seen by this context (relative to its pwd
// if not absolute) onto the real, root-prefixed path the mount table
// and backends understand.
func (c *Context) virtualPath(path string) string {
	abs := c.resolveAgainstPwd(path)
	n := c.node()
	return vpath.Join(n.root, abs)
}
