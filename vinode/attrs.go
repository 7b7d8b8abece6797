package vinode

// AttrNamespaceSystem is the reserved extended-attribute namespace
// prefix, mirroring the "system.*" namespace convention that
// github.com/pkg/xattr's callers use on Linux for ACLs and capabilities.
const AttrNamespaceSystem = "system."

// AttrPosixACLAccess is the reserved xattr name under which a POSIX
// ACL is serialized.
const AttrPosixACLAccess = AttrNamespaceSystem + "posix_acl_access"

// Attrs is an insertion-ordered map of extended attribute name to
// value bytes. A plain map loses insertion order, which callers
// round-tripping attributes depend on; a slice of keys alongside the
// map is enough to preserve it without
// reaching for a third-party ordered-map type.
type Attrs struct {
	order  []string
	values map[string][]byte
}

// NewAttrs returns an empty attribute map.
func NewAttrs() *Attrs {
	return &Attrs{values: make(map[string][]byte)}
}

// Get returns the value for name and whether it was present.
func (a *Attrs) Get(name string) ([]byte, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a.values[name]
	return v, ok
}

// Set inserts or replaces the value for name, preserving the original
// insertion position on replace.
func (a *Attrs) Set(name string, value []byte) {
	if a.values == nil {
		a.values = make(map[string][]byte)
	}
	if _, exists := a.values[name]; !exists {
		a.order = append(a.order, name)
	}
	a.values[name] = value
}

// Delete removes name, if present.
func (a *Attrs) Delete(name string) {
	if _, exists := a.values[name]; !exists {
		return
	}
	delete(a.values, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Names returns attribute names in insertion order.
func (a *Attrs) Names() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Clone deep-copies the attribute map.
func (a *Attrs) Clone() *Attrs {
	if a == nil {
		return NewAttrs()
	}
	out := &Attrs{
		order:  append([]string(nil), a.order...),
		values: make(map[string][]byte, len(a.values)),
	}
	for k, v := range a.values {
		out.values[k] = append([]byte(nil), v...)
	}
	return out
}

// Len reports the number of attributes.
func (a *Attrs) Len() int {
	if a == nil {
		return 0
	}
	return len(a.order)
}
