package vacl_test

import (
	"testing"

	"github.com/inodefs/corefs/vacl"
	"github.com/inodefs/corefs/vinode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrips(t *testing.T) {
	acl := &vacl.ACL{Entries: []vacl.Entry{
		{Tag: vacl.TagUserObj, Perm: 0o7},
		{Tag: vacl.TagUser, ID: 1001, Perm: 0o6},
		{Tag: vacl.TagGroupObj, Perm: 0o5},
		{Tag: vacl.TagGroup, ID: 2002, Perm: 0o4},
		{Tag: vacl.TagMask, Perm: 0o7},
		{Tag: vacl.TagOther, Perm: 0o0},
	}}

	buf := acl.Marshal()
	got, err := vacl.Unmarshal(buf)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 6)
}

func TestFromModeGrantsOwnerEverythingWhenModeAllowsIt(t *testing.T) {
	acl := vacl.FromMode(0o754)
	assert.True(t, acl.Check(100, 100, nil, 100, 200, vinode.R_OK|vinode.W_OK|vinode.X_OK))
	assert.True(t, acl.Check(999, 100, nil, 100, 200, vinode.R_OK))
	assert.False(t, acl.Check(999, 100, nil, 100, 200, vinode.W_OK))
}

func TestNamedUserEntryIsMaskedByMaskEntry(t *testing.T) {
	acl := &vacl.ACL{Entries: []vacl.Entry{
		{Tag: vacl.TagUserObj, Perm: 0o7},
		{Tag: vacl.TagUser, ID: 42, Perm: 0o7},
		{Tag: vacl.TagGroupObj, Perm: 0o0},
		{Tag: vacl.TagMask, Perm: 0o4},
		{Tag: vacl.TagOther, Perm: 0o0},
	}}

	// Named user 42 would have rwx, but the mask restricts it to r.
	assert.True(t, acl.Check(42, 999, nil, 1, 1, vinode.R_OK))
	assert.False(t, acl.Check(42, 999, nil, 1, 1, vinode.W_OK))
}

func TestSupplementaryGroupMembershipGrantsGroupPermission(t *testing.T) {
	acl := &vacl.ACL{Entries: []vacl.Entry{
		{Tag: vacl.TagUserObj, Perm: 0o7},
		{Tag: vacl.TagGroupObj, Perm: 0o0},
		{Tag: vacl.TagGroup, ID: 55, Perm: 0o6},
		{Tag: vacl.TagMask, Perm: 0o6},
		{Tag: vacl.TagOther, Perm: 0o0},
	}}

	assert.True(t, acl.Check(200, 300, []uint32{55}, 1, 400, vinode.R_OK|vinode.W_OK))
	assert.False(t, acl.Check(200, 300, nil, 1, 400, vinode.R_OK))
}

func TestRootAlwaysPasses(t *testing.T) {
	acl := vacl.FromMode(0)
	assert.True(t, acl.Check(0, 0, nil, 1000, 1000, vinode.R_OK|vinode.W_OK|vinode.X_OK))
}

func TestSetOnAndFromRecordRoundTrip(t *testing.T) {
	rec := vinode.New(1, 2, vinode.S_IFREG|0o644, 100, 100, 0)
	acl := vacl.FromMode(0o640)
	acl.SetOn(rec)

	got, ok, err := vacl.FromRecord(rec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Check(100, 100, nil, 100, 100, vinode.R_OK|vinode.W_OK))

	vacl.RemoveFrom(rec)
	_, ok, err = vacl.FromRecord(rec)
	require.NoError(t, err)
	assert.False(t, ok)
}
