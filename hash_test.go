package nodetxn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSelfHashDependsOnContent(t *testing.T) {
	a := &Node{Key: 1, Kind: KindStringValue, Value: []byte("alpha")}
	b := &Node{Key: 1, Kind: KindStringValue, Value: []byte("beta")}
	require.NotEqual(t, computeSelfHash(a), computeSelfHash(b))
	require.Equal(t, computeSelfHash(a), computeSelfHash(a), "hashing the same node twice must be deterministic")
}

func TestCombineHashIsOrderSensitive(t *testing.T) {
	h1 := combineHash(combineHash(10, 20), 30)
	h2 := combineHash(combineHash(10, 30), 20)
	require.NotEqual(t, h1, h2, "rolling hash must depend on fold order")
}

func TestSubtreeHashFoldsChildrenInOrder(t *testing.T) {
	self := uint64(5)
	children := []uint64{100, 200, 300}
	want := self
	for _, c := range children {
		want = combineHash(want, c)
	}
	require.Equal(t, want, subtreeHash(self, children))
}

func TestSubtreeHashWithNoChildrenIsSelfHash(t *testing.T) {
	require.Equal(t, uint64(42), subtreeHash(42, nil))
}

func TestHashAdapterDisabledIsNoop(t *testing.T) {
	h := newHashAdapter(HashNone, nil, nil)
	require.False(t, h.enabled())
	require.NoError(t, h.AdaptHashesForInsert(5))
	require.NoError(t, h.AdaptHashesForUpdate(5))
	require.NoError(t, h.AdaptHashesForRemove(5))
}

// TestRecomputeNodeFoldsChildHashUnderRollingMode guards against the bug
// where Rolling mode left a structural node's stored hash as its bare
// self-hash, ignoring children entirely: two parents with identical own
// bytes but differently-hashed children must not hash identically.
func TestRecomputeNodeFoldsChildHashUnderRollingMode(t *testing.T) {
	e := openTestEngine(t)
	w := e.Writer(0)

	parentKey, err := w.CreateRecord(&Node{Kind: KindObject})
	require.NoError(t, err)
	childKey, err := w.CreateRecord(&Node{Kind: KindStringValue, ParentKey: parentKey, Value: []byte("x")})
	require.NoError(t, err)

	parent, err := w.PrepareRecordForModification(parentKey)
	require.NoError(t, err)
	parent.FirstChildKey = childKey
	parent.LastChildKey = childKey
	parent.ChildCount = 1
	require.NoError(t, w.UpdateRecordSlot(parentKey, parent))

	child, err := w.PrepareRecordForModification(childKey)
	require.NoError(t, err)
	childHash := computeSelfHash(child)
	child.Hash = childHash
	require.NoError(t, w.UpdateRecordSlot(childKey, child))

	h := newHashAdapter(HashRolling, w, nil)
	got, err := h.recomputeNode(parentKey)
	require.NoError(t, err)

	parentAfter, err := w.PrepareRecordForModification(parentKey)
	require.NoError(t, err)
	bareSelf := computeSelfHash(parentAfter)
	want := subtreeHash(bareSelf, []uint64{childHash})

	require.Equal(t, want, got, "Rolling mode must fold the child's stored hash into the parent")
	require.NotEqual(t, bareSelf, got, "parent hash must differ from its bare self-hash once it has a child")
}
