package nodetxn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternNameIsStableAndUnique(t *testing.T) {
	ps := NewPathSummary()
	a1 := ps.InternName("a")
	b := ps.InternName("b")
	a2 := ps.InternName("a")
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, b)
}

func TestInternPathDeduplicatesAndCountsReferences(t *testing.T) {
	ps := NewPathSummary()
	nameA := ps.InternName("a")

	k1 := ps.InternPath(DocumentRootKey, nameA)
	k2 := ps.InternPath(DocumentRootKey, nameA)
	require.Equal(t, k1, k2, "interning the same path twice must return the same key")

	node, ok := ps.Node(k1)
	require.True(t, ok)
	require.Equal(t, int64(2), node.RefCount)
	require.Equal(t, 1, node.Level)

	ps.Release(k1)
	node, _ = ps.Node(k1)
	require.Equal(t, int64(1), node.RefCount)
}

func TestParseResolvesAbsolutePath(t *testing.T) {
	ps := NewPathSummary()
	a := ps.InternName("a")
	b := ps.InternName("b")
	abKey := ps.InternPath(ps.InternPath(DocumentRootKey, a), b)

	keys, err := ps.Parse("/a/b")
	require.NoError(t, err)
	require.Equal(t, []NodeKey{abKey}, keys)
}

func TestParseUnknownSegmentYieldsNoMatchesNotError(t *testing.T) {
	ps := NewPathSummary()
	keys, err := ps.Parse("/never/seen")
	require.NoError(t, err)
	require.Nil(t, keys)
}

func TestParseRequiresAbsolutePath(t *testing.T) {
	ps := NewPathSummary()
	_, err := ps.Parse("relative/path")
	require.Error(t, err)
}

func TestParseRootPath(t *testing.T) {
	ps := NewPathSummary()
	keys, err := ps.Parse("/")
	require.NoError(t, err)
	require.Equal(t, []NodeKey{DocumentRootKey}, keys)
}
