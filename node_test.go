package nodetxn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeKindPartition(t *testing.T) {
	require.True(t, KindDocumentRoot.IsStructural())
	require.True(t, KindObject.IsStructural())
	require.False(t, KindStringValue.IsStructural())

	require.False(t, KindDocumentRoot.HasSiblings())
	require.False(t, KindObjectStringValue.HasSiblings())
	require.True(t, KindElement.HasSiblings())

	require.True(t, KindObjectStringValue.IsObjectChildValue())
	require.False(t, KindElement.IsObjectChildValue())

	require.True(t, KindElement.IsNameBearing())
	require.False(t, KindStringValue.IsNameBearing())

	require.True(t, KindNumberValue.IsValueBearing())
	require.False(t, KindObject.IsValueBearing())

	require.True(t, KindStringValue.IsLeaf())
	require.False(t, KindObject.IsLeaf())
}

func TestIsItemListKey(t *testing.T) {
	require.False(t, IsItemListKey(DocumentRootKey))
	require.False(t, IsItemListKey(NullKey))
	require.True(t, IsItemListKey(NullKey-1))
	require.True(t, IsItemListKey(-100))
}

func TestNodeResetClearsToZeroValueWithSentinels(t *testing.T) {
	n := &Node{Key: 5, ParentKey: 1, FirstChildKey: 2, Value: []byte("x")}
	n.Reset()
	require.Equal(t, NodeKey(0), n.Key)
	require.Equal(t, NullKey, n.ParentKey)
	require.Equal(t, NullKey, n.FirstChildKey)
	require.Equal(t, NullKey, n.LastChildKey)
	require.Equal(t, NullKey, n.LeftSiblingKey)
	require.Equal(t, NullKey, n.RightSiblingKey)
	require.Equal(t, NullKey, n.PathNodeKey)
	require.Nil(t, n.Value)
}

func TestNodeCloneIsIndependent(t *testing.T) {
	n := &Node{Key: 7, Value: []byte("hello"), DeweyID: []byte{1, 2, 3}}
	c := n.clone()
	c.Value[0] = 'H'
	c.DeweyID[0] = 9
	require.Equal(t, byte('h'), n.Value[0], "mutating the clone must not affect the original")
	require.Equal(t, byte(1), n.DeweyID[0])
	require.Equal(t, n.Key, c.Key)
}

func TestEncodeDecodeNodeRoundTrip(t *testing.T) {
	original := &Node{
		Key:             3,
		Kind:            KindElement,
		ParentKey:       1,
		FirstChildKey:   4,
		LastChildKey:    5,
		ChildCount:      2,
		DescendantCount: 2,
		LeftSiblingKey:  NullKey,
		RightSiblingKey: 6,
		PathNodeKey:     9,
		LocalNameKey:    42,
	}
	raw := encodeNode(original)

	var decoded Node
	require.NoError(t, decodeNode(raw, &decoded))
	require.Equal(t, original.Key, decoded.Key)
	require.Equal(t, original.Kind, decoded.Kind)
	require.Equal(t, original.ParentKey, decoded.ParentKey)
	require.Equal(t, original.FirstChildKey, decoded.FirstChildKey)
	require.Equal(t, original.LastChildKey, decoded.LastChildKey)
	require.Equal(t, original.ChildCount, decoded.ChildCount)
	require.Equal(t, original.DescendantCount, decoded.DescendantCount)
	require.Equal(t, original.RightSiblingKey, decoded.RightSiblingKey)
	require.Equal(t, original.PathNodeKey, decoded.PathNodeKey)
	require.Equal(t, original.LocalNameKey, decoded.LocalNameKey)
}

func TestEncodeDecodeValueBearingNodeRoundTrip(t *testing.T) {
	original := &Node{Key: 2, Kind: KindStringValue, ParentKey: 1, Value: []byte("payload")}
	raw := encodeNode(original)

	var decoded Node
	require.NoError(t, decodeNode(raw, &decoded))
	require.Equal(t, original.Value, decoded.Value)
}

func TestDecodeNodeRejectsEmptySlot(t *testing.T) {
	var decoded Node
	require.Error(t, decodeNode(nil, &decoded))
}
