package nodetxn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestItemListAddAndGetRoundTrip(t *testing.T) {
	l := NewItemList()
	v1 := &Node{Kind: KindStringValue, Value: []byte("one")}
	v2 := &Node{Kind: KindStringValue, Value: []byte("two")}

	k1 := l.Add(v1)
	k2 := l.Add(v2)
	require.True(t, IsItemListKey(k1))
	require.True(t, IsItemListKey(k2))
	require.NotEqual(t, k1, k2)

	got1, ok := l.Get(k1)
	require.True(t, ok)
	require.Same(t, v1, got1)

	got2, ok := l.Get(k2)
	require.True(t, ok)
	require.Same(t, v2, got2)
}

func TestItemListGetRejectsNonItemListKey(t *testing.T) {
	l := NewItemList()
	l.Add(&Node{})
	_, ok := l.Get(DocumentRootKey)
	require.False(t, ok)
	_, ok = l.Get(NullKey)
	require.False(t, ok)
}

func TestItemListGetRejectsOutOfRange(t *testing.T) {
	l := NewItemList()
	k := l.Add(&Node{})
	_, ok := l.Get(k - 1)
	require.False(t, ok)
}

func TestItemListResetClearsEntries(t *testing.T) {
	l := NewItemList()
	l.Add(&Node{})
	l.Add(&Node{})
	require.Equal(t, 2, l.Len())
	l.Reset()
	require.Equal(t, 0, l.Len())
}
