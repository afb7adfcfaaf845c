package nodetxn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func alwaysMatch() Filter {
	return ListenerFuncFilter(func(n *Node) bool { return true })
}

// ListenerFuncFilter adapts a plain function to Filter, for tests that don't
// need a real NameFilter/CASFilter.
type ListenerFuncFilter func(n *Node) bool

func (f ListenerFuncFilter) Matches(n *Node) bool { return f(n) }

func TestIndexesNotifyOrderIsGroupedThenRegistration(t *testing.T) {
	ix := NewIndexes()
	var order []string

	record := func(name string) Listener {
		return ListenerFunc(func(ev ChangeEvent) { order = append(order, name) })
	}

	ix.RegisterNameListener(alwaysMatch(), record("name1"))
	ix.RegisterCASListener(alwaysMatch(), record("cas1"))
	ix.RegisterPathListener(alwaysMatch(), record("path1"))
	ix.RegisterPathListener(alwaysMatch(), record("path2"))
	ix.RegisterCASListener(alwaysMatch(), record("cas2"))
	ix.RegisterNameListener(alwaysMatch(), record("name2"))

	ix.NotifyInsert(1, &Node{Key: 1})

	require.Equal(t, []string{"path1", "path2", "cas1", "cas2", "name1", "name2"}, order,
		"delivery must be path-group first, then CAS, then name, registration order within each group")
}

func TestIndexesOnlyMatchingListenersNotified(t *testing.T) {
	ix := NewIndexes()
	var notified []NodeKey
	nameSeven := CreateNameFilter(7)
	ix.RegisterNameListener(nameSeven, ListenerFunc(func(ev ChangeEvent) { notified = append(notified, ev.Key) }))

	ix.NotifyInsert(1, &Node{Key: 1, Kind: KindElement, LocalNameKey: 7})
	ix.NotifyInsert(2, &Node{Key: 2, Kind: KindElement, LocalNameKey: 8})
	ix.NotifyInsert(3, &Node{Key: 3, Kind: KindAttribute, LocalNameKey: 7})

	require.Equal(t, []NodeKey{1, 3}, notified)
}

func TestUnregisterStopsFutureNotifications(t *testing.T) {
	ix := NewIndexes()
	count := 0
	token := ix.RegisterNameListener(alwaysMatch(), ListenerFunc(func(ev ChangeEvent) { count++ }))

	ix.NotifyInsert(1, &Node{Key: 1})
	ix.Unregister(groupName, token)
	ix.NotifyInsert(2, &Node{Key: 2})

	require.Equal(t, 1, count)
}

func TestCASFilterMatchesByPathKindAndRange(t *testing.T) {
	ps := NewPathSummary()
	fooName := ps.InternName("foo")
	pathKey := ps.InternPath(DocumentRootKey, fooName)

	f, err := CreateCASFilterRange(ps, "/foo", KindNumberValue, []byte("10"), []byte("50"))
	require.NoError(t, err)

	require.True(t, f.Matches(&Node{Kind: KindNumberValue, PathNodeKey: pathKey, Value: []byte("25")}))
	require.False(t, f.Matches(&Node{Kind: KindNumberValue, PathNodeKey: pathKey, Value: []byte("99")}))
	require.False(t, f.Matches(&Node{Kind: KindStringValue, PathNodeKey: pathKey, Value: []byte("25")}))
	require.False(t, f.Matches(&Node{Kind: KindNumberValue, PathNodeKey: NullKey, Value: []byte("25")}))
}

func TestCreateCASFilterWithUnknownPathMatchesNothing(t *testing.T) {
	ps := NewPathSummary()
	f, err := CreateCASFilter(ps, "/never/seen", KindStringValue)
	require.NoError(t, err)
	require.False(t, f.Matches(&Node{Kind: KindStringValue, PathNodeKey: 1}))
}

// primitiveRecorder implements PrimitiveListener only, not Listener, so
// registering it against the full-snapshot API would be a compile error —
// the interface separation itself is part of what's under test.
type primitiveRecorder struct {
	events []PrimitiveChangeEvent
}

func (r *primitiveRecorder) OnChangePrimitive(ev PrimitiveChangeEvent) {
	r.events = append(r.events, ev)
}

func TestRegisterPrimitiveListenerRejectsNonPrimitiveListener(t *testing.T) {
	ix := NewIndexes()
	_, err := ix.RegisterPrimitiveNameListener(CreateNameFilter(1), ListenerFunc(func(ev ChangeEvent) {}))
	require.Error(t, err, "a listener that only implements Listener must be rejected at registration time")
}

func TestNotifyChangePrimitiveDeliversWithoutMaterializingANode(t *testing.T) {
	ix := NewIndexes()
	rec := &primitiveRecorder{}
	_, err := ix.RegisterPrimitiveNameListener(CreateNameFilter(7), rec)
	require.NoError(t, err)

	name := int64(7)
	ix.NotifyChangePrimitive(PrimitiveChangeEvent{Kind: ChangeInsert, NodeKey: 1, NodeKind: KindElement, Name: &name})
	other := int64(8)
	ix.NotifyChangePrimitive(PrimitiveChangeEvent{Kind: ChangeInsert, NodeKey: 2, NodeKind: KindElement, Name: &other})

	require.Len(t, rec.events, 1)
	require.Equal(t, NodeKey(1), rec.events[0].NodeKey)
}

func TestNotifyChangePrimitiveOrderIsGroupedThenRegistration(t *testing.T) {
	ix := NewIndexes()
	var order []string
	record := func(name string) PrimitiveListener {
		return primitiveListenerFunc(func(ev PrimitiveChangeEvent) { order = append(order, name) })
	}
	alwaysPrimitive := primitiveFilterFunc(func(NodeKind, NodeKey, *int64, []byte) bool { return true })

	_, _ = ix.RegisterPrimitiveNameListener(alwaysPrimitive, record("name1"))
	_, _ = ix.RegisterPrimitiveCASListener(alwaysPrimitive, record("cas1"))
	_, _ = ix.RegisterPrimitivePathListener(alwaysPrimitive, record("path1"))

	ix.NotifyChangePrimitive(PrimitiveChangeEvent{Kind: ChangeInsert, NodeKey: 1})

	require.Equal(t, []string{"path1", "cas1", "name1"}, order)
}

type primitiveListenerFunc func(ev PrimitiveChangeEvent)

func (f primitiveListenerFunc) OnChangePrimitive(ev PrimitiveChangeEvent) { f(ev) }

type primitiveFilterFunc func(nodeKind NodeKind, pathNodeKey NodeKey, name *int64, value []byte) bool

func (f primitiveFilterFunc) MatchesPrimitive(nodeKind NodeKind, pathNodeKey NodeKey, name *int64, value []byte) bool {
	return f(nodeKind, pathNodeKey, name, value)
}
