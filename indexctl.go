package nodetxn

import (
	"bytes"
	"sync"
)

// ChangeKind classifies a single notified mutation (§4.4).
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeEvent is the full-snapshot payload delivered to a registered
// listener (§4.4 "NotifyChange full-snapshot"): Node carries the complete
// post-mutation state (pre-mutation state for a delete, since the node no
// longer exists afterward).
type ChangeEvent struct {
	Kind ChangeKind
	Key  NodeKey
	Node *Node
}

// Listener receives change events matching the filter it was registered
// under.
type Listener interface {
	OnChange(ev ChangeEvent)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ev ChangeEvent)

func (f ListenerFunc) OnChange(ev ChangeEvent) { f(ev) }

// Filter decides whether a listener should see a given node's change.
type Filter interface {
	Matches(n *Node) bool
}

// PathParser resolves a path expression into the set of path-node keys it
// matches against a resource's path summary (§4.4, §7 PathException on
// parse failure). The node transaction layer only depends on this
// interface; the actual path-summary index lives alongside storage and is
// out of core scope, matching the StorageEngine boundary in storage.go.
type PathParser interface {
	Parse(expr string) ([]NodeKey, error)
}

// NameFilter matches name-bearing nodes by local-name key (§4.4 "name
// listeners").
type NameFilter struct {
	localNameKey int64
}

// CreateNameFilter builds a filter matching any name-bearing node whose
// local name key equals localNameKey.
func CreateNameFilter(localNameKey int64) *NameFilter {
	return &NameFilter{localNameKey: localNameKey}
}

func (f *NameFilter) Matches(n *Node) bool {
	return n != nil && n.Kind.IsNameBearing() && n.LocalNameKey == f.localNameKey
}

// CASFilter matches value-bearing nodes reachable under a parsed path whose
// kind and (optionally) value fall within [low, high] (§4.4 "CAS
// listeners": content-and-structure).
type CASFilter struct {
	pathNodeKeys map[NodeKey]struct{}
	kind         NodeKind
	hasRange     bool
	low, high    []byte
}

// CreateCASFilter builds a filter matching value-bearing nodes of kind
// whose path-node key is among those pathExpr resolves to.
func CreateCASFilter(parser PathParser, pathExpr string, kind NodeKind) (*CASFilter, error) {
	keys, err := parser.Parse(pathExpr)
	if err != nil {
		return nil, WrapPath(err)
	}
	return &CASFilter{pathNodeKeys: toKeySet(keys), kind: kind}, nil
}

// CreateCASFilterRange builds a CAS filter additionally requiring the
// node's raw value to fall within [low, high] under byte-lexicographic
// comparison.
func CreateCASFilterRange(parser PathParser, pathExpr string, kind NodeKind, low, high []byte) (*CASFilter, error) {
	f, err := CreateCASFilter(parser, pathExpr, kind)
	if err != nil {
		return nil, err
	}
	f.hasRange = true
	f.low, f.high = low, high
	return f, nil
}

func toKeySet(keys []NodeKey) map[NodeKey]struct{} {
	m := make(map[NodeKey]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func (f *CASFilter) Matches(n *Node) bool {
	if n == nil || n.Kind != f.kind {
		return false
	}
	if _, ok := f.pathNodeKeys[n.PathNodeKey]; !ok {
		return false
	}
	if f.hasRange {
		if bytes.Compare(n.Value, f.low) < 0 || bytes.Compare(n.Value, f.high) > 0 {
			return false
		}
	}
	return true
}

// registeredListener pairs a listener with its filter, tracked within
// whichever of the three factory groups it was registered under.
type registeredListener struct {
	filter   Filter
	listener Listener
}

// listenerGroup identifies which of the three notification factories a
// listener belongs to (§4.4 "grouped by factory").
type listenerGroup int

const (
	groupPath listenerGroup = iota
	groupCAS
	groupName
)

// Indexes is the index-change notification plane shared by every write
// transaction against a resource (§4.4 "C4"). Grounded in the teacher's
// decoration-cache invalidation pattern (DecorationCacheEntry +
// pendingDecorationUpdates in garland.go): there, edits queued a
// recompute for anything overlapping the edited range; here, a mutation
// queues a notification for any listener whose filter matches the node.
type Indexes struct {
	mu        sync.RWMutex
	path      []registeredListener
	cas       []registeredListener
	name      []registeredListener
	primitive *primitiveIndexes
}

// NewIndexes returns an empty notification registry.
func NewIndexes() *Indexes {
	return &Indexes{}
}

// RegisterPathListener adds l to the path-index group.
func (ix *Indexes) RegisterPathListener(filter Filter, l Listener) int {
	return ix.register(groupPath, filter, l)
}

// RegisterCASListener adds l to the content-and-structure group.
func (ix *Indexes) RegisterCASListener(filter Filter, l Listener) int {
	return ix.register(groupCAS, filter, l)
}

// RegisterNameListener adds l to the name-index group.
func (ix *Indexes) RegisterNameListener(filter Filter, l Listener) int {
	return ix.register(groupName, filter, l)
}

func (ix *Indexes) register(group listenerGroup, filter Filter, l Listener) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entry := registeredListener{filter: filter, listener: l}
	switch group {
	case groupPath:
		ix.path = append(ix.path, entry)
		return len(ix.path) - 1
	case groupCAS:
		ix.cas = append(ix.cas, entry)
		return len(ix.cas) - 1
	default:
		ix.name = append(ix.name, entry)
		return len(ix.name) - 1
	}
}

// Unregister removes the listener registered at token within group, if
// still present.
func (ix *Indexes) Unregister(group listenerGroup, token int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var slice []registeredListener
	switch group {
	case groupPath:
		slice = ix.path
	case groupCAS:
		slice = ix.cas
	default:
		slice = ix.name
	}
	if token < 0 || token >= len(slice) {
		return
	}
	slice[token].listener = nil
	slice[token].filter = nil
}

// NotifyChange delivers ev to every registered listener whose filter
// matches ev.Node, in the ordering guarantee of §4.4: path-index listeners
// first, then CAS, then name, and within each group in registration order.
// At most one notification is delivered to a given listener per call.
func (ix *Indexes) NotifyChange(ev ChangeEvent) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, group := range [][]registeredListener{ix.path, ix.cas, ix.name} {
		for _, rl := range group {
			if rl.listener == nil || rl.filter == nil {
				continue
			}
			if rl.filter.Matches(ev.Node) {
				rl.listener.OnChange(ev)
			}
		}
	}
}

// PrimitiveChangeEvent is the primitive hot-path payload (§4.3): the fields
// a listener needs to decide relevance without the caller materializing a
// full *Node snapshot. Name is nil for kinds that are not name-bearing;
// Value is nil for kinds that carry no payload.
type PrimitiveChangeEvent struct {
	Kind        ChangeKind
	NodeKey     NodeKey
	NodeKind    NodeKind
	PathNodeKey NodeKey
	Name        *int64
	Value       []byte
}

// PrimitiveListener receives primitive hot-path change events (§4.3). It is
// a distinct interface from Listener: the primitive path never allocates a
// *Node, so a listener that only knows how to read ChangeEvent.Node cannot
// be registered against it.
type PrimitiveListener interface {
	OnChangePrimitive(ev PrimitiveChangeEvent)
}

// PrimitiveFilter decides whether a primitive listener should see a given
// change from the primitive fields alone.
type PrimitiveFilter interface {
	MatchesPrimitive(nodeKind NodeKind, pathNodeKey NodeKey, name *int64, value []byte) bool
}

// MatchesPrimitive lets NameFilter serve the primitive hot path without a
// materialized Node.
func (f *NameFilter) MatchesPrimitive(nodeKind NodeKind, pathNodeKey NodeKey, name *int64, value []byte) bool {
	return nodeKind.IsNameBearing() && name != nil && *name == f.localNameKey
}

// MatchesPrimitive lets CASFilter serve the primitive hot path without a
// materialized Node.
func (f *CASFilter) MatchesPrimitive(nodeKind NodeKind, pathNodeKey NodeKey, name *int64, value []byte) bool {
	if nodeKind != f.kind {
		return false
	}
	if _, ok := f.pathNodeKeys[pathNodeKey]; !ok {
		return false
	}
	if f.hasRange {
		if bytes.Compare(value, f.low) < 0 || bytes.Compare(value, f.high) > 0 {
			return false
		}
	}
	return true
}

// registeredPrimitiveListener pairs a primitive filter with a primitive
// listener, tracked within one of the three factory groups.
type registeredPrimitiveListener struct {
	filter   PrimitiveFilter
	listener PrimitiveListener
}

// Indexes' primitive-hot-path registry, parallel to path/cas/name above but
// checked against PrimitiveListener instead of Listener.
type primitiveIndexes struct {
	path []registeredPrimitiveListener
	cas  []registeredPrimitiveListener
	name []registeredPrimitiveListener
}

// RegisterPrimitivePathListener adds l to the path-index primitive group.
// l must implement PrimitiveListener; listeners that only implement the
// full-snapshot Listener interface are rejected here (§4.3 "listeners that
// do not support primitive events are rejected at registration time").
func (ix *Indexes) RegisterPrimitivePathListener(filter PrimitiveFilter, l any) (int, error) {
	return ix.registerPrimitive(groupPath, filter, l)
}

// RegisterPrimitiveCASListener adds l to the content-and-structure
// primitive group. See RegisterPrimitivePathListener for the acceptance
// rule.
func (ix *Indexes) RegisterPrimitiveCASListener(filter PrimitiveFilter, l any) (int, error) {
	return ix.registerPrimitive(groupCAS, filter, l)
}

// RegisterPrimitiveNameListener adds l to the name-index primitive group.
// See RegisterPrimitivePathListener for the acceptance rule.
func (ix *Indexes) RegisterPrimitiveNameListener(filter PrimitiveFilter, l any) (int, error) {
	return ix.registerPrimitive(groupName, filter, l)
}

func (ix *Indexes) registerPrimitive(group listenerGroup, filter PrimitiveFilter, l any) (int, error) {
	pl, ok := l.(PrimitiveListener)
	if !ok {
		return 0, WrapUsage("listener does not implement PrimitiveListener; register it via RegisterPathListener/RegisterCASListener/RegisterNameListener instead")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.primitive == nil {
		ix.primitive = &primitiveIndexes{}
	}
	entry := registeredPrimitiveListener{filter: filter, listener: pl}
	switch group {
	case groupPath:
		ix.primitive.path = append(ix.primitive.path, entry)
		return len(ix.primitive.path) - 1, nil
	case groupCAS:
		ix.primitive.cas = append(ix.primitive.cas, entry)
		return len(ix.primitive.cas) - 1, nil
	default:
		ix.primitive.name = append(ix.primitive.name, entry)
		return len(ix.primitive.name) - 1, nil
	}
}

// UnregisterPrimitive removes the primitive listener registered at token
// within group, if still present.
func (ix *Indexes) UnregisterPrimitive(group listenerGroup, token int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.primitive == nil {
		return
	}
	var slice []registeredPrimitiveListener
	switch group {
	case groupPath:
		slice = ix.primitive.path
	case groupCAS:
		slice = ix.primitive.cas
	default:
		slice = ix.primitive.name
	}
	if token < 0 || token >= len(slice) {
		return
	}
	slice[token].listener = nil
	slice[token].filter = nil
}

// NotifyChangePrimitive delivers ev to every registered primitive listener
// whose filter matches, in the same path-then-CAS-then-name, registration
// order guarantee as NotifyChange — but without ever materializing a *Node
// (§4.3 "primitive hot-path variant that avoids materializing a node
// snapshot").
func (ix *Indexes) NotifyChangePrimitive(ev PrimitiveChangeEvent) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.primitive == nil {
		return
	}
	for _, group := range [][]registeredPrimitiveListener{ix.primitive.path, ix.primitive.cas, ix.primitive.name} {
		for _, rl := range group {
			if rl.listener == nil || rl.filter == nil {
				continue
			}
			if rl.filter.MatchesPrimitive(ev.NodeKind, ev.PathNodeKey, ev.Name, ev.Value) {
				rl.listener.OnChangePrimitive(ev)
			}
		}
	}
}

// NotifyInsert is a convenience wrapper around NotifyChange for ChangeInsert.
func (ix *Indexes) NotifyInsert(key NodeKey, n *Node) {
	ix.NotifyChange(ChangeEvent{Kind: ChangeInsert, Key: key, Node: n})
}

// NotifyUpdate is a convenience wrapper around NotifyChange for ChangeUpdate.
func (ix *Indexes) NotifyUpdate(key NodeKey, n *Node) {
	ix.NotifyChange(ChangeEvent{Kind: ChangeUpdate, Key: key, Node: n})
}

// NotifyDelete is a convenience wrapper around NotifyChange for ChangeDelete.
func (ix *Indexes) NotifyDelete(key NodeKey, n *Node) {
	ix.NotifyChange(ChangeEvent{Kind: ChangeDelete, Key: key, Node: n})
}
