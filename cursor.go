package nodetxn

// CursorMode selects how Current() hands back the node at the cursor's
// position (§4.2 "object mode" vs "singleton mode").
type CursorMode int

const (
	// SingletonMode is the default, zero-allocation hot path: Current()
	// returns a pointer into the cursor's own reused decode buffer, valid
	// only until the next move. Callers that need a value to outlive a
	// move must call Current().clone() themselves, or switch to ObjectMode.
	SingletonMode CursorMode = iota

	// ObjectMode makes every Current() call return a freshly cloned Node
	// safe to retain across moves, at the cost of an allocation per call
	// (§4.2 "escape hatch").
	ObjectMode
)

// AllocStats counts cursor-internal work for tests asserting the
// zero-allocation hot path stays zero-allocation (§8 testable property:
// "moving within a page and reading a node allocates nothing").
type AllocStats struct {
	Rebinds       uint64 // times the singleton buffer was decoded into
	Clones        uint64 // times Current() cloned (ObjectMode, or DeweyID compute)
	GuardAcquires uint64 // times a new page guard was acquired
}

// Cursor is a read-only, single-singleton walker over one revision of a
// resource (§4.2). It holds at most one page guard at a time and rebinds
// its singleton Node buffer in place as it moves, following the teacher's
// Cursor (byte/rune/line addressing) generalized to node-key addressing:
// same position-tracking + fast/slow path split, same "adjust in place,
// avoid churn" discipline, now over a node tree instead of a rope.
type Cursor struct {
	reader   StorageEngineReader
	mode     CursorMode
	itemList *ItemList

	guard      *PageGuard
	guardPage  PageKey
	guardValid bool

	singleton    Node
	currentKey   NodeKey
	onItemList   bool
	itemListNode *Node

	stats AllocStats
}

// newCursor creates a cursor positioned at the document root.
func newCursor(reader StorageEngineReader) *Cursor {
	c := &Cursor{reader: reader, itemList: NewItemList()}
	c.singleton.Reset()
	_, _ = c.moveTo(DocumentRootKey)
	return c
}

// SetItemList replaces the cursor's in-transaction item list (used to
// share one list across cursors evaluating the same query).
func (c *Cursor) SetItemList(l *ItemList) { c.itemList = l }

// ItemList returns the cursor's in-transaction item list.
func (c *Cursor) ItemList() *ItemList { return c.itemList }

// AllocStats returns a snapshot of this cursor's internal counters.
func (c *Cursor) AllocStats() AllocStats { return c.stats }

// SetMode switches between SingletonMode and ObjectMode.
func (c *Cursor) SetMode(mode CursorMode) { c.mode = mode }

// releaseGuard drops any held page guard. Safe to call when none is held.
func (c *Cursor) releaseGuard() {
	if c.guard != nil {
		c.guard.Release()
		c.guard = nil
		c.guardValid = false
	}
}

// Key returns the node key the cursor is currently bound to.
func (c *Cursor) Key() NodeKey { return c.currentKey }

// Kind returns the kind of the node the cursor is currently bound to.
func (c *Cursor) Kind() NodeKind {
	if c.onItemList {
		return c.itemListNode.Kind
	}
	return c.singleton.Kind
}

// Current returns the node at the cursor's position. On an item-list
// entry the cursor is always effectively in object mode (§4.2): the
// returned value is the list's own owned Node, never the storage
// singleton. Otherwise, in SingletonMode this aliases the cursor's
// internal buffer (invalidated by the next move); in ObjectMode it is a
// fresh, independently-owned copy (§4.2 escape hatch).
func (c *Cursor) Current() *Node {
	if c.onItemList {
		return c.itemListNode
	}
	if c.mode == ObjectMode {
		c.stats.Clones++
		return c.singleton.clone()
	}
	return &c.singleton
}

// moveTo is the shared fast/slow-path implementation every navigation
// primitive below funnels through (§4.2). Negative keys address the
// in-transaction item list and never touch storage or a page guard; the
// fast path for storage keys is taken when key resolves to the page
// already pinned by this cursor's guard, the slow path releases that
// guard and acquires the new page's guard instead.
func (c *Cursor) moveTo(key NodeKey) (bool, error) {
	if IsItemListKey(key) {
		n, ok := c.itemList.Get(key)
		if !ok {
			return false, nil
		}
		c.onItemList = true
		c.itemListNode = n
		c.currentKey = key
		return true, nil
	}

	pageKey, err := c.reader.PageKeyOf(key)
	if err != nil {
		return false, err
	}

	// Slow path: acquire the candidate guard into a local first and keep the
	// previous guard held. Only once ReadSlot/decodeNode confirm the move
	// succeeds do we release the previous guard and install the candidate;
	// on any failure the candidate is released and the cursor's guard and
	// position are left exactly as they were (§4.2 failure semantics).
	needsSwap := !c.guardValid || pageKey != c.guardPage
	guard := c.guard
	if needsSwap {
		g, err := c.reader.AcquirePage(pageKey)
		if err != nil {
			return false, err
		}
		guard = g
	}

	raw, ok, err := c.reader.ReadSlot(guard, key)
	if err != nil {
		if needsSwap {
			guard.Release()
		}
		return false, err
	}
	if !ok {
		if needsSwap {
			guard.Release()
		}
		return false, nil
	}
	if err := decodeNode(raw, &c.singleton); err != nil {
		if needsSwap {
			guard.Release()
		}
		return false, err
	}

	if needsSwap {
		c.releaseGuard()
		c.guard = guard
		c.guardPage = pageKey
		c.guardValid = true
		c.stats.GuardAcquires++
	}
	c.currentKey = key
	c.onItemList = false
	c.itemListNode = nil
	c.stats.Rebinds++
	return true, nil
}

// MoveTo repositions the cursor directly to key, returning false (and
// leaving the cursor unmoved) if key does not exist at this revision.
func (c *Cursor) MoveTo(key NodeKey) (bool, error) {
	return c.moveTo(key)
}

// MoveToDocumentRoot repositions the cursor to the document root.
func (c *Cursor) MoveToDocumentRoot() (bool, error) {
	return c.moveTo(DocumentRootKey)
}

// HasParent reports whether the current node has a parent. Item-list
// entries never have a parent.
func (c *Cursor) HasParent() bool {
	return !c.onItemList && c.singleton.ParentKey != NullKey
}

// MoveToParent repositions the cursor to the current node's parent.
func (c *Cursor) MoveToParent() (bool, error) {
	if !c.HasParent() {
		return false, nil
	}
	return c.moveTo(c.singleton.ParentKey)
}

// HasFirstChild reports whether the current node has a first child.
func (c *Cursor) HasFirstChild() bool {
	return !c.onItemList && c.singleton.Kind.IsStructural() && c.singleton.FirstChildKey != NullKey
}

// MoveToFirstChild repositions the cursor to the current node's first child.
func (c *Cursor) MoveToFirstChild() (bool, error) {
	if !c.HasFirstChild() {
		return false, nil
	}
	return c.moveTo(c.singleton.FirstChildKey)
}

// HasLastChild reports whether the current node has a last child.
func (c *Cursor) HasLastChild() bool {
	return !c.onItemList && c.singleton.Kind.IsStructural() && c.singleton.LastChildKey != NullKey
}

// MoveToLastChild repositions the cursor to the current node's last child.
func (c *Cursor) MoveToLastChild() (bool, error) {
	if !c.HasLastChild() {
		return false, nil
	}
	return c.moveTo(c.singleton.LastChildKey)
}

// HasLeftSibling reports whether the current node has a left sibling.
func (c *Cursor) HasLeftSibling() bool {
	return !c.onItemList && c.singleton.Kind.HasSiblings() && c.singleton.LeftSiblingKey != NullKey
}

// MoveToLeftSibling repositions the cursor to the current node's left sibling.
func (c *Cursor) MoveToLeftSibling() (bool, error) {
	if !c.HasLeftSibling() {
		return false, nil
	}
	return c.moveTo(c.singleton.LeftSiblingKey)
}

// HasRightSibling reports whether the current node has a right sibling.
func (c *Cursor) HasRightSibling() bool {
	return !c.onItemList && c.singleton.Kind.HasSiblings() && c.singleton.RightSiblingKey != NullKey
}

// MoveToRightSibling repositions the cursor to the current node's right sibling.
func (c *Cursor) MoveToRightSibling() (bool, error) {
	if !c.HasRightSibling() {
		return false, nil
	}
	return c.moveTo(c.singleton.RightSiblingKey)
}

// MoveToNext moves to the right sibling if present, else ascends until an
// ancestor has a right sibling and descends to it (document order "next").
func (c *Cursor) MoveToNext() (bool, error) {
	if c.HasRightSibling() {
		return c.MoveToRightSibling()
	}
	for c.HasParent() {
		if ok, err := c.MoveToParent(); err != nil || !ok {
			return false, err
		}
		if c.HasRightSibling() {
			return c.MoveToRightSibling()
		}
	}
	return false, nil
}

// MoveToPrevious moves to the left sibling's rightmost-leaf descendant if
// present, else to the parent (document order "previous").
func (c *Cursor) MoveToPrevious() (bool, error) {
	if c.HasLeftSibling() {
		if ok, err := c.MoveToLeftSibling(); err != nil || !ok {
			return false, err
		}
		for c.HasLastChild() {
			if ok, err := c.MoveToLastChild(); err != nil || !ok {
				return true, nil
			}
		}
		return true, nil
	}
	if c.HasParent() {
		return c.MoveToParent()
	}
	return false, nil
}

// ---- remaining read-only accessors (§6 "Cursor API (read)") ----

func (c *Cursor) GetHash() uint64               { return c.singleton.Hash }
func (c *Cursor) GetParentKey() NodeKey         { return c.singleton.ParentKey }
func (c *Cursor) GetFirstChildKey() NodeKey     { return c.singleton.FirstChildKey }
func (c *Cursor) GetLastChildKey() NodeKey      { return c.singleton.LastChildKey }
func (c *Cursor) GetLeftSiblingKey() NodeKey    { return c.singleton.LeftSiblingKey }
func (c *Cursor) GetRightSiblingKey() NodeKey   { return c.singleton.RightSiblingKey }
func (c *Cursor) GetChildCount() int64          { return c.singleton.ChildCount }
func (c *Cursor) GetDescendantCount() int64     { return c.singleton.DescendantCount }
func (c *Cursor) GetPathNodeKey() NodeKey       { return c.singleton.PathNodeKey }
func (c *Cursor) GetLocalNameKey() int64        { return c.singleton.LocalNameKey }
func (c *Cursor) GetValue() []byte              { return c.singleton.Value }

// GetBooleanValue interprets the current node's value as a boolean
// (kind must be BooleanValue or ObjectBooleanValue).
func (c *Cursor) GetBooleanValue() (bool, error) {
	switch c.singleton.Kind {
	case KindBooleanValue, KindObjectBooleanValue:
		return len(c.singleton.Value) == 1 && c.singleton.Value[0] != 0, nil
	default:
		return false, WrapIllegalState("get_boolean_value: current node is not a boolean kind")
	}
}

// GetNumberValue returns the current node's raw decimal-text value bytes
// (kind must be NumberValue or ObjectNumberValue); parsing to a concrete
// numeric type is left to the caller's language-specific layer.
func (c *Cursor) GetNumberValue() ([]byte, error) {
	switch c.singleton.Kind {
	case KindNumberValue, KindObjectNumberValue:
		return c.singleton.Value, nil
	default:
		return nil, WrapIllegalState("get_number_value: current node is not a number kind")
	}
}

// GetRevisionNumber reports the revision this cursor's reader observes.
func (c *Cursor) GetRevisionNumber() RevisionNumber { return c.reader.Revision() }

// GetRevisionTimestamp reports when GetRevisionNumber() was committed.
func (c *Cursor) GetRevisionTimestamp() int64 { return c.reader.RevisionTimestamp() }

// GetMaxNodeKey reports the highest node key ever allocated as of this
// cursor's revision.
func (c *Cursor) GetMaxNodeKey() NodeKey { return c.reader.MaxNodeKey() }

// DeweyID returns the current node's Dewey identifier, computing and
// caching it on first use (§4.2 "deferred DeweyID binding": the field is
// never populated by moveTo itself since nearly every traversal never
// needs it).
func (c *Cursor) DeweyID() ([]byte, error) {
	if c.singleton.DeweyIDBound {
		return c.singleton.DeweyID, nil
	}
	id, err := c.computeDeweyID(c.currentKey)
	if err != nil {
		return nil, err
	}
	c.singleton.DeweyID = id
	c.singleton.DeweyIDBound = true
	return id, nil
}

// computeDeweyID walks the ancestor chain from key up to the document
// root, recording each ancestor's ordinal position among its siblings,
// then returns the path root-to-key encoded as concatenated varints. This
// uses a scratch guard/buffer independent of the cursor's own singleton so
// the cursor's current position is left untouched.
func (c *Cursor) computeDeweyID(key NodeKey) ([]byte, error) {
	var ordinals []int64
	cur := key
	scratch := &Node{}
	for cur != NullKey {
		pageKey, err := c.reader.PageKeyOf(cur)
		if err != nil {
			return nil, err
		}
		guard, err := c.reader.AcquirePage(pageKey)
		if err != nil {
			return nil, err
		}
		raw, ok, err := c.reader.ReadSlot(guard, cur)
		if err != nil {
			guard.Release()
			return nil, err
		}
		if !ok {
			guard.Release()
			return nil, WrapIllegalState("deweyid: node vanished mid-walk")
		}
		if err := decodeNode(raw, scratch); err != nil {
			guard.Release()
			return nil, err
		}
		ordinal, err := c.ordinalAmongSiblings(scratch, guard)
		guard.Release()
		if err != nil {
			return nil, err
		}
		ordinals = append(ordinals, ordinal)
		if cur == DocumentRootKey {
			break
		}
		cur = scratch.ParentKey
	}

	buf := make([]byte, 0, len(ordinals)*2)
	for i := len(ordinals) - 1; i >= 0; i-- {
		buf = appendVarint(buf, ordinals[i])
	}
	c.stats.Clones++
	return buf, nil
}

// ordinalAmongSiblings counts how many left siblings n has, giving its
// 1-based position among its parent's children.
func (c *Cursor) ordinalAmongSiblings(n *Node, guard *PageGuard) (int64, error) {
	ordinal := int64(1)
	left := n.LeftSiblingKey
	scratch := &Node{}
	for left != NullKey {
		pageKey, err := c.reader.PageKeyOf(left)
		if err != nil {
			return 0, err
		}
		g, err := c.reader.AcquirePage(pageKey)
		if err != nil {
			return 0, err
		}
		raw, ok, err := c.reader.ReadSlot(g, left)
		g.Release()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, WrapIllegalState("deweyid: sibling vanished mid-walk")
		}
		if err := decodeNode(raw, scratch); err != nil {
			return 0, err
		}
		ordinal++
		left = scratch.LeftSiblingKey
	}
	return ordinal, nil
}
