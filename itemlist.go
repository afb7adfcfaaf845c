package nodetxn

// ItemList holds transient, in-transaction values produced by query
// evaluation (§4.2 "item list"): entries addressed by negative keys that
// never touch storage or acquire a page guard. A cursor positioned on an
// item-list entry is always in object mode (§4.2 position state).
type ItemList struct {
	items []*Node
}

// NewItemList returns an empty item list.
func NewItemList() *ItemList {
	return &ItemList{}
}

// Add appends value and returns the negative key addressing it.
// IsItemListKey(key) holds for every key Add returns.
func (l *ItemList) Add(value *Node) NodeKey {
	l.items = append(l.items, value)
	return NullKey - 1 - NodeKey(len(l.items)-1)
}

// Get resolves key to its item-list entry. ok is false if key is not an
// item-list key, or indexes past the end of the list.
func (l *ItemList) Get(key NodeKey) (*Node, bool) {
	if !IsItemListKey(key) {
		return nil, false
	}
	idx := int(NullKey - 1 - key)
	if idx < 0 || idx >= len(l.items) {
		return nil, false
	}
	return l.items[idx], true
}

// Len reports how many entries are currently in the list.
func (l *ItemList) Len() int { return len(l.items) }

// Reset discards every entry, for reuse across transactions.
func (l *ItemList) Reset() {
	l.items = l.items[:0]
}
