package nodetxn

// NodeKey uniquely identifies a node within a resource's document-index
// key space. DocumentRootKey is the synthetic root; keys below NullKey (-1)
// address the in-transaction item list instead of storage (§4.2, §6 "Item list" in the
// glossary). NullKey is the sentinel used for an absent parent/sibling/child
// reference — kept distinct from the item-list range.
type NodeKey int64

const (
	// DocumentRootKey identifies the document root (invariant 1).
	DocumentRootKey NodeKey = 0

	// NullKey marks an absent parent/sibling/child reference.
	NullKey NodeKey = -1
)

// IsItemListKey reports whether key addresses a transient item-list entry
// rather than a stored node. Item list keys occupy the negative range below
// NullKey so they never collide with the null-reference sentinel.
func IsItemListKey(key NodeKey) bool {
	return key < NullKey
}

// RevisionNumber identifies a committed revision. Revisions are monotonic
// and, once committed, immutable (§3 Lifecycle).
type RevisionNumber uint64

// NodeKind tags the variant a Node instance represents (§3 Data model).
type NodeKind uint8

const (
	KindDocumentRoot NodeKind = iota
	KindObject
	KindArray
	KindObjectKey
	KindElement

	KindStringValue
	KindNumberValue
	KindBooleanValue
	KindNullValue
	KindText
	KindComment
	KindPI
	KindAttribute
	KindNamespace

	KindObjectStringValue
	KindObjectNumberValue
	KindObjectBooleanValue
	KindObjectNullValue

	// KindDelete is the tombstone kind: a slot whose kind byte reads as
	// DELETE is treated by the cursor as "not found" (§3 Lifecycle, §4.2).
	KindDelete
)

func (k NodeKind) String() string {
	switch k {
	case KindDocumentRoot:
		return "documentRoot"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindObjectKey:
		return "objectKey"
	case KindElement:
		return "element"
	case KindStringValue:
		return "stringValue"
	case KindNumberValue:
		return "numberValue"
	case KindBooleanValue:
		return "booleanValue"
	case KindNullValue:
		return "nullValue"
	case KindText:
		return "text"
	case KindComment:
		return "comment"
	case KindPI:
		return "processingInstruction"
	case KindAttribute:
		return "attribute"
	case KindNamespace:
		return "namespace"
	case KindObjectStringValue:
		return "objectStringValue"
	case KindObjectNumberValue:
		return "objectNumberValue"
	case KindObjectBooleanValue:
		return "objectBooleanValue"
	case KindObjectNullValue:
		return "objectNullValue"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// IsStructural reports whether kind carries first/last child keys, a child
// count, and a descendant count (§3: document root, object, array,
// object-key, element).
func (k NodeKind) IsStructural() bool {
	switch k {
	case KindDocumentRoot, KindObject, KindArray, KindObjectKey, KindElement:
		return true
	default:
		return false
	}
}

// HasSiblings reports whether kind carries left/right sibling keys. The
// document root never does (invariant 1); object-child value kinds never do
// (invariant 4); every other kind does.
func (k NodeKind) HasSiblings() bool {
	switch k {
	case KindDocumentRoot, KindDelete,
		KindObjectStringValue, KindObjectNumberValue, KindObjectBooleanValue, KindObjectNullValue:
		return false
	default:
		return true
	}
}

// IsObjectChildValue reports whether kind is a sole, sibling-less,
// child-less value that only ever appears as the unique child of an
// object-key (invariant 4).
func (k NodeKind) IsObjectChildValue() bool {
	switch k {
	case KindObjectStringValue, KindObjectNumberValue, KindObjectBooleanValue, KindObjectNullValue:
		return true
	default:
		return false
	}
}

// IsNameBearing reports whether kind carries a path-node key and name key(s).
func (k NodeKind) IsNameBearing() bool {
	switch k {
	case KindObjectKey, KindElement, KindAttribute, KindNamespace, KindPI:
		return true
	default:
		return false
	}
}

// IsValueBearing reports whether kind carries a payload.
func (k NodeKind) IsValueBearing() bool {
	switch k {
	case KindStringValue, KindNumberValue, KindBooleanValue, KindNullValue,
		KindObjectStringValue, KindObjectNumberValue, KindObjectBooleanValue, KindObjectNullValue,
		KindText, KindComment, KindPI, KindAttribute:
		return true
	default:
		return false
	}
}

// IsLeaf reports whether kind never has children (every non-structural kind).
func (k NodeKind) IsLeaf() bool {
	return !k.IsStructural()
}

// Node is the common header + kind-indexed field layout used for every node
// kind (§9 "replace the runtime class hierarchy ... with a common header
// struct + kind-indexed accessor tables"). Only the fields applicable to
// Kind are meaningful; others are left at their zero value. Node is the
// record a storage slot deserializes into; it has no identity of its own
// beyond Key — the same *Node value is reused across prepare/rebind calls
// by the write- and read-paths (§4.1 singleton aliasing discipline, §4.2
// singleton mode).
type Node struct {
	Key                  NodeKey
	Kind                 NodeKind
	ParentKey            NodeKey
	PreviousRevision     RevisionNumber
	LastModifiedRevision RevisionNumber
	Hash                 uint64
	DeweyID              []byte // nil until bound; see DeweyIDBound
	DeweyIDBound         bool

	// Structural kinds.
	FirstChildKey   NodeKey
	LastChildKey    NodeKey
	ChildCount      int64
	DescendantCount int64

	// Sibling-bearing kinds (structural + sibling-bearing value kinds).
	LeftSiblingKey  NodeKey
	RightSiblingKey NodeKey

	// Name-bearing kinds.
	PathNodeKey NodeKey
	URIKey      int64
	PrefixKey   int64
	LocalNameKey int64

	// Value-bearing kinds. Interpretation of Value depends on Kind (raw
	// string bytes, decimal text, "true"/"false", or empty for null).
	Value []byte
}

// Reset clears all fields of an aliased Node in place, used by the write
// path's staging area and the cursor's singleton buffer before a
// rebind (§4.1, §4.2, §9 "write-path singleton aliasing").
func (n *Node) Reset() {
	*n = Node{
		ParentKey:       NullKey,
		FirstChildKey:   NullKey,
		LastChildKey:    NullKey,
		LeftSiblingKey:  NullKey,
		RightSiblingKey: NullKey,
		PathNodeKey:     NullKey,
	}
}

// clone returns a deep-enough copy of n suitable for the cursor's escape
// hatch: a stable value that survives future rebinds of the source
// singleton (§4.2 "get_current_node").
func (n *Node) clone() *Node {
	c := *n
	if n.DeweyID != nil {
		c.DeweyID = append([]byte(nil), n.DeweyID...)
	}
	if n.Value != nil {
		c.Value = append([]byte(nil), n.Value...)
	}
	return &c
}
