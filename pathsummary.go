package nodetxn

import (
	"strings"
	"sync"
)

// PathSummaryNode is one node of the path-summary tree: a deduplicated
// path from the document root, reference-counted by how many data nodes
// currently sit at that path (§6 "path_summary").
type PathSummaryNode struct {
	Key          NodeKey
	ParentKey    NodeKey
	LocalNameKey int64
	Level        int
	RefCount     int64
}

// PathSummary is a minimal reference path-summary index: a trie of
// (parent, localNameKey) -> path-node-key, letting a write transaction
// intern a node's path to a PathNodeKey and letting CAS/name filters
// resolve a parsed path expression back to the set of path-node-keys it
// names. Full path-summary maintenance (sibling path merging across
// resource forks, XML-specific QName handling) is out of scope; this is
// the minimal structure spec.md's `path_summary` accessor and the
// `PathParser` filter constructors need to have something concrete to
// operate on.
type PathSummary struct {
	mu       sync.RWMutex
	nodes    map[NodeKey]*PathSummaryNode
	children map[NodeKey]map[int64]NodeKey // parent path key -> localNameKey -> child path key
	names    map[string]int64              // interned name -> localNameKey, for the reference parser
	nextName int64
	nextKey  NodeKey
}

// NewPathSummary returns an empty path summary rooted at DocumentRootKey.
func NewPathSummary() *PathSummary {
	ps := &PathSummary{
		nodes:    make(map[NodeKey]*PathSummaryNode),
		children: make(map[NodeKey]map[int64]NodeKey),
		names:    make(map[string]int64),
		nextKey:  1,
	}
	ps.nodes[DocumentRootKey] = &PathSummaryNode{Key: DocumentRootKey, ParentKey: NullKey, Level: 0}
	return ps
}

// InternName resolves name to a stable localNameKey, minting one on first
// use.
func (ps *PathSummary) InternName(name string) int64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if key, ok := ps.names[name]; ok {
		return key
	}
	ps.nextName++
	ps.names[name] = ps.nextName
	return ps.nextName
}

// InternPath finds or creates the path-summary child of parentPathKey
// named by localNameKey, incrementing its reference count, and returns
// its path-node-key.
func (ps *PathSummary) InternPath(parentPathKey NodeKey, localNameKey int64) NodeKey {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	kids, ok := ps.children[parentPathKey]
	if !ok {
		kids = make(map[int64]NodeKey)
		ps.children[parentPathKey] = kids
	}
	if key, ok := kids[localNameKey]; ok {
		ps.nodes[key].RefCount++
		return key
	}

	parent := ps.nodes[parentPathKey]
	level := 0
	if parent != nil {
		level = parent.Level + 1
	}
	key := ps.nextKey
	ps.nextKey++
	ps.nodes[key] = &PathSummaryNode{Key: key, ParentKey: parentPathKey, LocalNameKey: localNameKey, Level: level, RefCount: 1}
	kids[localNameKey] = key
	return key
}

// Release decrements pathKey's reference count, for use when a node at
// that path is deleted. Does not prune zero-refcount path nodes; a
// zero-refcount path node is an unoccupied-but-known path, not an error.
func (ps *PathSummary) Release(pathKey NodeKey) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if n, ok := ps.nodes[pathKey]; ok && n.RefCount > 0 {
		n.RefCount--
	}
}

// Node returns the path-summary node at key, if any.
func (ps *PathSummary) Node(key NodeKey) (PathSummaryNode, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	n, ok := ps.nodes[key]
	if !ok {
		return PathSummaryNode{}, false
	}
	return *n, true
}

// Parse implements PathParser against this path summary, supporting the
// reference grammar "/a/b/c": each segment's name is looked up among the
// already interned names without minting a new one (so an unseen name
// yields no matches, not an error) and walked from the
// root, returning every path-node-key reachable by that exact sequence of
// child steps. This is a minimal stand-in for the language-specific JSON/
// XML path grammars spec.md defers to; it is not a general path-expression
// evaluator (no wildcards, predicates, or axes).
func (ps *PathSummary) Parse(expr string) ([]NodeKey, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "/" {
		return []NodeKey{DocumentRootKey}, nil
	}
	if !strings.HasPrefix(expr, "/") {
		return nil, WrapUsagef("path expression must be absolute: %q", expr)
	}
	segments := strings.Split(strings.TrimPrefix(expr, "/"), "/")

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	frontier := []NodeKey{DocumentRootKey}
	for _, seg := range segments {
		nameKey, known := ps.names[seg]
		if !known {
			return nil, nil
		}
		var next []NodeKey
		for _, parent := range frontier {
			if kids, ok := ps.children[parent]; ok {
				if child, ok := kids[nameKey]; ok {
					next = append(next, child)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			return nil, nil
		}
	}
	return frontier, nil
}
