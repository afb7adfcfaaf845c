package nodetxn

import (
	"crypto/sha256"
	"encoding/binary"
)

// hashPrime is the multiplier of the rolling polynomial hash combining a
// node's own content hash with its children's hashes into a subtree hash
// (§4.1). No ecosystem library expresses this specific recurrence, so the
// polynomial arithmetic is hand-rolled here; crypto/sha256 is kept from the
// standard library as the H_self primitive underneath it (SPEC_FULL.md §3:
// no third-party hash package offers a meaningful advantage over the
// standard library's well-audited, allocation-free sha256 implementation
// for a fixed-size digest that is immediately folded into a uint64).
const hashPrime uint64 = 77081

// computeSelfHash returns H_self(node): the content hash of a single node's
// encoded bytes, independent of its children (§4.1).
func computeSelfHash(n *Node) uint64 {
	sum := sha256.Sum256(encodeNode(n))
	return binary.BigEndian.Uint64(sum[:8])
}

// combineHash folds a child's subtree hash into an accumulator using the
// rolling polynomial recurrence acc' = acc*P + childHash (§4.1 "rolling
// hash"). Order-sensitive: children must be folded in document order for
// the result to be reproducible from a full recomputation.
func combineHash(acc, childHash uint64) uint64 {
	return acc*hashPrime + childHash
}

// subtreeHash computes a node's full subtree hash given its own self hash
// and the subtree hashes of its children in document order (§4.1 "postorder
// hash"): H(node) = H_self(node) combined with each H(child), in order.
func subtreeHash(selfHash uint64, childHashes []uint64) uint64 {
	h := selfHash
	for _, c := range childHashes {
		h = combineHash(h, c)
	}
	return h
}

// HashWriter is implemented by the write-path component that recomputes
// and persists structural hashes as a transaction mutates the tree (§4.1,
// §4.3 "adapt_hashes_with_add/update/remove"). hashAdapter below is the
// default implementation, driven through a StorageEngineWriter.
type HashWriter interface {
	// AdaptHashesForInsert recomputes and persists the hash of key and every
	// ancestor up to the document root after key was newly inserted.
	AdaptHashesForInsert(key NodeKey) error

	// AdaptHashesForUpdate recomputes and persists the hash of key and every
	// ancestor after key's own content (not its children) changed.
	AdaptHashesForUpdate(key NodeKey) error

	// AdaptHashesForRemove recomputes and persists the hash of every
	// ancestor of the now-removed key (key itself no longer exists).
	AdaptHashesForRemove(parentKey NodeKey) error
}

// hashAdapter implements HashWriter against a StorageEngineWriter + reader,
// walking the ancestor chain and recombining each ancestor's children in
// document order (§4.3). Grounded in the teacher's TransactionState mutation
// bookkeeping pattern, generalized from "mark the rope segment dirty" to
// "recompute this node's structural hash".
type hashAdapter struct {
	mode   HashMode
	writer StorageEngineWriter
	reader StorageEngineReader
}

func newHashAdapter(mode HashMode, writer StorageEngineWriter, reader StorageEngineReader) *hashAdapter {
	return &hashAdapter{mode: mode, writer: writer, reader: reader}
}

func (h *hashAdapter) enabled() bool { return h.mode != HashNone }

// recomputeNode recomputes key's own hash by folding its current children's
// stored hashes, in document order, into H_self with combineHash
// (acc' = acc*P + childHash), then persists it and returns the value
// ancestors above key should fold in. Rolling and Postorder modes use this
// same fold; the additive form H_self + Σ hash(cᵢ)·P is not used in either
// mode. Both modes also recompute along the ancestor chain after every
// mutation (walkAncestors); the whole-tree bottom-up pass in
// postorderRecompute runs only for bulk insertion and RevertTo.
func (h *hashAdapter) recomputeNode(key NodeKey) (uint64, error) {
	node, err := h.writer.PrepareRecordForModification(key)
	if err != nil {
		return 0, err
	}
	self := computeSelfHash(node)

	if node.Kind.IsStructural() {
		var childHashes []uint64
		child := node.FirstChildKey
		for child != NullKey {
			childNode, err := h.writer.PrepareRecordForModification(child)
			if err != nil {
				return 0, err
			}
			childHashes = append(childHashes, childNode.Hash)
			child = childNode.RightSiblingKey
		}
		self = subtreeHash(self, childHashes)
	}

	node, err = h.writer.PrepareRecordForModification(key)
	if err != nil {
		return 0, err
	}
	node.Hash = self
	if err := h.writer.UpdateRecordSlot(key, node); err != nil {
		return 0, err
	}
	return self, nil
}

// walkAncestors recomputes key's hash and then every ancestor's
// hash up to and including the document root, propagating each child's new
// hash into its parent (§4.1 "ancestor-chain propagation").
func (h *hashAdapter) walkAncestors(key NodeKey) error {
	if !h.enabled() {
		return nil
	}
	current := key
	for current != NullKey {
		node, err := h.writer.PrepareRecordForModification(current)
		if err != nil {
			return err
		}
		parent := node.ParentKey
		if _, err := h.recomputeNode(current); err != nil {
			return err
		}
		if current == DocumentRootKey {
			break
		}
		current = parent
	}
	return nil
}

func (h *hashAdapter) AdaptHashesForInsert(key NodeKey) error {
	return h.walkAncestors(key)
}

func (h *hashAdapter) AdaptHashesForUpdate(key NodeKey) error {
	return h.walkAncestors(key)
}

func (h *hashAdapter) AdaptHashesForRemove(parentKey NodeKey) error {
	if !h.enabled() {
		return nil
	}
	return h.walkAncestors(parentKey)
}
