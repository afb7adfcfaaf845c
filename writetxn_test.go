package nodetxn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertUpdateDeleteLifecycle(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)

	key, err := wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte("hello")})
	require.NoError(t, err)
	require.Equal(t, int64(1), wt.ModificationCount())

	err = wt.Update(key, func(n *Node) { n.Value = []byte("world") })
	require.NoError(t, err)
	require.Equal(t, int64(2), wt.ModificationCount())

	diffs := wt.Diffs()
	require.Len(t, diffs, 2)
	require.Equal(t, ChangeInsert, diffs[0].Kind)
	require.Equal(t, ChangeUpdate, diffs[1].Kind)
	require.Equal(t, []byte("world"), diffs[1].After.Value)

	err = wt.Delete(key)
	require.NoError(t, err)
	require.Equal(t, int64(3), wt.ModificationCount())

	_, err = wt.Commit("lifecycle")
	require.NoError(t, err)
}

func TestInsertIntoNonStructuralParentFails(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)

	leaf, err := wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte("leaf")})
	require.NoError(t, err)

	_, err = wt.Insert(leaf, &Node{Kind: KindStringValue, Value: []byte("child")})
	require.Error(t, err)
	// a failed mutation poisons the transaction (§4.5)
	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
	require.Error(t, err)
}

func TestMaxNodeCountBudgetEnforced(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(1, 0, AfterCommitKeepOpen)
	require.NoError(t, err)

	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
	require.NoError(t, err)

	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
	require.Error(t, err, "a second mutation must be rejected once max node count is reached")
}

func TestCommitKeepOpenReInstantiatesWriter(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)

	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
	require.NoError(t, err)
	rev1, err := wt.Commit("one")
	require.NoError(t, err)
	require.Equal(t, "running", wt.State())

	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
	require.NoError(t, err)
	rev2, err := wt.Commit("two")
	require.NoError(t, err)
	require.Equal(t, rev1+1, rev2)

	require.NoError(t, wt.Close())
}

func TestRollbackDiscardsMutationsAndReopensForReuse(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)

	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
	require.NoError(t, err)
	require.NoError(t, wt.Rollback())
	require.Equal(t, "running", wt.State())
	require.Equal(t, int64(0), wt.ModificationCount())
	require.Empty(t, wt.Diffs())

	require.NoError(t, wt.Close())
}

func TestBulkInsertionDefersHashAdaptation(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)
	wt.SetBulkInsertion(true)

	var keys []NodeKey
	for i := 0; i < 5; i++ {
		k, err := wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte{byte(i)}})
		require.NoError(t, err)
		keys = append(keys, k)
	}
	require.NoError(t, wt.AdaptHashesInPostorderTraversal())
	require.NoError(t, wt.Close())
}

func TestRevertToPublishesNonDestructiveRevision(t *testing.T) {
	s := openTestSession(t)

	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)
	key, err := wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte("v1")})
	require.NoError(t, err)
	rev1, err := wt.Commit("v1")
	require.NoError(t, err)

	err = wt.Update(key, func(n *Node) { n.Value = []byte("v2") })
	require.NoError(t, err)
	_, err = wt.Commit("v2")
	require.NoError(t, err)

	revertedRev, err := wt.RevertTo(rev1)
	require.NoError(t, err)
	require.Greater(t, revertedRev, rev1)
	require.NoError(t, wt.Close())

	hist := s.History()
	require.Len(t, hist, 4) // synthetic 0, v1, v2, revert
}

func TestTruncateToErasesLaterRevisions(t *testing.T) {
	s := openTestSession(t)

	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)
	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte("v1")})
	require.NoError(t, err)
	rev1, err := wt.Commit("v1")
	require.NoError(t, err)

	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte("v2")})
	require.NoError(t, err)
	_, err = wt.Commit("v2")
	require.NoError(t, err)

	require.NoError(t, wt.TruncateTo(rev1))
	require.Equal(t, rev1, s.GetMostRecentRevisionNumber())
	require.NoError(t, wt.Close())
}

// TestRollingHashInsertThenRemoveRestoresRootHash exercises spec boundary
// scenarios (b)/(c): inserting a child must change the root's rolling hash
// and descendant count, and removing that same child must restore both to
// their pre-insert values.
func TestRollingHashInsertThenRemoveRestoresRootHash(t *testing.T) {
	s := openTestSession(t) // HashRolling
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)

	require.NoError(t, wt.hash.AdaptHashesForUpdate(DocumentRootKey))
	rootBefore, err := wt.writer.PrepareRecordForModification(DocumentRootKey)
	require.NoError(t, err)
	h0 := rootBefore.Hash
	require.Equal(t, int64(0), rootBefore.DescendantCount)

	key, err := wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte("a")})
	require.NoError(t, err)

	rootAfterInsert, err := wt.writer.PrepareRecordForModification(DocumentRootKey)
	require.NoError(t, err)
	require.NotEqual(t, h0, rootAfterInsert.Hash, "inserting a child must change the root's rolling hash")
	require.Equal(t, int64(1), rootAfterInsert.DescendantCount)

	require.NoError(t, wt.Delete(key))
	rootAfterDelete, err := wt.writer.PrepareRecordForModification(DocumentRootKey)
	require.NoError(t, err)
	require.Equal(t, h0, rootAfterDelete.Hash, "removing the only child must restore the root's pre-insert hash")
	require.Equal(t, int64(0), rootAfterDelete.DescendantCount, "removing the only child must restore descendant_count to 0")

	require.NoError(t, wt.Close())
}

// TestDescendantCountPropagatesPastImmediateParent guards against only the
// immediate parent being updated: a grandchild insert/delete must be felt
// at the grandparent (and root) too, not just its direct parent.
func TestDescendantCountPropagatesPastImmediateParent(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)

	mid, err := wt.Insert(DocumentRootKey, &Node{Kind: KindObject})
	require.NoError(t, err)
	leaf, err := wt.Insert(mid, &Node{Kind: KindStringValue, Value: []byte("leaf")})
	require.NoError(t, err)

	root, err := wt.writer.PrepareRecordForModification(DocumentRootKey)
	require.NoError(t, err)
	require.Equal(t, int64(2), root.DescendantCount, "root must count both the intermediate node and its leaf")

	require.NoError(t, wt.Delete(leaf))
	root, err = wt.writer.PrepareRecordForModification(DocumentRootKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), root.DescendantCount, "removing the grandchild must decrement the root's count too, not just mid's")

	require.NoError(t, wt.Close())
}

func TestCommitAsyncDeliversExactlyOneResult(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitKeepOpen)
	require.NoError(t, err)
	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
	require.NoError(t, err)

	result := <-wt.CommitAsync("async commit")
	require.NoError(t, result.err)
	require.Equal(t, RevisionNumber(1), result.rev)
	require.NoError(t, wt.Close())
}
