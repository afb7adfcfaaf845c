package nodetxn

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestEngine(t *testing.T) *LevelDBEngine {
	t.Helper()
	epoch := newEpochTracker()
	cache := newPageCache(64, epoch, zap.NewNop().Sugar())
	e, err := OpenLevelDBEngine(t.TempDir(), cache)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestLevelDBWriterCreateAndReadBack(t *testing.T) {
	e := openTestEngine(t)

	w := e.Writer(0)
	key, err := w.CreateRecord(&Node{Kind: KindStringValue, Value: []byte("hi")})
	require.NoError(t, err)
	_, rev, err := w.Commit("first", 1000)
	require.NoError(t, err)
	require.Equal(t, RevisionNumber(1), rev)

	r := e.ReaderAt(rev)
	pk, err := r.PageKeyOf(key)
	require.NoError(t, err)
	guard, err := r.AcquirePage(pk)
	require.NoError(t, err)
	defer guard.Release()

	raw, ok, err := r.ReadSlot(guard, key)
	require.NoError(t, err)
	require.True(t, ok)

	var n Node
	require.NoError(t, decodeNode(raw, &n))
	require.Equal(t, []byte("hi"), n.Value)
}

func TestLevelDBWriterPrepareRecordReturnsStagedUpdate(t *testing.T) {
	e := openTestEngine(t)
	w := e.Writer(0)
	key, err := w.CreateRecord(&Node{Kind: KindStringValue, Value: []byte("a")})
	require.NoError(t, err)

	n1, err := w.PrepareRecordForModification(key)
	require.NoError(t, err)
	n1.Value = []byte("b")
	require.NoError(t, w.UpdateRecordSlot(key, n1))

	n2, err := w.PrepareRecordForModification(key)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), n2.Value)
}

func TestAbortDiscardsStagedWrites(t *testing.T) {
	e := openTestEngine(t)
	w := e.Writer(0)
	_, err := w.CreateRecord(&Node{Kind: KindStringValue})
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	require.Equal(t, RevisionNumber(0), e.revision)
}

func TestKeysModifiedAfterAndTruncateAfter(t *testing.T) {
	e := openTestEngine(t)

	w1 := e.Writer(0)
	k1, err := w1.CreateRecord(&Node{Kind: KindStringValue, Value: []byte("v1")})
	require.NoError(t, err)
	_, rev1, err := w1.Commit("rev1", 1)
	require.NoError(t, err)

	w2 := e.Writer(rev1)
	_, err = w2.CreateRecord(&Node{Kind: KindStringValue, Value: []byte("v2")})
	require.NoError(t, err)
	require.NoError(t, w2.UpdateRecordSlot(k1, &Node{Kind: KindStringValue, Value: []byte("v1-updated"), Key: k1}))
	_, _, err = w2.Commit("rev2", 2)
	require.NoError(t, err)

	keys, err := e.keysModifiedAfter(rev1)
	require.NoError(t, err)
	require.Len(t, keys, 2) // the new record plus the updated k1

	require.NoError(t, e.truncateAfter(rev1))
	require.Equal(t, rev1, e.revision)

	keys, err = e.keysModifiedAfter(rev1)
	require.NoError(t, err)
	require.Empty(t, keys, "truncate must erase every slot version committed after rev1")
}

func TestPageCacheSweepRespectsEpochFloorAndGuards(t *testing.T) {
	epoch := newEpochTracker()
	cache := newPageCache(64, epoch, zap.NewNop().Sugar())

	epoch.register(5)
	guard, err := cache.acquire(PageKey(1), 0)
	require.NoError(t, err)

	require.Equal(t, 0, cache.sweep(), "a guarded page below the floor must not be evicted")
	guard.Release()
	require.Equal(t, 1, cache.sweep(), "an unguarded page below the floor must be evicted")
}

func TestPageCacheSweepNoopWithNoActiveRevisions(t *testing.T) {
	epoch := newEpochTracker()
	cache := newPageCache(64, epoch, zap.NewNop().Sugar())
	_, err := cache.acquire(PageKey(1), 0)
	require.NoError(t, err)
	require.Equal(t, 0, cache.sweep(), "sweep must be a no-op when no revision is pinned")
}
