package nodetxn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := OpenSession(t.TempDir(), SessionOptions{HashMode: HashRolling})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSessionStartsAtRevisionZero(t *testing.T) {
	s := openTestSession(t)
	require.Equal(t, RevisionNumber(0), s.GetMostRecentRevisionNumber())
}

func TestCommitAdvancesRevisionAndHistory(t *testing.T) {
	s := openTestSession(t)

	wt, err := s.BeginNodeTrx(0, 0, AfterCommitClose)
	require.NoError(t, err)
	_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue, Value: []byte("v")})
	require.NoError(t, err)
	rev, err := wt.Commit("first commit")
	require.NoError(t, err)
	require.Equal(t, RevisionNumber(1), rev)
	require.Equal(t, RevisionNumber(1), s.GetMostRecentRevisionNumber())

	hist := s.History()
	require.Len(t, hist, 2) // synthetic revision 0 + the commit above
	require.Equal(t, "first commit", hist[len(hist)-1].Message)
}

func TestHistoryNReturnsMostRecentOnly(t *testing.T) {
	s := openTestSession(t)
	for i := 0; i < 3; i++ {
		wt, err := s.BeginNodeTrx(0, 0, AfterCommitClose)
		require.NoError(t, err)
		_, err = wt.Insert(DocumentRootKey, &Node{Kind: KindStringValue})
		require.NoError(t, err)
		_, err = wt.Commit("commit")
		require.NoError(t, err)
	}
	recent := s.HistoryN(2)
	require.Len(t, recent, 2)
	require.Equal(t, RevisionNumber(3), recent[len(recent)-1].Revision)
}

func TestWriteLockIsReleasedAfterCommitClose(t *testing.T) {
	s := openTestSession(t)

	wt1, err := s.BeginNodeTrx(0, 0, AfterCommitClose)
	require.NoError(t, err)
	_, err = wt1.Commit("empty commit")
	require.NoError(t, err)

	// A second write transaction must be obtainable immediately once the
	// first has closed and released the write lock.
	done := make(chan error, 1)
	go func() {
		_, err := s.BeginNodeTrx(0, 0, AfterCommitClose)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second BeginNodeTrx blocked after the first writer released its lock")
	}
}

func TestFloorSearchLinearAndEytzingerAgree(t *testing.T) {
	recs := []revisionRecord{
		{Revision: 0, Timestamp: 0},
		{Revision: 1, Timestamp: 100},
		{Revision: 2, Timestamp: 200},
		{Revision: 3, Timestamp: 300},
	}
	cases := []int64{-5, 0, 50, 100, 150, 200, 250, 300, 999}
	for _, instant := range cases {
		require.Equal(t, floorSearchLinear(recs, instant), floorSearchEytzinger(recs, instant),
			"instant=%d", instant)
	}
}

func TestGetRevisionNumberAppliesFloorRule(t *testing.T) {
	s := openTestSession(t)
	wt, err := s.BeginNodeTrx(0, 0, AfterCommitClose)
	require.NoError(t, err)
	_, err = wt.Commit("r1")
	require.NoError(t, err)

	require.Equal(t, RevisionNumber(0), s.GetRevisionNumber(-1))
	require.Equal(t, RevisionNumber(1), s.GetRevisionNumber(time.Now().Add(time.Hour).UnixNano()))
}

func TestBeginNodeReadOnlyTrxReadsDocumentRoot(t *testing.T) {
	s := openTestSession(t)
	rt, err := s.BeginNodeReadOnlyTrx(s.GetMostRecentRevisionNumber())
	require.NoError(t, err)
	defer rt.Close()

	require.Equal(t, DocumentRootKey, rt.Cursor().Key())
	require.Equal(t, KindDocumentRoot, rt.Cursor().Kind())
}
