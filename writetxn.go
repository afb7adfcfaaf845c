package nodetxn

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// txnState is the write-transaction state machine (§4.5): Running is the
// only state in which mutations are accepted; Committing is entered for
// the duration of the (possibly async) commit protocol; Committed and
// Closed are terminal.
type txnState int32

const (
	txnRunning txnState = iota
	txnCommitting
	txnCommitted
	txnClosed
)

func (s txnState) String() string {
	switch s {
	case txnRunning:
		return "running"
	case txnCommitting:
		return "committing"
	case txnCommitted:
		return "committed"
	case txnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AfterCommitState selects what BeginNodeTrx should do with the write
// lock once a commit finishes (§4.5, §6 "after_commit_delete_or_keep").
type AfterCommitState int

const (
	// AfterCommitKeepOpen leaves the transaction open (and the write lock
	// held) so the caller can start accumulating the next revision.
	AfterCommitKeepOpen AfterCommitState = iota

	// AfterCommitClose closes the transaction and releases the write lock
	// once the commit completes.
	AfterCommitClose
)

// diffTuple records one committed mutation for the post-commit diff
// report (§4.5 "diff tuples"). Before is nil for an insert; After is nil
// for a delete.
type diffTuple struct {
	Kind   ChangeKind
	Key    NodeKey
	Before *Node
	After  *Node
}

// WriteTxn is the single read-write transaction a session permits at a
// time (§4.5 "C5"). Grounded in the teacher's TransactionState (nesting
// depth + poisoned flag, garland.go TransactionStart/Commit/Rollback),
// generalized from buffered rope edits to a generic node mutation log
// with hash maintenance and index notification wired into every mutating
// call instead of applied in one pass at save time.
type WriteTxn struct {
	id      uint64
	session *Session
	reader  StorageEngineReader
	writer  StorageEngineWriter

	baseRevision RevisionNumber
	after        AfterCommitState

	maxNodeCount int64
	maxTime      time.Duration
	startedAt    time.Time

	hash    *hashAdapter
	indexes *Indexes

	mu          sync.Mutex
	state       txnState
	modCount    int64
	poisoned    bool
	bulkInsert  bool
	diffs       []diffTuple
	preHooks    []func(*WriteTxn) error
	postHooks   []func(*WriteTxn, RevisionNumber)

	asyncStart sync.Once
	asyncJobs  chan asyncCommitJob
	asyncDone  chan struct{}
}

type asyncCommitJob struct {
	message   string
	timestamp int64
	result    chan asyncCommitResult
}

type asyncCommitResult struct {
	rev RevisionNumber
	err error
}

func newWriteTxn(id uint64, session *Session, reader StorageEngineReader, writer StorageEngineWriter, base RevisionNumber, maxNodeCount int64, maxTime time.Duration, after AfterCommitState) *WriteTxn {
	return &WriteTxn{
		id:           id,
		session:      session,
		reader:       reader,
		writer:       writer,
		baseRevision: base,
		after:        after,
		maxNodeCount: maxNodeCount,
		maxTime:      maxTime,
		startedAt:    time.Now(),
		hash:         newHashAdapter(session.hashMode, writer, reader),
		indexes:      session.indexesFor(base),
		state:        txnRunning,
	}
}

// indexesFor returns (creating if absent) the notification registry
// attached to rev. Listeners registered against a base revision observe
// every transaction built on top of it, matching the teacher's pattern of
// one decoration cache per Garland rather than per edit.
func (s *Session) indexesFor(rev RevisionNumber) *Indexes {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix, ok := s.indexesByRev[rev]
	if !ok {
		ix = NewIndexes()
		s.indexesByRev[rev] = ix
	}
	return ix
}

// State reports the transaction's current lifecycle state.
func (wt *WriteTxn) State() string {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return wt.state.String()
}

// checkAccess enforces the modification-accounting preconditions (§4.5
// "check_access_and_commit"): the transaction must be Running and not
// poisoned, and a configured max-node-count or max-time budget, if set,
// must not already be exceeded.
func (wt *WriteTxn) checkAccess() error {
	if wt.state != txnRunning {
		return WrapUsagef("write transaction is %s, not running", wt.state)
	}
	if wt.poisoned {
		return WrapIllegalState("write transaction poisoned by a prior failed mutation")
	}
	if wt.maxNodeCount > 0 && wt.modCount >= wt.maxNodeCount {
		return WrapUsage("write transaction exceeded its configured max node count")
	}
	if wt.maxTime > 0 && time.Since(wt.startedAt) > wt.maxTime {
		return WrapUsage("write transaction exceeded its configured max time budget")
	}
	return nil
}

// Cursor returns a read-only cursor bound to this transaction's in-progress
// state, reading through the same reader the writer builds on top of.
func (wt *WriteTxn) Cursor() *Cursor {
	return newCursor(wt.reader)
}

// Insert creates a new node as a child of parentKey using the caller-
// supplied template (Key is ignored and overwritten), wiring the new key
// into the parent's child list, maintaining structural hashes, and
// notifying index listeners (§4.3, §4.4, §4.5).
func (wt *WriteTxn) Insert(parentKey NodeKey, template *Node) (NodeKey, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if err := wt.checkAccess(); err != nil {
		return 0, err
	}

	key, err := wt.mutateInsert(parentKey, template)
	if err != nil {
		wt.poisoned = true
		return 0, err
	}
	wt.modCount++
	return key, nil
}

func (wt *WriteTxn) mutateInsert(parentKey NodeKey, template *Node) (NodeKey, error) {
	parent, err := wt.writer.PrepareRecordForModification(parentKey)
	if err != nil {
		return 0, err
	}
	if !parent.Kind.IsStructural() {
		return 0, WrapUsage("insert: parent is not a structural node")
	}
	prevLast := parent.LastChildKey

	n := template.clone()
	n.ParentKey = parentKey
	n.LeftSiblingKey = NullKey
	n.RightSiblingKey = NullKey
	if n.Kind.IsStructural() {
		n.FirstChildKey = NullKey
		n.LastChildKey = NullKey
		n.ChildCount = 0
		n.DescendantCount = 0
	}

	key, err := wt.writer.CreateRecord(n)
	if err != nil {
		return 0, err
	}

	if n.Kind.HasSiblings() && prevLast != NullKey {
		sibling, err := wt.writer.PrepareRecordForModification(prevLast)
		if err != nil {
			return 0, err
		}
		sibling.RightSiblingKey = key
		if err := wt.writer.UpdateRecordSlot(prevLast, sibling); err != nil {
			return 0, err
		}
		n, err = wt.writer.PrepareRecordForModification(key)
		if err != nil {
			return 0, err
		}
		n.LeftSiblingKey = prevLast
		if err := wt.writer.UpdateRecordSlot(key, n); err != nil {
			return 0, err
		}
	}

	parent, err = wt.writer.PrepareRecordForModification(parentKey)
	if err != nil {
		return 0, err
	}
	if parent.FirstChildKey == NullKey {
		parent.FirstChildKey = key
	}
	parent.LastChildKey = key
	parent.ChildCount++
	if err := wt.writer.UpdateRecordSlot(parentKey, parent); err != nil {
		return 0, err
	}

	if err := wt.propagateDescendantCount(parentKey, 1); err != nil {
		return 0, err
	}

	if !wt.bulkInsert {
		if err := wt.hash.AdaptHashesForInsert(key); err != nil {
			return 0, err
		}
	}

	inserted, err := wt.writer.PrepareRecordForModification(key)
	if err != nil {
		return 0, err
	}
	snapshot := inserted.clone()
	wt.diffs = append(wt.diffs, diffTuple{Kind: ChangeInsert, Key: key, After: snapshot})
	wt.indexes.NotifyInsert(key, snapshot)
	wt.indexes.NotifyChangePrimitive(primitiveEventFor(ChangeInsert, key, snapshot))
	return key, nil
}

// Update applies mutate to key's current field values and persists the
// result, maintaining structural hashes and notifying listeners.
func (wt *WriteTxn) Update(key NodeKey, mutate func(*Node)) error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if err := wt.checkAccess(); err != nil {
		return err
	}
	if err := wt.mutateUpdate(key, mutate); err != nil {
		wt.poisoned = true
		return err
	}
	wt.modCount++
	return nil
}

func (wt *WriteTxn) mutateUpdate(key NodeKey, mutate func(*Node)) error {
	n, err := wt.writer.PrepareRecordForModification(key)
	if err != nil {
		return err
	}
	before := n.clone()
	mutate(n)
	n.Key = key
	if err := wt.writer.UpdateRecordSlot(key, n); err != nil {
		return err
	}
	if err := wt.hash.AdaptHashesForUpdate(key); err != nil {
		return err
	}
	after := n.clone()
	wt.diffs = append(wt.diffs, diffTuple{Kind: ChangeUpdate, Key: key, Before: before, After: after})
	wt.indexes.NotifyUpdate(key, after)
	wt.indexes.NotifyChangePrimitive(primitiveEventFor(ChangeUpdate, key, after))
	return nil
}

// Delete marks key's slot as a tombstone, unlinks it from its parent and
// siblings, and adjusts ancestor descendant counts and hashes. Invariant 4
// object-child values are deleted along with their owning object-key.
func (wt *WriteTxn) Delete(key NodeKey) error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if err := wt.checkAccess(); err != nil {
		return err
	}
	if err := wt.mutateDelete(key); err != nil {
		wt.poisoned = true
		return err
	}
	wt.modCount++
	return nil
}

func (wt *WriteTxn) mutateDelete(key NodeKey) error {
	n, err := wt.writer.PrepareRecordForModification(key)
	if err != nil {
		return err
	}
	before := n.clone()
	parentKey := n.ParentKey
	left := n.LeftSiblingKey
	right := n.RightSiblingKey

	if left != NullKey {
		l, err := wt.writer.PrepareRecordForModification(left)
		if err != nil {
			return err
		}
		l.RightSiblingKey = right
		if err := wt.writer.UpdateRecordSlot(left, l); err != nil {
			return err
		}
	}
	if right != NullKey {
		r, err := wt.writer.PrepareRecordForModification(right)
		if err != nil {
			return err
		}
		r.LeftSiblingKey = left
		if err := wt.writer.UpdateRecordSlot(right, r); err != nil {
			return err
		}
	}

	if parentKey != NullKey {
		p, err := wt.writer.PrepareRecordForModification(parentKey)
		if err != nil {
			return err
		}
		if p.FirstChildKey == key {
			p.FirstChildKey = right
		}
		if p.LastChildKey == key {
			p.LastChildKey = left
		}
		if p.ChildCount > 0 {
			p.ChildCount--
		}
		if err := wt.writer.UpdateRecordSlot(parentKey, p); err != nil {
			return err
		}
	}

	tomb := &Node{Key: key, Kind: KindDelete, ParentKey: NullKey, FirstChildKey: NullKey, LastChildKey: NullKey, LeftSiblingKey: NullKey, RightSiblingKey: NullKey, PathNodeKey: NullKey}
	if err := wt.writer.UpdateRecordSlot(key, tomb); err != nil {
		return err
	}
	if before.Kind == KindObjectKey && before.FirstChildKey != NullKey {
		if err := wt.writer.UpdateRecordSlot(before.FirstChildKey, tomb); err != nil {
			return err
		}
	}

	if parentKey != NullKey {
		if err := wt.propagateDescendantCount(parentKey, -(before.DescendantCount + 1)); err != nil {
			return err
		}
		if err := wt.hash.AdaptHashesForRemove(parentKey); err != nil {
			return err
		}
	}

	wt.diffs = append(wt.diffs, diffTuple{Kind: ChangeDelete, Key: key, Before: before})
	wt.indexes.NotifyDelete(key, before)
	wt.indexes.NotifyChangePrimitive(primitiveEventFor(ChangeDelete, key, before))
	return nil
}

// primitiveEventFor builds the primitive hot-path notification payload from
// an already-materialized snapshot (every call site here clones one anyway
// for the diff log), so this never adds a second allocation on the mutating
// path — it only lets listeners that don't need a full Node opt into the
// lighter PrimitiveListener interface (§4.3).
func primitiveEventFor(kind ChangeKind, key NodeKey, n *Node) PrimitiveChangeEvent {
	ev := PrimitiveChangeEvent{Kind: kind, NodeKey: key, NodeKind: n.Kind, PathNodeKey: n.PathNodeKey, Value: n.Value}
	if n.Kind.IsNameBearing() {
		ev.Name = &n.LocalNameKey
	}
	return ev
}

// propagateDescendantCount walks from key to the document root via
// parent_key, adjusting descendant_count by delta at every node on the
// path (invariant 2: a structural node's descendant_count must reflect
// its whole subtree, not just its direct children, so one inserted or
// removed node must be felt all the way up, not only at the immediate
// parent). Runs independently of hash mode or bulk-insert deferral,
// since descendant accounting is not a hashing concern.
func (wt *WriteTxn) propagateDescendantCount(key NodeKey, delta int64) error {
	current := key
	for current != NullKey {
		node, err := wt.writer.PrepareRecordForModification(current)
		if err != nil {
			return err
		}
		parent := node.ParentKey
		node.DescendantCount += delta
		if node.DescendantCount < 0 {
			node.DescendantCount = 0
		}
		if err := wt.writer.UpdateRecordSlot(current, node); err != nil {
			return err
		}
		if current == DocumentRootKey {
			break
		}
		current = parent
	}
	return nil
}

// Diffs returns the mutation log accumulated so far this transaction.
func (wt *WriteTxn) Diffs() []diffTuple {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	out := make([]diffTuple, len(wt.diffs))
	copy(out, wt.diffs)
	return out
}

// SetBulkInsertion toggles bulk-insert mode: while enabled, Insert skips
// per-call hash adaptation, deferring it to a single postorder pass at
// commit via AdaptHashesInPostorderTraversal (§4.1 "Bulk-insert mode").
func (wt *WriteTxn) SetBulkInsertion(enabled bool) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.bulkInsert = enabled
}

// AdaptHashesInPostorderTraversal recomputes hashes for the whole tree
// rooted at DocumentRootKey in a single bottom-up pass, the deferred
// counterpart to per-mutation hash adaptation used after a bulk insert.
func (wt *WriteTxn) AdaptHashesInPostorderTraversal() error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if !wt.hash.enabled() {
		return nil
	}
	_, err := wt.postorderRecompute(DocumentRootKey)
	return err
}

// postorderRecompute recomputes key's hash from its children (recursively
// recomputed first), returning the value for the caller to fold in.
func (wt *WriteTxn) postorderRecompute(key NodeKey) (uint64, error) {
	node, err := wt.writer.PrepareRecordForModification(key)
	if err != nil {
		return 0, err
	}
	if node.Kind.IsStructural() {
		child := node.FirstChildKey
		for child != NullKey {
			if _, err := wt.postorderRecompute(child); err != nil {
				return 0, err
			}
			node, err = wt.writer.PrepareRecordForModification(key)
			if err != nil {
				return 0, err
			}
			c, err := wt.writer.PrepareRecordForModification(child)
			if err != nil {
				return 0, err
			}
			child = c.RightSiblingKey
		}
	}
	return wt.hash.recomputeNode(key)
}

// AddPreCommitHook registers a hook run, in registration order, after the
// commit semaphore is acquired but before the page writer commits. A hook
// error aborts the commit.
func (wt *WriteTxn) AddPreCommitHook(hook func(*WriteTxn) error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.preHooks = append(wt.preHooks, hook)
}

// AddPostCommitHook registers a hook run, in registration order, after the
// new revision has been published to the session.
func (wt *WriteTxn) AddPostCommitHook(hook func(*WriteTxn, RevisionNumber)) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.postHooks = append(wt.postHooks, hook)
}

// PathSummary returns the resource-wide path-summary index this
// transaction's session maintains (§6 "path_summary").
func (wt *WriteTxn) PathSummary() *PathSummary {
	return wt.session.pathSummary
}

// RevertTo rewrites every key modified since revision r back to its
// r-state and commits the result as a new revision, leaving history
// intact (§4.4 "revert_to(r): closes the current writer; opens a new
// writer representing revision r with stored revision current").
func (wt *WriteTxn) RevertTo(r RevisionNumber) (RevisionNumber, error) {
	wt.mu.Lock()
	if wt.state != txnRunning {
		wt.mu.Unlock()
		return 0, WrapUsagef("cannot revert: write transaction is %s", wt.state)
	}
	keys, err := wt.session.engine.keysModifiedAfter(r)
	if err != nil {
		wt.mu.Unlock()
		return 0, err
	}
	baseReader := &levelDBReader{engine: wt.session.engine, revision: r}
	for _, key := range keys {
		raw, ok, err := baseReader.findRaw(key)
		if err != nil {
			wt.mu.Unlock()
			return 0, err
		}
		if ok {
			var n Node
			if err := decodeNode(raw, &n); err != nil {
				wt.mu.Unlock()
				return 0, err
			}
			if err := wt.writer.UpdateRecordSlot(key, &n); err != nil {
				wt.mu.Unlock()
				return 0, err
			}
			continue
		}
		tomb := &Node{Key: key, Kind: KindDelete, ParentKey: NullKey, FirstChildKey: NullKey, LastChildKey: NullKey, LeftSiblingKey: NullKey, RightSiblingKey: NullKey, PathNodeKey: NullKey}
		if err := wt.writer.UpdateRecordSlot(key, tomb); err != nil {
			wt.mu.Unlock()
			return 0, err
		}
	}
	if err := wt.adaptHashesLocked(); err != nil {
		wt.mu.Unlock()
		return 0, err
	}
	wt.mu.Unlock()

	return wt.Commit("revert to revision " + formatRevision(r))
}

// TruncateTo permanently erases every revision after r (destructive; does
// not publish a new revision) and re-roots this transaction at r
// (§4.4, §6 "truncate_to(r)").
func (wt *WriteTxn) TruncateTo(r RevisionNumber) error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.state != txnRunning {
		return WrapUsagef("cannot truncate: write transaction is %s", wt.state)
	}
	if err := wt.session.engine.truncateAfter(r); err != nil {
		return err
	}
	wt.session.mu.Lock()
	kept := wt.session.revisions[:0:0]
	for _, rec := range wt.session.revisions {
		if rec.Revision <= r {
			kept = append(kept, rec)
		}
	}
	wt.session.revisions = kept
	wt.session.lastCommittedRev = r
	wt.session.mu.Unlock()

	wt.session.epoch.deregister(wt.baseRevision)
	wt.session.epoch.register(r)
	wt.baseRevision = r
	wt.reader = wt.session.engine.ReaderAt(r)
	wt.writer = wt.session.engine.Writer(r)
	wt.hash = newHashAdapter(wt.session.hashMode, wt.writer, wt.reader)
	wt.indexes = wt.session.indexesFor(r)
	wt.diffs = nil
	wt.modCount = 0
	return nil
}

func formatRevision(r RevisionNumber) string {
	return strconv.FormatUint(uint64(r), 10)
}

// ---- commit / rollback / close (§4.5) ----

// Commit runs the synchronous 8-step commit protocol: validate state,
// check poisoning, flush the staged writer, persist the revision,
// register its timestamp in session history, reset transaction-local
// state for reuse or close it per AfterCommitState, release the write
// lock if closing, and return the new revision number.
func (wt *WriteTxn) Commit(message string) (RevisionNumber, error) {
	return wt.commitAt(message, time.Now().UnixNano())
}

func (wt *WriteTxn) commitAt(message string, timestampUnixNano int64) (RevisionNumber, error) {
	wt.mu.Lock()
	if wt.state != txnRunning {
		wt.mu.Unlock()
		return 0, WrapUsagef("cannot commit: write transaction is %s", wt.state)
	}
	if wt.poisoned {
		wt.mu.Unlock()
		return 0, WrapIllegalState("cannot commit a poisoned write transaction")
	}
	if wt.bulkInsert {
		if err := wt.adaptHashesLocked(); err != nil {
			wt.mu.Unlock()
			return 0, err
		}
	}
	preHooks := append([]func(*WriteTxn) error(nil), wt.preHooks...)
	wt.state = txnCommitting
	wt.mu.Unlock()

	for _, hook := range preHooks {
		if err := hook(wt); err != nil {
			wt.mu.Lock()
			wt.state = txnRunning
			wt.mu.Unlock()
			return 0, WrapUsagef("pre-commit hook failed: %v", err)
		}
	}

	_, rev, err := wt.writer.Commit(message, timestampUnixNano)

	wt.mu.Lock()
	if err != nil {
		wt.state = txnRunning
		wt.mu.Unlock()
		return 0, err
	}
	wt.state = txnCommitted
	wt.modCount = 0
	wt.diffs = nil
	wt.session.recordCommit(revisionRecord{Revision: rev, Timestamp: timestampUnixNano, Message: message})

	if wt.after == AfterCommitClose {
		wt.state = txnClosed
		wt.session.epoch.deregister(wt.baseRevision)
		wt.session.releaseWriter()
	} else {
		// Re-instantiate the txn rooted at the new revision (§4.4 commit
		// protocol step 7): fresh reader/writer/hash adapter/indexes so
		// further mutations build the next revision, not a second copy of
		// the one just published.
		wt.session.epoch.deregister(wt.baseRevision)
		wt.session.epoch.register(rev)
		wt.baseRevision = rev
		wt.reader = wt.session.engine.ReaderAt(rev)
		wt.writer = wt.session.engine.Writer(rev)
		wt.hash = newHashAdapter(wt.session.hashMode, wt.writer, wt.reader)
		wt.indexes = wt.session.indexesFor(rev)
		wt.state = txnRunning
	}
	postHooks := append([]func(*WriteTxn, RevisionNumber)(nil), wt.postHooks...)
	wt.mu.Unlock()

	for _, hook := range postHooks {
		hook(wt, rev)
	}
	return rev, nil
}

// adaptHashesLocked runs the deferred postorder hash pass for bulk-insert
// mode; callers must already hold wt.mu.
func (wt *WriteTxn) adaptHashesLocked() error {
	if !wt.hash.enabled() {
		return nil
	}
	_, err := wt.postorderRecompute(DocumentRootKey)
	return err
}

// startAsyncCommitter lazily starts the single-goroutine FIFO executor
// backing CommitAsync (§4.5 "async commit protocol"), using
// golang.org/x/sync/semaphore as a binary gate so at most one commit runs
// at a time even if CommitAsync is called concurrently — grounded in the
// teacher's single background maintenance worker in maintenance.go.
func (wt *WriteTxn) startAsyncCommitter() {
	wt.asyncStart.Do(func() {
		wt.asyncJobs = make(chan asyncCommitJob, 16)
		wt.asyncDone = make(chan struct{})
		gate := semaphore.NewWeighted(1)
		go func() {
			defer close(wt.asyncDone)
			for job := range wt.asyncJobs {
				_ = gate.Acquire(context.Background(), 1)
				rev, err := wt.commitAt(job.message, job.timestamp)
				gate.Release(1)
				job.result <- asyncCommitResult{rev: rev, err: err}
			}
		}()
	})
}

// CommitAsync enqueues a commit on the FIFO single-goroutine executor and
// returns a channel that receives exactly one result once it runs.
func (wt *WriteTxn) CommitAsync(message string) <-chan asyncCommitResult {
	wt.startAsyncCommitter()
	job := asyncCommitJob{message: message, timestamp: time.Now().UnixNano(), result: make(chan asyncCommitResult, 1)}
	wt.asyncJobs <- job
	return job.result
}

// Rollback discards every staged mutation without publishing a revision
// and returns the transaction to Running so the caller may retry, unless
// the transaction is poisoned, in which case it is closed instead (§4.5,
// §7: a poisoned transaction cannot be salvaged).
func (wt *WriteTxn) Rollback() error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.state == txnClosed {
		return ErrClosed
	}
	if err := wt.writer.Abort(); err != nil {
		return err
	}
	wt.diffs = nil
	wt.modCount = 0
	if wt.poisoned {
		wt.state = txnClosed
		wt.session.epoch.deregister(wt.baseRevision)
		wt.session.releaseWriter()
		return nil
	}
	// The aborted writer has dropped its staging area; start a fresh one on
	// the same base revision so further mutations can be made.
	wt.writer = wt.session.engine.Writer(wt.baseRevision)
	wt.hash = newHashAdapter(wt.session.hashMode, wt.writer, wt.reader)
	wt.state = txnRunning
	return nil
}

// Close releases this transaction's resources without committing,
// equivalent to Rollback followed by releasing the write lock.
func (wt *WriteTxn) Close() error {
	wt.mu.Lock()
	if wt.state == txnClosed {
		wt.mu.Unlock()
		return nil
	}
	_ = wt.writer.Abort()
	wt.state = txnClosed
	base := wt.baseRevision
	wt.mu.Unlock()

	if wt.asyncJobs != nil {
		close(wt.asyncJobs)
		<-wt.asyncDone
	}
	wt.session.epoch.deregister(base)
	wt.session.releaseWriter()
	return nil
}

// ModificationCount reports how many mutating calls have succeeded since
// the transaction began (or since the last commit/rollback).
func (wt *WriteTxn) ModificationCount() int64 {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return wt.modCount
}
