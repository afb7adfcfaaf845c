package nodetxn

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// PageKey identifies a page within a revision's page tree (glossary:
// "Uber-page", "Page guard"). The core never interprets a PageKey's bits;
// it only compares them for the cursor's same-page fast path (§4.2).
type PageKey uint64

// StorageEngineReader is the read-side contract the storage/page layer
// exposes to the node transaction layer (§1 "out of scope, specified only
// by the interfaces the core consumes").
type StorageEngineReader interface {
	// LookupSlot resolves key to the page and in-page offset holding its
	// slot at this reader's bound revision. ok is false if key has never
	// existed at or before this revision.
	LookupSlot(key NodeKey) (page PageKey, offset int, ok bool, err error)

	// PageKeyOf returns the page a key's slot lives in without reading the
	// slot itself, used by the cursor to test the same-page fast path
	// before deciding whether a new guard is required.
	PageKeyOf(key NodeKey) (PageKey, error)

	// AcquirePage pins a page against eviction and returns a guard; the
	// guard must be released exactly once.
	AcquirePage(page PageKey) (*PageGuard, error)

	// ReadSlot reads the raw slot bytes (kind tag first byte, per the
	// glossary) for key out of an already-acquired guard. Returns ok=false
	// if the slot is absent or logically deleted (kind byte == KindDelete);
	// callers must still treat ok=false as "not found", not an error.
	ReadSlot(guard *PageGuard, key NodeKey) (raw []byte, ok bool, err error)

	// Revision reports the revision number this reader observes.
	Revision() RevisionNumber

	// RevisionTimestamp reports when Revision() was committed.
	RevisionTimestamp() int64

	// MaxNodeKey reports the highest node key ever allocated as of this
	// revision, used by get_max_node_key.
	MaxNodeKey() NodeKey
}

// StorageEngineWriter is the write-side contract (§1, §4.1 "singleton
// aliasing discipline").
type StorageEngineWriter interface {
	// PrepareRecordForModification returns a mutable handle for key. The
	// implementation MAY return the same backing *Node on successive calls
	// (a write-path singleton); callers must capture any fields they need
	// from the previous handle before calling this again (§4.1, §9).
	PrepareRecordForModification(key NodeKey) (*Node, error)

	// UpdateRecordSlot persists node's current field values back to key's
	// slot in the writer's in-progress revision.
	UpdateRecordSlot(key NodeKey, node *Node) error

	// CreateRecord allocates the next document-index key and persists node
	// under it, returning the assigned key.
	CreateRecord(node *Node) (NodeKey, error)

	// Commit finalizes the in-progress revision, returning the new
	// uber-page's key and the committed revision number.
	Commit(message string, timestampUnixNano int64) (PageKey, RevisionNumber, error)

	// Abort discards the in-progress revision without publishing it.
	Abort() error
}

// PageGuard is a refcount-like token preventing eviction of the page it
// covers while held (glossary). Exactly one Release per successful acquire.
type PageGuard struct {
	key      PageKey
	page     *cachedPage
	released int32
}

// Key returns the page this guard covers.
func (g *PageGuard) Key() PageKey { return g.key }

// Release drops the guard's pin. Safe to call more than once; only the
// first call has effect, matching "every page guard acquired must be
// released on all exit paths" (§5) without making double-release a bug.
func (g *PageGuard) Release() {
	if g == nil || g.page == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&g.released, 0, 1) {
		atomic.AddInt32(&g.page.refCount, -1)
	}
}

// cachedPage is the in-memory representation of a page, holding the raw
// slot bytes for every node key it was asked to materialize plus the
// eviction bookkeeping the session's background sweeper consults.
type cachedPage struct {
	key      PageKey
	revision RevisionNumber
	slots    map[NodeKey][]byte
	refCount int32
}

// ---- encode/decode: the slot byte layout compute_hash(node_bytes) hashes ----

// encodeNode serializes n into slot bytes. The first byte is the kind tag
// (glossary: "Slot ... first byte is the kind tag"); the rest is a flat
// encoding of every field relevant to Kind. This is the exact byte string
// hash.go's leaf-level H_self folds over.
func encodeNode(n *Node) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(n.Kind))
	buf = appendVarint(buf, int64(n.Key))
	buf = appendVarint(buf, int64(n.ParentKey))
	buf = appendVarint(buf, int64(n.PreviousRevision))
	buf = appendVarint(buf, int64(n.LastModifiedRevision))

	if n.Kind.IsStructural() {
		buf = appendVarint(buf, int64(n.FirstChildKey))
		buf = appendVarint(buf, int64(n.LastChildKey))
		buf = appendVarint(buf, n.ChildCount)
		buf = appendVarint(buf, n.DescendantCount)
	}
	if n.Kind.HasSiblings() {
		buf = appendVarint(buf, int64(n.LeftSiblingKey))
		buf = appendVarint(buf, int64(n.RightSiblingKey))
	}
	if n.Kind.IsNameBearing() {
		buf = appendVarint(buf, int64(n.PathNodeKey))
		buf = appendVarint(buf, n.URIKey)
		buf = appendVarint(buf, n.PrefixKey)
		buf = appendVarint(buf, n.LocalNameKey)
	}
	if n.Kind.IsValueBearing() {
		buf = appendVarint(buf, int64(len(n.Value)))
		buf = append(buf, n.Value...)
	}
	if len(n.DeweyID) > 0 {
		buf = appendVarint(buf, int64(len(n.DeweyID)))
		buf = append(buf, n.DeweyID...)
	} else {
		buf = appendVarint(buf, 0)
	}
	return buf
}

func appendVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// decodeNode deserializes slot bytes into dst in place, avoiding an
// allocation on the cursor's hot path (§4.2). Returns ErrIllegalState if
// raw is malformed.
func decodeNode(raw []byte, dst *Node) error {
	if len(raw) == 0 {
		return WrapIllegalState("empty slot")
	}
	dst.Reset()
	dst.Kind = NodeKind(raw[0])
	r := raw[1:]

	key, n := binary.Varint(r)
	r = r[n:]
	dst.Key = NodeKey(key)

	parent, n := binary.Varint(r)
	r = r[n:]
	dst.ParentKey = NodeKey(parent)

	prevRev, n := binary.Varint(r)
	r = r[n:]
	dst.PreviousRevision = RevisionNumber(prevRev)

	lastRev, n := binary.Varint(r)
	r = r[n:]
	dst.LastModifiedRevision = RevisionNumber(lastRev)

	if dst.Kind.IsStructural() {
		v, n := binary.Varint(r)
		r = r[n:]
		dst.FirstChildKey = NodeKey(v)
		v, n = binary.Varint(r)
		r = r[n:]
		dst.LastChildKey = NodeKey(v)
		v, n = binary.Varint(r)
		r = r[n:]
		dst.ChildCount = v
		v, n = binary.Varint(r)
		r = r[n:]
		dst.DescendantCount = v
	}
	if dst.Kind.HasSiblings() {
		v, n := binary.Varint(r)
		r = r[n:]
		dst.LeftSiblingKey = NodeKey(v)
		v, n = binary.Varint(r)
		r = r[n:]
		dst.RightSiblingKey = NodeKey(v)
	}
	if dst.Kind.IsNameBearing() {
		v, n := binary.Varint(r)
		r = r[n:]
		dst.PathNodeKey = NodeKey(v)
		v, n = binary.Varint(r)
		r = r[n:]
		dst.URIKey = v
		v, n = binary.Varint(r)
		r = r[n:]
		dst.PrefixKey = v
		v, n = binary.Varint(r)
		r = r[n:]
		dst.LocalNameKey = v
	}
	if dst.Kind.IsValueBearing() {
		vlen, n := binary.Varint(r)
		r = r[n:]
		if vlen > 0 {
			dst.Value = r[:vlen]
			r = r[vlen:]
		}
	}
	dlen, n := binary.Varint(r)
	r = r[n:]
	if dlen > 0 {
		dst.DeweyID = r[:dlen]
		dst.DeweyIDBound = true
	}
	return nil
}

// ---- reference StorageEngine: goleveldb-backed, one page per pageGroupSize keys ----

// pageGroupSize is how many consecutive node keys share a page in the
// reference engine below. Real paging policy belongs to the (out-of-scope)
// storage engine; this grouping only needs to be stable and deterministic
// so the cursor's same-page fast path has something real to exercise.
const pageGroupSize = 64

func pageKeyForNode(key NodeKey) PageKey {
	if key < 0 {
		key = 0
	}
	return PageKey(int64(key) / pageGroupSize)
}

// LevelDBEngine is the default, reference StorageEngine implementation
// backed by goleveldb — grounded in ethereum-go-ethereum's use of goleveldb
// as a chain/state key-value backend. It is a minimal, documented stand-in
// for the page/record persister the spec places out of core scope; it does
// not implement multi-node page byte-packing, only page-key grouping.
type LevelDBEngine struct {
	db         *leveldb.DB
	revision   RevisionNumber
	revisionTS map[RevisionNumber]int64
	maxNodeKey NodeKey

	cache *pageCache
}

// OpenLevelDBEngine opens (or creates) a goleveldb-backed engine rooted at
// the given directory, observing the most recently committed revision.
func OpenLevelDBEngine(dir string, cache *pageCache) (*LevelDBEngine, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, WrapIO(err, "open leveldb engine")
	}
	// Revision 0 always holds an empty document root so a reader of a fresh
	// resource can position on it.
	if _, err := db.Get(revKey(0, DocumentRootKey), nil); err == leveldb.ErrNotFound {
		root := &Node{}
		root.Reset()
		if err := db.Put(revKey(0, DocumentRootKey), encodeNode(root), nil); err != nil {
			_ = db.Close()
			return nil, WrapIO(err, "write document root")
		}
	}
	e := &LevelDBEngine{
		db:         db,
		revisionTS: make(map[RevisionNumber]int64),
		cache:      cache,
	}
	e.revision, e.maxNodeKey = e.loadHighWaterMarks()
	return e, nil
}

func (e *LevelDBEngine) loadHighWaterMarks() (RevisionNumber, NodeKey) {
	val, err := e.db.Get([]byte("meta:revision"), nil)
	var rev RevisionNumber
	if err == nil && len(val) == 8 {
		rev = RevisionNumber(binary.BigEndian.Uint64(val))
	}
	val, err = e.db.Get([]byte("meta:maxkey"), nil)
	var maxKey NodeKey
	if err == nil && len(val) == 8 {
		maxKey = NodeKey(binary.BigEndian.Uint64(val))
	}
	return rev, maxKey
}

func revKey(rev RevisionNumber, key NodeKey) []byte {
	buf := make([]byte, 17)
	buf[0] = 'n'
	binary.BigEndian.PutUint64(buf[1:], uint64(rev))
	binary.BigEndian.PutUint64(buf[9:], uint64(key))
	return buf
}

// ReaderAt returns a read-only view bound to rev.
func (e *LevelDBEngine) ReaderAt(rev RevisionNumber) StorageEngineReader {
	return &levelDBReader{engine: e, revision: rev}
}

// Writer returns a writer building the next revision on top of base.
func (e *LevelDBEngine) Writer(base RevisionNumber) StorageEngineWriter {
	return &levelDBWriter{
		engine:      e,
		baseRev:     base,
		newRev:      base + 1,
		staged:      make(map[NodeKey]*Node),
		nextNodeKey: e.maxNodeKey + 1,
	}
}

type levelDBReader struct {
	engine   *LevelDBEngine
	revision RevisionNumber
}

func (r *levelDBReader) Revision() RevisionNumber { return r.revision }

func (r *levelDBReader) RevisionTimestamp() int64 {
	return r.engine.revisionTS[r.revision]
}

func (r *levelDBReader) MaxNodeKey() NodeKey { return r.engine.maxNodeKey }

func (r *levelDBReader) findRaw(key NodeKey) ([]byte, bool, error) {
	// Walk revisions backward to the nearest slot version <= r.revision,
	// mirroring "a modification produces a new slot version tagged with
	// the writer's revision" (§3 Lifecycle).
	for rev := r.revision; ; {
		raw, err := r.engine.db.Get(revKey(rev, key), nil)
		if err == nil {
			return raw, true, nil
		}
		if err != leveldb.ErrNotFound {
			return nil, false, WrapIO(err, "read slot")
		}
		if rev == 0 {
			return nil, false, nil
		}
		rev--
	}
}

func (r *levelDBReader) PageKeyOf(key NodeKey) (PageKey, error) {
	return pageKeyForNode(key), nil
}

func (r *levelDBReader) LookupSlot(key NodeKey) (PageKey, int, bool, error) {
	raw, ok, err := r.findRaw(key)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	if len(raw) > 0 && NodeKind(raw[0]) == KindDelete {
		return 0, 0, false, nil
	}
	return pageKeyForNode(key), 0, true, nil
}

func (r *levelDBReader) AcquirePage(page PageKey) (*PageGuard, error) {
	return r.engine.cache.acquire(page, r.revision)
}

func (r *levelDBReader) ReadSlot(guard *PageGuard, key NodeKey) ([]byte, bool, error) {
	if guard != nil {
		if raw, ok := guard.page.slots[key]; ok {
			if len(raw) > 0 && NodeKind(raw[0]) == KindDelete {
				return nil, false, nil
			}
			return raw, true, nil
		}
	}
	raw, ok, err := r.findRaw(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(raw) > 0 && NodeKind(raw[0]) == KindDelete {
		return nil, false, nil
	}
	if guard != nil {
		guard.page.slots[key] = raw
	}
	return raw, true, nil
}

type levelDBWriter struct {
	engine      *LevelDBEngine
	baseRev     RevisionNumber
	newRev      RevisionNumber
	staged      map[NodeKey]*Node
	scratch     Node
	nextNodeKey NodeKey
}

func (w *levelDBWriter) PrepareRecordForModification(key NodeKey) (*Node, error) {
	if n, ok := w.staged[key]; ok {
		return n, nil
	}
	reader := w.engine.ReaderAt(w.baseRev)
	raw, ok, err := reader.(*levelDBReader).findRaw(key)
	if err != nil {
		return nil, err
	}
	// The writer's scratch Node is reused for decoding only; the handle
	// returned is a per-key staged copy, so repeated calls for the same key
	// return the same *Node and calls for different keys never alias.
	if ok {
		if err := decodeNode(raw, &w.scratch); err != nil {
			return nil, err
		}
	} else {
		w.scratch.Reset()
		w.scratch.Key = key
	}
	n := w.scratch.clone()
	w.staged[key] = n
	return n, nil
}

func (w *levelDBWriter) UpdateRecordSlot(key NodeKey, node *Node) error {
	cp := node.clone()
	cp.Key = key
	w.staged[key] = cp
	return nil
}

func (w *levelDBWriter) CreateRecord(node *Node) (NodeKey, error) {
	key := w.nextNodeKey
	w.nextNodeKey++
	cp := node.clone()
	cp.Key = key
	w.staged[key] = cp
	return key, nil
}

func (w *levelDBWriter) Commit(message string, timestampUnixNano int64) (PageKey, RevisionNumber, error) {
	batch := new(leveldb.Batch)
	for key, n := range w.staged {
		batch.Put(revKey(w.newRev, key), encodeNode(n))
	}
	var revBuf [8]byte
	binary.BigEndian.PutUint64(revBuf[:], uint64(w.newRev))
	batch.Put([]byte("meta:revision"), revBuf[:])

	if w.nextNodeKey-1 > w.engine.maxNodeKey {
		var maxBuf [8]byte
		binary.BigEndian.PutUint64(maxBuf[:], uint64(w.nextNodeKey-1))
		batch.Put([]byte("meta:maxkey"), maxBuf[:])
	}
	if err := w.engine.db.Write(batch, nil); err != nil {
		return 0, 0, WrapIO(err, "commit revision")
	}
	w.engine.revision = w.newRev
	w.engine.revisionTS[w.newRev] = timestampUnixNano
	if w.nextNodeKey-1 > w.engine.maxNodeKey {
		w.engine.maxNodeKey = w.nextNodeKey - 1
	}
	return PageKey(w.newRev), w.newRev, nil
}

func (w *levelDBWriter) Abort() error {
	w.staged = nil
	return nil
}

// Close releases the underlying goleveldb handle.
func (e *LevelDBEngine) Close() error {
	return e.db.Close()
}

// scanRevisionCount counts the distinct revisions that have at least one
// stored slot version. It has no callers and is not part of the
// StorageEngine contract.
func (e *LevelDBEngine) scanRevisionCount() int {
	iter := e.db.NewIterator(util.BytesPrefix([]byte("n")), nil)
	defer iter.Release()
	seen := map[RevisionNumber]struct{}{}
	for iter.Next() {
		k := iter.Key()
		if len(k) < 9 {
			continue
		}
		seen[RevisionNumber(binary.BigEndian.Uint64(k[1:9]))] = struct{}{}
	}
	return len(seen)
}

// keysModifiedAfter returns every node key with a slot version tagged
// strictly after rev, used by RevertTo to find what needs rewriting to
// make rev's state visible again as a new revision (§4.4 "revert_to(r)").
func (e *LevelDBEngine) keysModifiedAfter(rev RevisionNumber) ([]NodeKey, error) {
	iter := e.db.NewIterator(util.BytesPrefix([]byte("n")), nil)
	defer iter.Release()
	seen := map[NodeKey]struct{}{}
	for iter.Next() {
		k := iter.Key()
		if len(k) < 17 {
			continue
		}
		kr := RevisionNumber(binary.BigEndian.Uint64(k[1:9]))
		if kr <= rev {
			continue
		}
		seen[NodeKey(binary.BigEndian.Uint64(k[9:17]))] = struct{}{}
	}
	if err := iter.Error(); err != nil {
		return nil, WrapIO(err, "scan keys modified after revision")
	}
	keys := make([]NodeKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, nil
}

// truncateAfter permanently deletes every slot version tagged strictly
// after rev and resets the engine's revision high-water mark to rev
// (§4.4 "truncate_to(r)": a destructive admin operation, distinct from
// RevertTo which publishes a new revision instead of erasing history).
func (e *LevelDBEngine) truncateAfter(rev RevisionNumber) error {
	iter := e.db.NewIterator(util.BytesPrefix([]byte("n")), nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		k := iter.Key()
		if len(k) < 17 {
			continue
		}
		kr := RevisionNumber(binary.BigEndian.Uint64(k[1:9]))
		if kr > rev {
			batch.Delete(append([]byte(nil), k...))
		}
	}
	if err := iter.Error(); err != nil {
		return WrapIO(err, "scan keys for truncate")
	}
	var revBuf [8]byte
	binary.BigEndian.PutUint64(revBuf[:], uint64(rev))
	batch.Put([]byte("meta:revision"), revBuf[:])
	if err := e.db.Write(batch, nil); err != nil {
		return WrapIO(err, "truncate revision")
	}
	e.revision = rev
	for r := range e.revisionTS {
		if r > rev {
			delete(e.revisionTS, r)
		}
	}
	return nil
}
