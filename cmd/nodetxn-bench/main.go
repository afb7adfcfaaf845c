// Command nodetxn-bench measures throughput of the common node-transaction
// operations (insert, commit, cursor walk) against a scratch resource
// directory, adapted from the teacher's garland-bench harness.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/arbordb/nodetxn"
)

func main() {
	dir := flag.String("dir", "", "scratch resource directory (required)")
	nodeCount := flag.Int("nodes", 100000, "number of nodes to insert")
	batchSize := flag.Int("batch", 1000, "nodes per commit")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: nodetxn-bench -dir <path> [-nodes N] [-batch N]")
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	s, err := nodetxn.OpenSession(*dir, nodetxn.SessionOptions{
		Logger:   logger,
		HashMode: nodetxn.HashRolling,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()

	insertStart := time.Now()
	inserted := 0
	for inserted < *nodeCount {
		wt, err := s.BeginNodeTrx(0, 0, nodetxn.AfterCommitClose)
		if err != nil {
			fmt.Fprintln(os.Stderr, "begin txn:", err)
			os.Exit(1)
		}
		wt.SetBulkInsertion(true)

		thisBatch := *batchSize
		if remaining := *nodeCount - inserted; thisBatch > remaining {
			thisBatch = remaining
		}
		for i := 0; i < thisBatch; i++ {
			template := &nodetxn.Node{
				Kind:  nodetxn.KindStringValue,
				Value: []byte(fmt.Sprintf("bench-value-%d", inserted+i)),
			}
			if _, err := wt.Insert(nodetxn.DocumentRootKey, template); err != nil {
				fmt.Fprintln(os.Stderr, "insert:", err)
				os.Exit(1)
			}
		}
		if _, err := wt.Commit(fmt.Sprintf("bench batch starting at %d", inserted)); err != nil {
			fmt.Fprintln(os.Stderr, "commit:", err)
			os.Exit(1)
		}
		inserted += thisBatch
	}
	insertElapsed := time.Since(insertStart)
	fmt.Printf("inserted %d nodes in %s (%.0f nodes/sec)\n",
		*nodeCount, insertElapsed, float64(*nodeCount)/insertElapsed.Seconds())

	walkStart := time.Now()
	rt, err := s.BeginNodeReadOnlyTrx(s.GetMostRecentRevisionNumber())
	if err != nil {
		fmt.Fprintln(os.Stderr, "begin read txn:", err)
		os.Exit(1)
	}
	cur := rt.Cursor()
	walked := 0
	if ok, _ := cur.MoveToDocumentRoot(); ok {
		if ok, _ := cur.MoveToFirstChild(); ok {
			walked++
			for {
				ok, err := cur.MoveToRightSibling()
				if err != nil || !ok {
					break
				}
				walked++
			}
		}
	}
	rt.Close()
	walkElapsed := time.Since(walkStart)
	fmt.Printf("walked %d siblings in %s (%.0f nodes/sec)\n",
		walked, walkElapsed, float64(walked)/walkElapsed.Seconds())

	stats := cur.AllocStats()
	fmt.Printf("cursor stats: rebinds=%d clones=%d guardAcquires=%d\n",
		stats.Rebinds, stats.Clones, stats.GuardAcquires)
}
