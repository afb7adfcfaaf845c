// Command nodetxn-cli is a thin inspection and administration front end over
// a nodetxn resource session, replacing the teacher's interactive bufio REPL
// with cobra subcommands (one process invocation per operation).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbordb/nodetxn"
)

var (
	dirFlag      string
	revisionFlag int64
)

func main() {
	root := &cobra.Command{
		Use:   "nodetxn-cli",
		Short: "Inspect and administer a nodetxn resource session",
	}
	root.PersistentFlags().StringVar(&dirFlag, "dir", "", "resource directory (required)")
	_ = root.MarkPersistentFlagRequired("dir")

	root.AddCommand(newOpenCmd())
	root.AddCommand(newCursorCmd())
	root.AddCommand(newCommitCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newRevertCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openSession() (*nodetxn.Session, error) {
	logger, _ := zap.NewProduction()
	return nodetxn.OpenSession(dirFlag, nodetxn.SessionOptions{
		Logger:       logger,
		HashMode:     nodetxn.HashRolling,
		SweepInterval: 30 * time.Second,
	})
}

// newOpenCmd verifies a session opens cleanly and reports its most recent
// revision, without performing any other operation.
func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the resource and print its most recent revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Printf("resource %q opened at revision %d\n", dirFlag, s.GetMostRecentRevisionNumber())
			return nil
		},
	}
}

// newCursorCmd opens a read-only cursor at --revision (default: most recent)
// and walks to --key (default: document root), printing the node it finds.
func newCursorCmd() *cobra.Command {
	var key int64
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Print the node at --key in a read-only cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			rev := nodetxn.RevisionNumber(revisionFlag)
			if revisionFlag < 0 {
				rev = s.GetMostRecentRevisionNumber()
			}
			rt, err := s.BeginNodeReadOnlyTrx(rev)
			if err != nil {
				return err
			}
			defer rt.Close()

			cur := rt.Cursor()
			ok, err := cur.MoveTo(nodetxn.NodeKey(key))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("no node at key %d in revision %d\n", key, rev)
				return nil
			}
			n := cur.Current()
			fmt.Printf("key=%d kind=%s parent=%d firstChild=%d lastChild=%d leftSibling=%d rightSibling=%d hash=%x\n",
				n.Key, n.Kind, n.ParentKey, n.FirstChildKey, n.LastChildKey, n.LeftSiblingKey, n.RightSiblingKey, n.Hash)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&revisionFlag, "revision", "r", -1, "revision to read (default: most recent)")
	cmd.Flags().Int64Var(&key, "key", int64(nodetxn.DocumentRootKey), "node key to move to")
	return cmd
}

// newCommitCmd inserts a single string-value child under --parent and
// commits it, demonstrating the write-transaction lifecycle end to end.
func newCommitCmd() *cobra.Command {
	var (
		parent  int64
		value   string
		message string
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Insert one string value under --parent and commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			wt, err := s.BeginNodeTrx(0, 0, nodetxn.AfterCommitClose)
			if err != nil {
				return err
			}
			template := &nodetxn.Node{Kind: nodetxn.KindStringValue, Value: []byte(value)}
			key, err := wt.Insert(nodetxn.NodeKey(parent), template)
			if err != nil {
				_ = wt.Rollback()
				return err
			}
			rev, err := wt.Commit(message)
			if err != nil {
				return err
			}
			fmt.Printf("inserted key=%d, committed revision %d\n", key, rev)
			return nil
		},
	}
	cmd.Flags().Int64Var(&parent, "parent", int64(nodetxn.DocumentRootKey), "parent node key")
	cmd.Flags().StringVar(&value, "value", "", "string value to insert")
	cmd.Flags().StringVar(&message, "message", "", "commit message")
	return cmd
}

// newHistoryCmd lists committed revisions.
func newHistoryCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List committed revisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			var entries []nodetxn.RevisionHistoryEntry
			if n > 0 {
				entries = s.HistoryN(n)
			} else {
				entries = s.History()
			}
			for _, e := range entries {
				fmt.Printf("revision=%d timestamp=%d message=%q\n", e.Revision, e.Timestamp, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 0, "limit to the n most recent revisions (0 = all)")
	return cmd
}

// newRevertCmd publishes a new revision mirroring --to as current, or
// (with --truncate) destructively erases history after --to.
func newRevertCmd() *cobra.Command {
	var (
		to       int64
		truncate bool
	)
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Revert (or truncate) to a prior revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			wt, err := s.BeginNodeTrx(0, 0, nodetxn.AfterCommitClose)
			if err != nil {
				return err
			}
			target := nodetxn.RevisionNumber(to)
			if truncate {
				if err := wt.TruncateTo(target); err != nil {
					return err
				}
				_ = wt.Close()
				fmt.Printf("truncated history after revision %d\n", target)
				return nil
			}
			rev, err := wt.RevertTo(target)
			if err != nil {
				return err
			}
			fmt.Printf("reverted to revision %d, published as revision %d\n", target, rev)
			return nil
		},
	}
	cmd.Flags().Int64Var(&to, "to", 0, "target revision")
	cmd.Flags().BoolVar(&truncate, "truncate", false, "destructively erase history after --to instead of reverting")
	return cmd
}
