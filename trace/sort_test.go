package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func rec(seq, ts int64, actor Actor, op OpKind, path string) Record {
	return Record{SeqNo: seq, Timestamp: ts, Actor: actor, Op: op, Path: path}
}

func TestSortInterleavesActorsOnTimestamp(t *testing.T) {
	var recs = []Record{
		rec(1, 100, 1, OpMkdir, "/a"),
		rec(2, 300, 1, OpCreate, "/a/f.txt"),
		rec(3, 200, 2, OpMkdir, "/b"),
		rec(4, 400, 2, OpCreate, "/b/g.txt"),
	}
	var sorted = Sort(recs)

	var seqs []int64
	for _, r := range sorted {
		seqs = append(seqs, r.SeqNo)
	}
	require.Equal(t, []int64{1, 3, 2, 4}, seqs)

	// Input order is untouched: Sort is a pure function.
	require.Equal(t, int64(2), recs[1].SeqNo)
}

func TestSortPreservesPerActorOrder(t *testing.T) {
	// Ties on timestamp are broken by SeqNo, which also reflects each
	// actor's own recording order.
	var recs = []Record{
		rec(5, 100, 2, OpMkdir, "/b"),
		rec(2, 100, 1, OpMkdir, "/a"),
		rec(6, 100, 2, OpCreate, "/b/g.txt"),
		rec(3, 100, 1, OpCreate, "/a/f.txt"),
	}
	var sorted = Sort(recs)

	var lastSeq = make(map[Actor]int64)
	for _, r := range sorted {
		require.Greater(t, r.SeqNo, lastSeq[r.Actor])
		lastSeq[r.Actor] = r.SeqNo
	}
	require.NoError(t, checkSequencing(sorted))
}

func TestSequencingChecks(t *testing.T) {
	// Duplicated SeqNo.
	var err = checkSequencing([]Record{
		rec(1, 100, 1, OpMkdir, "/a"),
		rec(1, 200, 2, OpMkdir, "/b"),
	})
	require.ErrorContains(t, err, "duplicated SeqNo")

	// An actor whose records run counter to its own SeqNo order.
	err = checkSequencing([]Record{
		rec(7, 100, 1, OpMkdir, "/a"),
		rec(4, 200, 1, OpMkdir, "/b"),
	})
	require.ErrorContains(t, err, "actor 1 records are out of order")

	var ordering, ok = err.(*OrderingError)
	require.True(t, ok)
	require.Equal(t, int64(4), ordering.Record.SeqNo)
	require.NotNil(t, ordering.Prior)
	require.Equal(t, int64(7), ordering.Prior.SeqNo)
}

func TestVerifyOrderCausalPrecedence(t *testing.T) {
	var valid = []Record{
		rec(1, 100, 1, OpMkdir, "/a"),
		rec(2, 200, 1, OpCreate, "/a/f.txt"),
		rec(3, 300, 1, OpWrite, "/a/f.txt"),
		rec(4, 400, 1, OpRename, "/a/f.txt"),
		rec(5, 500, 1, OpRead, "/a/g.txt"),
		rec(6, 600, 1, OpUnlink, "/a/g.txt"),
	}
	valid[3].NewPath = "/a/g.txt"
	require.NoError(t, VerifyOrder(valid, nil))

	// A read of a path which is never created, in an undeclared space.
	var invalid = []Record{
		rec(1, 100, 1, OpRead, "/b/f.txt"),
	}
	var err = VerifyOrder(invalid, nil)
	var ordering, ok = err.(*OrderingError)
	require.True(t, ok)
	require.Equal(t, int64(1), ordering.Record.SeqNo)
	require.Contains(t, ordering.Reason, "/b/f.txt was never created")

	// The same trace is valid when "b" is a declared pre-existing space.
	require.NoError(t, VerifyOrder(invalid, []string{"b"}))

	// Use of a path after its unlink is a violation.
	var reuse = append(append([]Record(nil), valid...),
		rec(7, 700, 1, OpStat, "/a/g.txt"))
	err = VerifyOrder(reuse, nil)
	require.ErrorContains(t, err, "/a/g.txt was never created")

	// A recorded failure asserts nothing, and is not a violation.
	var failed = rec(1, 100, 1, OpStat, "/b/f.txt")
	failed.Result = Result{Errno: "ENOENT"}
	require.NoError(t, VerifyOrder([]Record{failed}, nil))
}

func TestVerifyOrderRenameMovesSubtree(t *testing.T) {
	var recs = []Record{
		rec(1, 100, 1, OpMkdir, "/a"),
		rec(2, 200, 1, OpMkdir, "/a/sub"),
		rec(3, 300, 1, OpCreate, "/a/sub/f.txt"),
		rec(4, 400, 1, OpRename, "/a/sub"),
		rec(5, 500, 1, OpRead, "/a/moved/f.txt"),
	}
	recs[3].NewPath = "/a/moved"
	require.NoError(t, VerifyOrder(recs, nil))

	// The old location is no longer valid after the rename.
	var stale = append(append([]Record(nil), recs...),
		rec(6, 600, 1, OpRead, "/a/sub/f.txt"))
	require.ErrorContains(t, VerifyOrder(stale, nil), "/a/sub/f.txt was never created")
}

func TestSortFileIsIdempotent(t *testing.T) {
	var dir = t.TempDir()

	for _, name := range []string{"trace.csv", "trace.csv.gz", "trace.csv.sz"} {
		var path = filepath.Join(dir, name)
		var recs = []Record{
			rec(2, 300, 1, OpCreate, "/a/f.txt"),
			rec(1, 100, 2, OpMkdir, "/a"),
			rec(3, 200, 2, OpMkdir, "/b"),
		}
		require.NoError(t, WriteFile(path, recs))

		require.NoError(t, SortFile(path, nil))
		var first, err = os.ReadFile(path)
		require.NoError(t, err)

		require.NoError(t, SortFile(path, nil))
		second, err := os.ReadFile(path)
		require.NoError(t, err)

		require.Equal(t, first, second, name)

		// And the persisted order is canonical.
		sorted, err := ParseFile(path)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 3, 2}, []int64{sorted[0].SeqNo, sorted[1].SeqNo, sorted[2].SeqNo})
	}
}

func TestSortFileAbortsBeforeRewriteOnViolation(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "trace.csv")
	var recs = []Record{
		rec(2, 200, 1, OpRead, "/b/f.txt"), // Never created.
		rec(1, 100, 2, OpMkdir, "/a"),
	}
	require.NoError(t, WriteFile(path, recs))
	var before, err = os.ReadFile(path)
	require.NoError(t, err)

	err = SortFile(path, nil)
	require.Error(t, err)
	var _, ok = err.(*OrderingError)
	require.True(t, ok)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
