package replay

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/iotrace/ioreplay/trace"
)

func TestReplayFidelity(t *testing.T) {
	var env = testEnv(t)

	var write = rec(3, 300, trace.OpWrite, "/a/f.txt")
	write.Size, write.Handle, write.Result = 10, 7, trace.Result{Bytes: 10}
	var read = rec(4, 400, trace.OpRead, "/a/f.txt")
	read.Size, read.Handle, read.Result = 10, 7, trace.Result{Bytes: 10}
	var create = rec(2, 200, trace.OpCreate, "/a/f.txt")
	create.Handle = 7
	var cl = rec(5, 500, trace.OpClose, "/a/f.txt")
	cl.Handle = 7

	var recs = []trace.Record{
		rec(1, 100, trace.OpMkdir, "/a"),
		create,
		write,
		read,
		cl,
	}

	// Reconstruct first, then replay against the reconstructed root.
	var _, err = env.Reconstruct(context.Background(), recs)
	require.NoError(t, err)

	summary, err := NewReplayer(env).Run(context.Background(), recs)
	require.NoError(t, err)
	require.Empty(t, summary.Divergences)
	require.Equal(t, 5, summary.Ops)
	require.Equal(t, int64(10), summary.ReadBytes)
	require.Equal(t, int64(10), summary.WrittenBytes)

	// The read observed exactly the bytes the write produced.
	content, err := afero.ReadFile(env.FS, "/mnt/a/f.txt")
	require.NoError(t, err)
	require.Equal(t, payload(3, 10), content)
}

func TestReplayLeafDivergenceAccumulates(t *testing.T) {
	var env = testEnv(t)
	require.NoError(t, afero.WriteFile(env.FS, "/mnt/a/short.txt", []byte("abc"), 0644))

	// Recorded as a 10-byte read, but only 3 bytes exist to be read.
	var read = rec(1, 100, trace.OpRead, "/a/short.txt")
	read.Size, read.Result = 10, trace.Result{Bytes: 10}

	var stat = rec(2, 200, trace.OpStat, "/a/short.txt")

	summary, err := NewReplayer(env).Run(context.Background(), []trace.Record{read, stat})
	require.NoError(t, err) // Leaf divergence is not fatal.
	require.Len(t, summary.Divergences, 1)

	var d = summary.Divergences[0]
	require.Equal(t, int64(1), d.Record.SeqNo)
	require.Equal(t, trace.Result{Bytes: 3}, d.Observed)
	require.Equal(t, 2, summary.Ops) // The run continued past the divergence.
}

func TestReplayStructuralDivergenceAborts(t *testing.T) {
	var env = testEnv(t)

	// A rename whose source does not exist, recorded as successful.
	var rename = rec(1, 100, trace.OpRename, "/a/missing.txt")
	rename.NewPath = "/a/other.txt"

	var summary, err = NewReplayer(env).Run(context.Background(),
		[]trace.Record{rename, rec(2, 200, trace.OpStat, "/a/other.txt")})

	var diverged, ok = err.(*DivergenceError)
	require.True(t, ok, "expected DivergenceError, got %#v", err)
	require.Equal(t, int64(1), diverged.Record.SeqNo)
	require.Equal(t, "ENOENT", diverged.Observed.Errno)

	// The aborted run still reports how long it ran.
	require.NotZero(t, summary.WallTime)
}

func TestReplayAfterDirectoryRename(t *testing.T) {
	var env = testEnv(t)

	var create = rec(3, 300, trace.OpCreate, "/a/sub/f.txt")
	create.Handle = 7
	var write = rec(4, 400, trace.OpWrite, "/a/sub/f.txt")
	write.Size, write.Handle, write.Result = 4, 7, trace.Result{Bytes: 4}
	var cl = rec(5, 500, trace.OpClose, "/a/sub/f.txt")
	cl.Handle = 7
	var rename = rec(6, 600, trace.OpRename, "/a/sub")
	rename.NewPath = "/a/moved"
	var read = rec(7, 700, trace.OpRead, "/a/moved/f.txt")
	read.Size, read.Result = 4, trace.Result{Bytes: 4}

	var recs = []trace.Record{
		rec(1, 100, trace.OpMkdir, "/a"),
		rec(2, 200, trace.OpMkdir, "/a/sub"),
		create,
		write,
		cl,
		rename,
		read,
	}

	var _, err = env.Reconstruct(context.Background(), recs)
	require.NoError(t, err)

	// Reconstruction left the rename for replay to perform.
	ok, err := afero.Exists(env.FS, "/mnt/a/moved")
	require.NoError(t, err)
	require.False(t, ok)

	summary, err := NewReplayer(env).Run(context.Background(), recs)
	require.NoError(t, err)
	require.Empty(t, summary.Divergences)

	content, err := afero.ReadFile(env.FS, "/mnt/a/moved/f.txt")
	require.NoError(t, err)
	require.Equal(t, payload(4, 4), content)
}

func TestReplayMatchingRecordedFailure(t *testing.T) {
	var env = testEnv(t)

	// The recording also observed ENOENT here: outcomes agree.
	var stat = rec(1, 100, trace.OpStat, "/a/missing.txt")
	stat.Result = trace.Result{Errno: "ENOENT"}

	summary, err := NewReplayer(env).Run(context.Background(), []trace.Record{stat})
	require.NoError(t, err)
	require.Empty(t, summary.Divergences)
}

func TestReplayMkdirOverReconstructedDir(t *testing.T) {
	var env = testEnv(t)
	require.NoError(t, env.FS.MkdirAll("/mnt/a", 0755))

	// Reconstruction pre-creates directories, so a replayed mkdir finding
	// its target in place is the expected outcome, not a divergence.
	summary, err := NewReplayer(env).Run(context.Background(),
		[]trace.Record{rec(1, 100, trace.OpMkdir, "/a")})
	require.NoError(t, err)
	require.Empty(t, summary.Divergences)
}

func TestReplayHandleThreading(t *testing.T) {
	var env = testEnv(t)
	require.NoError(t, afero.WriteFile(env.FS, "/mnt/a/f.txt", make([]byte, 4), 0644))

	var open = rec(1, 100, trace.OpOpen, "/a/f.txt")
	open.Handle, open.Flags = 9, 2 // O_RDWR

	var write = rec(2, 200, trace.OpWrite, "/a/f.txt")
	write.Size, write.Handle, write.Result = 4, 9, trace.Result{Bytes: 4}

	var cl = rec(3, 300, trace.OpClose, "/a/f.txt")
	cl.Handle = 9

	// A close of a handle which was never opened.
	var badClose = rec(4, 400, trace.OpClose, "/a/f.txt")
	badClose.Handle = 42

	summary, err := NewReplayer(env).Run(context.Background(),
		[]trace.Record{open, write, cl, badClose})
	require.NoError(t, err)

	require.Len(t, summary.Divergences, 1)
	require.Equal(t, "EBADF", summary.Divergences[0].Observed.Errno)

	content, err := afero.ReadFile(env.FS, "/mnt/a/f.txt")
	require.NoError(t, err)
	require.Equal(t, payload(2, 4), content)
}

func TestReplayLazyHandleOpen(t *testing.T) {
	var env = testEnv(t)
	require.NoError(t, afero.WriteFile(env.FS, "/mnt/a/f.txt", []byte("abcd"), 0644))

	// The open of handle 3 predates the trace: the first use opens it.
	var read = rec(1, 100, trace.OpRead, "/a/f.txt")
	read.Size, read.Handle, read.Result = 4, 3, trace.Result{Bytes: 4}
	var cl = rec(2, 200, trace.OpClose, "/a/f.txt")
	cl.Handle = 3

	summary, err := NewReplayer(env).Run(context.Background(), []trace.Record{read, cl})
	require.NoError(t, err)
	require.Empty(t, summary.Divergences)
}

func TestDivergedComparison(t *testing.T) {
	var read = trace.Record{Op: trace.OpRead, Result: trace.Result{Bytes: 10}}
	require.False(t, diverged(read, trace.Result{Bytes: 10}))
	require.True(t, diverged(read, trace.Result{Bytes: 7}))
	require.True(t, diverged(read, trace.Result{Errno: "ENOENT"}))

	var mkdir = trace.Record{Op: trace.OpMkdir, Result: trace.Result{}}
	require.False(t, diverged(mkdir, trace.Result{}))
	require.True(t, diverged(mkdir, trace.Result{Errno: "EACCES"}))

	var failed = trace.Record{Op: trace.OpUnlink, Result: trace.Result{Errno: "ENOENT"}}
	require.False(t, diverged(failed, trace.Result{Errno: "ENOENT"}))
	require.True(t, diverged(failed, trace.Result{Errno: "EACCES"}))
	require.True(t, diverged(failed, trace.Result{}))

	// Recorded errnos finer-grained than the observation vocabulary match
	// on their failure class, not their exact name.
	var notEmpty = trace.Record{Op: trace.OpRmdir, Result: trace.Result{Errno: "ENOTEMPTY"}}
	require.False(t, diverged(notEmpty, trace.Result{Errno: "EEXIST"}))
	var notDir = trace.Record{Op: trace.OpStat, Result: trace.Result{Errno: "ENOTDIR"}}
	require.False(t, diverged(notDir, trace.Result{Errno: "ENOENT"}))
	var eperm = trace.Record{Op: trace.OpUnlink, Result: trace.Result{Errno: "EPERM"}}
	require.False(t, diverged(eperm, trace.Result{Errno: "EACCES"}))
	var noSpace = trace.Record{Op: trace.OpWrite, Result: trace.Result{Errno: "ENOSPC"}}
	require.False(t, diverged(noSpace, trace.Result{Errno: "EIO"}))
	require.True(t, diverged(noSpace, trace.Result{Errno: "ENOENT"}))
}

func TestAccessMode(t *testing.T) {
	require.Equal(t, os.O_WRONLY, accessMode(int64(os.O_WRONLY)))
	require.Equal(t, os.O_RDWR, accessMode(int64(os.O_RDWR)))
	// Read-only at record time is upgraded: later records may write
	// through the handle's path.
	require.Equal(t, os.O_RDWR, accessMode(int64(os.O_RDONLY)))
	// Non-access bits don't perturb the result.
	require.Equal(t, os.O_WRONLY, accessMode(int64(os.O_WRONLY|os.O_CREATE|os.O_TRUNC)))
}
