package replay

import (
	"context"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/iotrace/ioreplay/trace"
)

// Replayer re-issues the operations of a sorted trace against the mount
// root of its Env, strictly in canonical order: operation N+1 is issued
// only after operation N completes, so no unrecorded concurrency artifacts
// are introduced. The observed result of each operation is compared against
// the recorded one; structural divergences abort the run, while leaf
// divergences are accumulated into the returned Summary.
type Replayer struct {
	Env

	files map[int64]afero.File // Open files, keyed on recorded handle.
}

// NewReplayer returns a Replayer of |env|.
func NewReplayer(env Env) *Replayer {
	return &Replayer{
		Env:   env,
		files: make(map[int64]afero.File),
	}
}

// Run replays |recs| and returns a Summary of the run. A returned error is
// fatal and leaves the mount root in the partially-applied state reached at
// that point; there is no rollback.
func (rp *Replayer) Run(ctx context.Context, recs []trace.Record) (*Summary, error) {
	defer rp.closeAll()

	if err := rp.checkSpaces(recs); err != nil {
		return nil, err
	}

	var summary = &Summary{}
	var started = time.Now()
	// The summary is reported even for runs which abort partway, so wall
	// time is captured on every return path.
	defer func() { summary.WallTime = time.Since(started) }()

	for _, r := range recs {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		var observed = rp.perform(r)
		summary.Ops++
		replayedOpsTotal.Inc()

		if !observed.Failed() {
			switch r.Op {
			case trace.OpRead:
				summary.ReadBytes += observed.Bytes
			case trace.OpWrite:
				summary.WrittenBytes += observed.Bytes
			}
		}

		if diverged(r, observed) {
			divergencesTotal.Inc()

			var d = Divergence{Record: r, Observed: observed}
			if r.Op.IsStructural() {
				return summary, &DivergenceError{Divergence: d}
			}
			log.WithFields(log.Fields{
				"seq":      r.SeqNo,
				"op":       r.Op.String(),
				"path":     r.Path,
				"recorded": r.Result.String(),
				"observed": observed.String(),
			}).Warn("replay divergence")
			summary.Divergences = append(summary.Divergences, d)
		}
	}

	if n := len(recs); n != 0 {
		summary.RecordedSpan = time.Duration(recs[n-1].Timestamp-recs[0].Timestamp) * time.Microsecond
	}
	return summary, nil
}

// perform dispatches on the record's operation kind and issues the
// corresponding filesystem call, returning the observed Result. The dispatch
// is exhaustive over OpKind: an unhandled kind is a programming error.
func (rp *Replayer) perform(r trace.Record) trace.Result {
	switch r.Op {
	case trace.OpMkdir:
		var err = rp.FS.Mkdir(rp.Rewrite(r.Path), mode(r, 0755))
		if err != nil && os.IsExist(err) {
			// Reconstruction pre-creates directories, so a replayed mkdir
			// finding its target in place is the expected outcome.
			err = nil
		}
		return asResult(err)

	case trace.OpCreate:
		var f, err = rp.FS.OpenFile(rp.Rewrite(r.Path), os.O_RDWR|os.O_CREATE, mode(r, 0644))
		if err != nil {
			return asResult(err)
		}
		return asResult(rp.retain(r.Handle, f))

	case trace.OpMknod:
		var f, err = rp.FS.OpenFile(rp.Rewrite(r.Path), os.O_RDWR|os.O_CREATE, mode(r, 0644))
		if err != nil {
			return asResult(err)
		}
		return asResult(f.Close())

	case trace.OpOpen:
		var f, err = rp.FS.OpenFile(rp.Rewrite(r.Path), accessMode(r.Flags), 0)
		if err != nil {
			return asResult(err)
		}
		return asResult(rp.retain(r.Handle, f))

	case trace.OpRead:
		var f, release, err = rp.fileFor(r)
		if err != nil {
			return asResult(err)
		}
		defer release()

		var n int
		n, err = f.ReadAt(make([]byte, r.Size), r.Offset)
		if err != nil && err != io.EOF {
			return asResult(err)
		}
		replayedBytesTotal.Add(float64(n))
		return trace.Result{Bytes: int64(n)}

	case trace.OpWrite:
		var f, release, err = rp.fileFor(r)
		if err != nil {
			return asResult(err)
		}
		defer release()

		var n int
		n, err = f.WriteAt(payload(r.SeqNo, r.Size), r.Offset)
		if err != nil {
			return asResult(err)
		}
		replayedBytesTotal.Add(float64(n))
		return trace.Result{Bytes: int64(n)}

	case trace.OpTruncate:
		var f, release, err = rp.fileFor(r)
		if err != nil {
			return asResult(err)
		}
		defer release()
		return asResult(f.Truncate(r.Size))

	case trace.OpFsync:
		var f, release, err = rp.fileFor(r)
		if err != nil {
			return asResult(err)
		}
		defer release()
		return asResult(f.Sync())

	case trace.OpRename:
		return asResult(rp.FS.Rename(rp.Rewrite(r.Path), rp.Rewrite(r.NewPath)))

	case trace.OpUnlink, trace.OpRmdir:
		return asResult(rp.FS.Remove(rp.Rewrite(r.Path)))

	case trace.OpStat:
		var _, err = rp.FS.Stat(rp.Rewrite(r.Path))
		return asResult(err)

	case trace.OpReadDir:
		var infos, err = afero.ReadDir(rp.FS, rp.Rewrite(r.Path))
		if err != nil {
			return asResult(err)
		}
		return trace.Result{Bytes: int64(len(infos))}

	case trace.OpUtimes:
		return asResult(rp.FS.Chtimes(rp.Rewrite(r.Path),
			time.UnixMicro(r.Offset), time.UnixMicro(r.Size)))

	case trace.OpClose:
		var f, ok = rp.files[r.Handle]
		if !ok {
			return trace.Result{Errno: "EBADF"}
		}
		delete(rp.files, r.Handle)
		return asResult(f.Close())

	default:
		log.WithFields(log.Fields{"seq": r.SeqNo, "op": int(r.Op)}).
			Panic("unhandled operation kind")
		return trace.Result{}
	}
}

// fileFor resolves the open file a content operation addresses. A non-zero
// recorded handle indexes the handle table, lazily opening and retaining the
// path if the handle is unknown (its open may predate the trace). A zero
// handle opens the path just for this operation.
func (rp *Replayer) fileFor(r trace.Record) (afero.File, func(), error) {
	if r.Handle != 0 {
		if f, ok := rp.files[r.Handle]; ok {
			return f, func() {}, nil
		}
		var f, err = rp.FS.OpenFile(rp.Rewrite(r.Path), os.O_RDWR, 0)
		if err != nil {
			return nil, nil, err
		}
		rp.files[r.Handle] = f
		return f, func() {}, nil
	}

	var f, err = rp.FS.OpenFile(rp.Rewrite(r.Path), os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// retain indexes |f| under a recorded handle, or closes it immediately if
// the record carried no handle.
func (rp *Replayer) retain(handle int64, f afero.File) error {
	if handle == 0 {
		return f.Close()
	}
	if prior, ok := rp.files[handle]; ok {
		// The recorder re-used a handle without an intervening close.
		_ = prior.Close()
	}
	rp.files[handle] = f
	return nil
}

func (rp *Replayer) closeAll() {
	for h, f := range rp.files {
		if err := f.Close(); err != nil {
			log.WithFields(log.Fields{"handle": h, "err": err}).
				Warn("failed to close replayed file")
		}
		delete(rp.files, h)
	}
}

// diverged compares a recorded result against the observed one. Failure
// classes must agree, and byte counts must agree for operations which
// transfer or enumerate.
func diverged(r trace.Record, observed trace.Result) bool {
	if r.Result.Failed() != observed.Failed() {
		return true
	} else if r.Result.Failed() {
		return errnoClass(r.Result.Errno) != observed.Errno
	}
	switch r.Op {
	case trace.OpRead, trace.OpWrite, trace.OpReadDir:
		return r.Result.Bytes != observed.Bytes
	}
	return false
}

func asResult(err error) trace.Result {
	return trace.Result{Errno: errnoName(err)}
}

// payload is the deterministic content written for a replayed write record.
// Content fidelity of replay is byte-count, not byte-value: the recorded
// workload's actual bytes are not captured by the trace.
func payload(seq, size int64) []byte {
	var b = make([]byte, size)
	for i := range b {
		b[i] = byte(seq + int64(i))
	}
	return b
}

func accessMode(flags int64) int {
	switch int(flags) & 0x3 { // O_ACCMODE
	case os.O_WRONLY:
		return os.O_WRONLY
	case os.O_RDWR:
		return os.O_RDWR
	default:
		// Opened read-only at record time, but later records may write
		// through this handle's path; O_RDWR keeps replay functional.
		return os.O_RDWR
	}
}

func mode(r trace.Record, def os.FileMode) os.FileMode {
	if r.Mode != 0 {
		return os.FileMode(r.Mode)
	}
	return def
}
