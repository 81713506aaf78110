package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/iotrace/ioreplay/trace"
)

// Env binds a filesystem and mount root against which reconstruction and
// replay are performed. Spaces names top-level containers which are required
// to pre-exist; Env never creates or removes a space, only its interior.
type Env struct {
	FS     afero.Fs
	Root   string
	Spaces []string
}

// Rewrite translates a recorded trace path onto the mount root. It is pure
// prefix substitution: the recorded root ('/') is replaced by Root, and the
// path is never otherwise reinterpreted.
func (e Env) Rewrite(path string) string {
	return filepath.Join(e.Root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

// checkSpaces verifies the mount root exists, and that every declared space
// referenced by |recs| exists beneath it.
func (e Env) checkSpaces(recs []trace.Record) error {
	if ok, err := afero.DirExists(e.FS, e.Root); err != nil {
		return errors.WithMessagef(err, "checking mount root %s", e.Root)
	} else if !ok {
		return errors.Errorf("mount root %s does not exist", e.Root)
	}

	var declared = make(map[string]struct{}, len(e.Spaces))
	for _, s := range e.Spaces {
		declared[s] = struct{}{}
	}
	var checked = make(map[string]struct{})

	for _, r := range recs {
		for _, p := range []string{r.Path, r.NewPath} {
			if p == "" {
				continue
			}
			var space = trace.SpaceOf(p)
			if _, ok := declared[space]; !ok {
				continue
			} else if _, ok = checked[space]; ok {
				continue
			}
			checked[space] = struct{}{}

			if ok, err := afero.DirExists(e.FS, filepath.Join(e.Root, space)); err != nil {
				return errors.WithMessagef(err, "checking space %q", space)
			} else if !ok {
				return &MissingSpaceError{Space: space, Root: e.Root}
			}
		}
	}
	return nil
}

// EnvStats summarizes a reconstruction pass.
type EnvStats struct {
	Dirs, Files   int
	PresizedBytes int64
}

// Reconstruct materializes the directory and file skeleton which the sorted
// |recs| presuppose, under the Env's mount root: explicitly created
// directories and files, plus files and directories the trace references
// without creating (they pre-existed at record time). Files are pre-sized to
// the largest extent implied by later reads, writes and truncates; their
// byte content is left to the replayer.
//
// Reconstruct is idempotent: pre-existence of its own creation targets is
// success, not error, so a run may be safely repeated after interruption.
func (e Env) Reconstruct(ctx context.Context, recs []trace.Record) (EnvStats, error) {
	var stats EnvStats

	if err := e.checkSpaces(recs); err != nil {
		return stats, err
	}

	var extents = scanExtents(recs)
	var dirs = scanDirs(recs)
	var known = make(map[string]struct{})

	var mkdir = func(r trace.Record, p string) error {
		if err := e.FS.MkdirAll(e.Rewrite(p), os.FileMode(0755)); err != nil {
			return &EnvironmentError{Record: r, Err: err}
		}
		known[p] = struct{}{}
		stats.Dirs++
		reconstructedNodesTotal.Inc()
		return nil
	}
	var mkfile = func(r trace.Record, p string) error {
		if err := e.FS.MkdirAll(filepath.Dir(e.Rewrite(p)), os.FileMode(0755)); err != nil {
			return &EnvironmentError{Record: r, Err: err}
		}
		var f, err = e.FS.OpenFile(e.Rewrite(p), os.O_WRONLY|os.O_CREATE, os.FileMode(0644))
		if err != nil && !os.IsExist(err) {
			return &EnvironmentError{Record: r, Err: err}
		}
		if extent := extents[p]; f != nil && extent > 0 {
			if info, err2 := f.Stat(); err2 == nil && info.Size() < extent {
				if err2 = f.Truncate(extent); err2 != nil {
					_ = f.Close()
					return &EnvironmentError{Record: r, Err: err2}
				}
				stats.PresizedBytes += extent
			}
		}
		if f != nil {
			if err = f.Close(); err != nil {
				return &EnvironmentError{Record: r, Err: err}
			}
		}
		known[p] = struct{}{}
		stats.Files++
		reconstructedNodesTotal.Inc()
		return nil
	}
	// materialize |p| if the trace hasn't already established it.
	var ensure = func(r trace.Record, p string) error {
		if _, ok := known[p]; ok {
			return nil
		}
		if _, ok := dirs[p]; ok {
			return mkdir(r, p)
		}
		return mkfile(r, p)
	}

	for _, r := range recs {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		if r.Result.Failed() {
			// The recorded operation failed, and presupposes nothing.
			continue
		}

		var err error
		switch r.Op {
		case trace.OpMkdir:
			err = mkdir(r, r.Path)
		case trace.OpCreate, trace.OpMknod:
			err = mkfile(r, r.Path)
		case trace.OpRename:
			// The source must exist to be renamed. The physical rename is
			// replay's to perform, but the source's subtree is re-keyed to
			// the target name now, so that later records referencing the
			// post-rename paths aren't spuriously materialized (which would
			// leave the replayed rename landing on an existing directory).
			if err = ensure(r, r.Path); err == nil {
				var moved []string
				for p := range known {
					if p == r.Path || strings.HasPrefix(p, r.Path+"/") {
						moved = append(moved, p)
					}
				}
				for _, p := range moved {
					delete(known, p)
					known[r.NewPath+p[len(r.Path):]] = struct{}{}
				}
			}
		case trace.OpClose:
			// An earlier open or create already established the path.
		default:
			err = ensure(r, r.Path)
		}
		if err != nil {
			return stats, err
		}
	}

	log.WithFields(log.Fields{
		"root":  e.Root,
		"dirs":  stats.Dirs,
		"files": stats.Files,
	}).Info("reconstructed environment")
	return stats, nil
}

// scanExtents determines, per path, the largest file extent implied by read,
// write and truncate records. It's a best-effort pre-sizing signal: paths
// renamed mid-trace contribute extents under their recorded names only.
func scanExtents(recs []trace.Record) map[string]int64 {
	var extents = make(map[string]int64)
	for _, r := range recs {
		var extent int64
		switch r.Op {
		case trace.OpRead, trace.OpWrite:
			extent = r.Offset + r.Size
		case trace.OpTruncate:
			extent = r.Size
		default:
			continue
		}
		if extent > extents[r.Path] {
			extents[r.Path] = extent
		}
	}
	return extents
}

// scanDirs collects paths the trace uses as directories: targets of
// directory operations, and every parent of a referenced path.
func scanDirs(recs []trace.Record) map[string]struct{} {
	var dirs = make(map[string]struct{})
	var addParents = func(p string) {
		for {
			var i = strings.LastIndexByte(p, '/')
			if i <= 0 {
				return
			}
			p = p[:i]
			dirs[p] = struct{}{}
		}
	}
	for _, r := range recs {
		switch r.Op {
		case trace.OpMkdir, trace.OpRmdir, trace.OpReadDir:
			dirs[r.Path] = struct{}{}
		}
		addParents(r.Path)
		if r.NewPath != "" {
			addParents(r.NewPath)
		}
	}
	return dirs
}
