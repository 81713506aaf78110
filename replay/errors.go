package replay

import (
	"fmt"
	"os"

	"github.com/iotrace/ioreplay/trace"
)

// MissingSpaceError reports that a top-level storage container referenced by
// the trace does not exist at the mount root. Spaces are required to
// pre-exist and are never created by this engine, so a missing one
// invalidates the precondition the whole replay depends upon.
type MissingSpaceError struct {
	Space string
	Root  string
}

func (e *MissingSpaceError) Error() string {
	return fmt.Sprintf("space %q does not exist under mount root %s", e.Space, e.Root)
}

// EnvironmentError reports a failure to create a directory or file during
// reconstruction, for a reason other than pre-existence. It's fatal: later
// records depend on the structure being in place.
type EnvironmentError struct {
	Record trace.Record
	Err    error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("record %d (%s %s): %s", e.Record.SeqNo, e.Record.Op, e.Record.Path, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// Divergence captures a replayed operation whose observed result differs
// from the recorded one.
type Divergence struct {
	Record   trace.Record
	Observed trace.Result
}

func (d Divergence) String() string {
	return fmt.Sprintf("record %d (%s %s): recorded %s, observed %s",
		d.Record.SeqNo, d.Record.Op, d.Record.Path, d.Record.Result, d.Observed)
}

// DivergenceError is a Divergence of a structural operation, which aborts
// the replay: records which follow depend upon its recorded outcome.
type DivergenceError struct {
	Divergence
}

func (e *DivergenceError) Error() string {
	return "structural divergence: " + e.Divergence.String()
}

// errnoName classifies an error of a replayed filesystem call into the
// symbolic errno vocabulary of trace.Result. Comparison against recorded
// results is by failure class, not exact kernel errno.
// errnoClass folds a recorded symbolic errno into the same vocabulary. The
// trace format admits any errno name, and the kernel errno a recorded call
// observed is often finer-grained than the class errnoName reports. The
// folding mirrors how the os package classifies errnos: ENOTDIR reads as
// not-exist, ENOTEMPTY as exists, EPERM as permission.
func errnoClass(errno string) string {
	switch errno {
	case "", "ENOENT", "EEXIST", "EACCES", "EIO":
		return errno
	case "ENOTDIR":
		return "ENOENT"
	case "ENOTEMPTY":
		return "EEXIST"
	case "EPERM":
		return "EACCES"
	default:
		return "EIO"
	}
}

func errnoName(err error) string {
	switch {
	case err == nil:
		return ""
	case os.IsNotExist(err):
		return "ENOENT"
	case os.IsExist(err):
		return "EEXIST"
	case os.IsPermission(err):
		return "EACCES"
	default:
		return "EIO"
	}
}
