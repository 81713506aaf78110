package trace

import (
	"fmt"
	"strconv"
	"strings"
)

// Actor identifies the recording thread or process which produced a Record.
// Records of a single Actor form a total order which sorting must preserve.
type Actor uint32

// OpKind enumerates the closed set of recorded filesystem operations.
type OpKind int

const (
	OpInvalid OpKind = iota
	OpMkdir
	OpCreate
	OpMknod
	OpOpen
	OpRead
	OpWrite
	OpTruncate
	OpFsync
	OpRename
	OpUnlink
	OpRmdir
	OpStat
	OpReadDir
	OpUtimes
	OpClose
)

var kindNames = map[OpKind]string{
	OpMkdir:    "mkdir",
	OpCreate:   "create",
	OpMknod:    "mknod",
	OpOpen:     "open",
	OpRead:     "read",
	OpWrite:    "write",
	OpTruncate: "truncate",
	OpFsync:    "fsync",
	OpRename:   "rename",
	OpUnlink:   "unlink",
	OpRmdir:    "rmdir",
	OpStat:     "stat",
	OpReadDir:  "readdir",
	OpUtimes:   "utimes",
	OpClose:    "close",
}

var kindValues = func() map[string]OpKind {
	var m = make(map[string]OpKind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k OpKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("invalid(%d)", int(k))
}

// KindFromString maps the textual operation name of the trace encoding to
// its OpKind, or OpInvalid if the name is not recognized.
func KindFromString(s string) OpKind {
	return kindValues[s]
}

// IsCreation is true for operations which bring |Path| into existence.
func (k OpKind) IsCreation() bool {
	switch k {
	case OpMkdir, OpCreate, OpMknod:
		return true
	}
	return false
}

// IsStructural is true for operations whose failure invalidates records which
// depend on them. A replay divergence on a structural operation aborts the
// run, while divergences of leaf operations are accumulated and reported.
func (k OpKind) IsStructural() bool {
	switch k {
	case OpMkdir, OpCreate, OpMknod, OpRename, OpUnlink, OpRmdir, OpTruncate:
		return true
	}
	return false
}

// Result is the outcome of an operation: either a transferred byte count
// (zero for plain success), or a symbolic errno name such as "ENOENT".
type Result struct {
	Bytes int64
	Errno string
}

// Failed is true if the Result represents an operation failure.
func (r Result) Failed() bool { return r.Errno != "" }

func (r Result) String() string {
	if r.Errno != "" {
		return r.Errno
	}
	return strconv.FormatInt(r.Bytes, 10)
}

func parseResult(s string) (Result, error) {
	if s == "" {
		return Result{}, fmt.Errorf("empty result")
	}
	if s[0] == 'E' {
		return Result{Errno: s}, nil
	}
	var n, err = strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return Result{}, fmt.Errorf("result must be a non-negative count or errno name (%s)", s)
	}
	return Result{Bytes: n}, nil
}

// Record is one recorded filesystem operation of a trace.
type Record struct {
	// SeqNo is unique within a trace, monotonically assigned by the recorder.
	SeqNo int64
	// Timestamp is the logical capture time, in microseconds. It is the
	// primary sorting key; SeqNo breaks ties.
	Timestamp int64
	// Actor which recorded this operation.
	Actor Actor
	// Op is the operation kind.
	Op OpKind
	// Path of the operation, relative to the recorded mount root and
	// beginning with '/'. NewPath is the rename target, and is set only
	// for OpRename.
	Path    string
	NewPath string
	// Operation arguments. Fields not used by |Op| are zero. OpUtimes
	// carries atime and mtime (in microseconds) in Offset and Size.
	Offset int64
	Size   int64
	Mode   uint32
	Flags  int64
	// Handle correlates OpOpen / OpCreate with subsequent OpRead, OpWrite,
	// OpFsync and OpClose of the same open file. Zero means the operation
	// addresses its Path directly.
	Handle int64
	// Result observed at record time.
	Result Result
}

// Space returns the top-level path component of the Record's Path, which
// denotes the storage container the operation executed within.
func (r Record) Space() string { return SpaceOf(r.Path) }

// SpaceOf returns the top-level component of a trace path.
func SpaceOf(path string) string {
	var p = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(p, '/'); i != -1 {
		return p[:i]
	}
	return p
}

// Validate returns a structural error of the Record, if any. It checks only
// per-record constraints; cross-record ordering is the sorter's concern.
func (r Record) Validate() error {
	if r.SeqNo <= 0 {
		return fmt.Errorf("invalid SeqNo (%d; expected > 0)", r.SeqNo)
	} else if r.Timestamp < 0 {
		return fmt.Errorf("invalid Timestamp (%d; expected >= 0)", r.Timestamp)
	} else if _, ok := kindNames[r.Op]; !ok {
		return fmt.Errorf("invalid Op (%d)", int(r.Op))
	} else if err := validatePath(r.Path); err != nil {
		return fmt.Errorf("Path: %s", err)
	}

	switch r.Op {
	case OpRename:
		if err := validatePath(r.NewPath); err != nil {
			return fmt.Errorf("NewPath: %s", err)
		}
	default:
		if r.NewPath != "" {
			return fmt.Errorf("unexpected NewPath (%s; set only for rename)", r.NewPath)
		}
	}

	switch r.Op {
	case OpRead, OpWrite:
		if r.Offset < 0 {
			return fmt.Errorf("invalid Offset (%d; expected >= 0)", r.Offset)
		} else if r.Size < 0 {
			return fmt.Errorf("invalid Size (%d; expected >= 0)", r.Size)
		}
	case OpTruncate:
		if r.Size < 0 {
			return fmt.Errorf("invalid Size (%d; expected >= 0)", r.Size)
		}
	}
	return nil
}

func validatePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("cannot be empty")
	case p[0] != '/':
		return fmt.Errorf("must begin with '/' (%s)", p)
	case strings.Contains(p, "//"):
		return fmt.Errorf("must not contain empty components (%s)", p)
	case p != "/" && strings.HasSuffix(p, "/"):
		return fmt.Errorf("must not end in '/' (%s)", p)
	}
	for _, c := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if c == "." || c == ".." {
			return fmt.Errorf("must not contain '.' or '..' components (%s)", p)
		}
	}
	return nil
}
