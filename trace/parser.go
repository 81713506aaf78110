package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Header is the first line of every trace file, naming its columns.
const Header = "seq,timestamp,actor,op,path,new_path,offset,size,mode,flags,handle,result"

var numFields = len(strings.Split(Header, ","))

// MalformedRecordError is a structural fault of a trace file. It names the
// offending line and the violated field constraint. Parsing never skips a
// malformed record: the first fault aborts the parse.
type MalformedRecordError struct {
	Line   int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
}

func malformedf(line int, f string, args ...interface{}) error {
	return &MalformedRecordError{Line: line, Reason: fmt.Sprintf(f, args...)}
}

// ParseFile reads the trace file at |path| and returns its Records in file
// order. It performs no path rewriting and no ordering inference. Files
// suffixed ".gz" or ".sz" are transparently decompressed.
func ParseFile(path string) ([]Record, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "opening trace")
	}
	defer f.Close()

	dec, err := newCodecReader(f, path)
	if err != nil {
		return nil, errors.WithMessage(err, "initializing codec")
	}
	defer dec.Close()

	recs, err := Parse(dec)
	return recs, errors.WithMessagef(err, "parsing %s", path)
}

// Parse reads an uncompressed trace encoding from |r| and returns its
// Records in encounter order.
func Parse(r io.Reader) ([]Record, error) {
	var br = bufio.NewScanner(r)
	br.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !br.Scan() {
		if err := br.Err(); err != nil {
			return nil, err
		}
		return nil, malformedf(1, "missing header line")
	} else if h := br.Text(); h != Header {
		return nil, malformedf(1, "unexpected header (%s)", h)
	}

	var recs []Record
	for line := 2; br.Scan(); line++ {
		var rec, err = parseLine(br.Text(), line)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
		recordsParsedTotal.Inc()
	}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(text string, line int) (Record, error) {
	var fields = strings.Split(text, ",")
	if len(fields) != numFields {
		return Record{}, malformedf(line, "expected %d fields, got %d", numFields, len(fields))
	}

	var rec Record
	var err error

	if rec.SeqNo, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return Record{}, malformedf(line, "seq is not numeric (%s)", fields[0])
	}
	if rec.Timestamp, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return Record{}, malformedf(line, "timestamp is not numeric (%s)", fields[1])
	}
	var actor uint64
	if actor, err = strconv.ParseUint(fields[2], 10, 32); err != nil {
		return Record{}, malformedf(line, "actor is not numeric (%s)", fields[2])
	}
	rec.Actor = Actor(actor)

	if rec.Op = KindFromString(fields[3]); rec.Op == OpInvalid {
		return Record{}, malformedf(line, "unrecognized operation kind (%s)", fields[3])
	}
	rec.Path, rec.NewPath = fields[4], fields[5]

	var ints = []struct {
		name string
		into *int64
		text string
	}{
		{"offset", &rec.Offset, fields[6]},
		{"size", &rec.Size, fields[7]},
		{"flags", &rec.Flags, fields[9]},
		{"handle", &rec.Handle, fields[10]},
	}
	for _, c := range ints {
		if *c.into, err = strconv.ParseInt(c.text, 10, 64); err != nil {
			return Record{}, malformedf(line, "%s is not numeric (%s)", c.name, c.text)
		}
	}
	var mode uint64
	if mode, err = strconv.ParseUint(fields[8], 8, 32); err != nil {
		return Record{}, malformedf(line, "mode is not octal (%s)", fields[8])
	}
	rec.Mode = uint32(mode)

	if rec.Result, err = parseResult(fields[11]); err != nil {
		return Record{}, malformedf(line, "%s", err)
	}

	if err = rec.Validate(); err != nil {
		return Record{}, malformedf(line, "%s", err)
	}
	return rec, nil
}
