package trace

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// appendRecord marshals |r| in the canonical trace encoding. The encoding is
// byte-stable: marshalling identical Records always yields identical text,
// which WriteFile relies upon to make sorting idempotent.
func appendRecord(b []byte, r Record) []byte {
	b = strconv.AppendInt(b, r.SeqNo, 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, r.Timestamp, 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(r.Actor), 10)
	b = append(b, ',')
	b = append(b, r.Op.String()...)
	b = append(b, ',')
	b = append(b, r.Path...)
	b = append(b, ',')
	b = append(b, r.NewPath...)
	b = append(b, ',')
	b = strconv.AppendInt(b, r.Offset, 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, r.Size, 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(r.Mode), 8)
	b = append(b, ',')
	b = strconv.AppendInt(b, r.Flags, 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, r.Handle, 10)
	b = append(b, ',')
	b = append(b, r.Result.String()...)
	return append(b, '\n')
}

// Write writes the canonical trace encoding of |recs| to |w|.
func Write(w io.Writer, recs []Record) error {
	var bw = bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return err
	}
	var scratch []byte
	for _, r := range recs {
		scratch = appendRecord(scratch[:0], r)
		if _, err := bw.Write(scratch); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile atomically replaces the trace file at |path| with the canonical
// encoding of |recs|. The new content is written to a sibling temporary file
// which is renamed over |path| only after a successful close, so a crash
// mid-write never leaves a truncated trace in place.
func WriteFile(path string, recs []Record) error {
	var next = nextPath(path)

	var f, err = os.OpenFile(next, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WithMessage(err, "creating next trace")
	}

	var enc = newCodecWriter(f, path)
	if err = Write(enc, recs); err == nil {
		err = errors.WithMessage(enc.Close(), "closing codec")
	}
	if err2 := f.Close(); err == nil {
		err = errors.WithMessage(err2, "closing next trace")
	}
	if err != nil {
		_ = os.Remove(next)
		return err
	}
	if err = os.Rename(next, path); err != nil {
		_ = os.Remove(next)
		return errors.WithMessage(err, "renaming next => current")
	}
	return nil
}

// nextPath places the staged rewrite next to |path|, preserving a
// compression suffix so the staged file selects the same codec.
func nextPath(path string) string {
	for _, s := range []string{".gz", ".sz"} {
		if strings.HasSuffix(path, s) {
			return strings.TrimSuffix(path, s) + ".next" + s
		}
	}
	return path + ".next"
}
