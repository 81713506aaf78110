package trace

import (
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Trace files may be stored compressed. The codec is keyed off the file
// suffix: ".gz" selects gzip, ".sz" selects framed snappy, and any other
// suffix selects no compression.

// decompressor is a ReadCloser where Close releases codec state but does not
// Close or otherwise affect the underlying Reader.
type decompressor io.ReadCloser

// compressor is a WriteCloser where Close flushes final content to the
// underlying Writer without closing it.
type compressor io.WriteCloser

func newCodecReader(r io.Reader, path string) (decompressor, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(path, ".sz"):
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

func newCodecWriter(w io.Writer, path string) compressor {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return gzip.NewWriter(w)
	case strings.HasSuffix(path, ".sz"):
		return snappy.NewBufferedWriter(w)
	default:
		return nopWriteCloser{w}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
