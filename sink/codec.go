package sink

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec is the compressed-stream container of an archive file, selected
// solely by file name suffix.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
)

// CodecFor maps ".gz" to gzip and ".zst" to zstd.
func CodecFor(path string) Codec {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return CodecGzip
	case strings.HasSuffix(lower, ".zst"):
		return CodecZstd
	default:
		return CodecNone
	}
}

func (c Codec) newWriter(w io.Writer) (flushWriteCloser, error) {
	switch c {
	case CodecGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CodecZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	default:
		return nil, fmt.Errorf("codec %q has no encoder", c)
	}
}

// NewReader wraps r with the decoder for c. Concatenated gzip members and
// zstd frames, as produced by repeated runs, are read as one stream.
func (c Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecGzip:
		return gzip.NewReader(r)
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}
