package sink

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/maildir-archiver/model"
)

func readArchive(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := CodecFor(path).NewReader(f)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestCodecFor(t *testing.T) {
	assert.Equal(t, CodecGzip, CodecFor("/var/mail/archive.mbox.gz"))
	assert.Equal(t, CodecGzip, CodecFor("ARCHIVE.GZ"))
	assert.Equal(t, CodecZstd, CodecFor("archive.zst"))
	assert.Equal(t, CodecNone, CodecFor("archive.mbox"))
	assert.Equal(t, CodecNone, CodecFor("archive.gzip"))
}

func TestDiscard(t *testing.T) {
	var d Discard
	require.NoError(t, d.Write(context.Background(), model.Descriptor{ID: "x"}, []byte("data")))
	require.NoError(t, d.Close())
}

func TestFile_AppendsWithoutTruncating(t *testing.T) {
	for _, name := range []string{"archive.mbox", "archive.mbox.gz", "archive.mbox.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			ctx := context.Background()

			// Two runs, each finalizing its own compressed stream.
			first, err := OpenFile(path)
			require.NoError(t, err)
			require.NoError(t, first.Write(ctx, model.Descriptor{ID: "1"}, []byte("From a\nmessage one\n\n")))
			require.NoError(t, first.Close())

			second, err := OpenFile(path)
			require.NoError(t, err)
			require.NoError(t, second.Write(ctx, model.Descriptor{ID: "2"}, []byte("From b\nmessage two\n\n")))
			require.NoError(t, second.Write(ctx, model.Descriptor{ID: "3"}, []byte("From c\nmessage three\n\n")))
			require.NoError(t, second.Close())

			assert.Equal(t, "From a\nmessage one\n\nFrom b\nmessage two\n\nFrom c\nmessage three\n\n", readArchive(t, path))
		})
	}
}

func TestFile_WriteReachesFileBeforeClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.mbox.gz")
	s, err := OpenFile(path)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	before := info.Size()

	require.NoError(t, s.Write(context.Background(), model.Descriptor{ID: "1"}, []byte("payload")))

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), before, "compressed bytes should be flushed on every write")
}

func TestFile_CloseTwiceAndWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.mbox")
	s, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Error(t, s.Write(context.Background(), model.Descriptor{ID: "1"}, []byte("late")))
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile("  ")
	assert.Error(t, err)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing-dir", "archive.mbox"))
	assert.Error(t, err)
}
