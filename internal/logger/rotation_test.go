package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rotatedFiles(t *testing.T, filename string) []string {
	t.Helper()
	files, err := filepath.Glob(filename + ".*")
	require.NoError(t, err)
	return files
}

func TestNewRotatingWriter(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "recall.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(filename), 0755))
	require.NoError(t, os.WriteFile(filename, []byte("existing\n"), 0644))

	w, err := NewRotatingWriter(filename, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, int64(1024*1024), w.maxSize)
	assert.Equal(t, int64(len("existing\n")), w.size)
}

func TestRotatingWriter_Rotation(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "recall.log")

	w, err := newRotatingWriter(filename, 16, 0, false)
	require.NoError(t, err)

	_, err = w.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	assert.Empty(t, rotatedFiles(t, filename))

	_, err = w.Write([]byte("abcdefghij\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rotated := rotatedFiles(t, filename)
	require.Len(t, rotated, 1)

	old, err := os.ReadFile(rotated[0])
	require.NoError(t, err)
	assert.Equal(t, "0123456789\n", string(old))

	current, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij\n", string(current))
}

func TestRotatingWriter_OversizedWriteOnEmptyFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "recall.log")

	w, err := newRotatingWriter(filename, 4, 0, false)
	require.NoError(t, err)

	_, err = w.Write([]byte("longer than four bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Empty(t, rotatedFiles(t, filename))
}

func TestRotatingWriter_Compress(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "recall.log")

	w, err := newRotatingWriter(filename, 8, 0, true)
	require.NoError(t, err)

	_, err = w.Write([]byte("first line\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rotated := rotatedFiles(t, filename)
	require.Len(t, rotated, 1)
	require.True(t, strings.HasSuffix(rotated[0], ".gz"))

	f, err := os.Open(rotated[0])
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "first line\n", string(data))
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "recall.log")

	w, err := newRotatingWriter(filename, 64, 0, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = w.Write([]byte("concurrent line\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	total := 0
	for _, f := range append(rotatedFiles(t, filename), filename) {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		total += strings.Count(string(data), "concurrent line\n")
	}
	assert.Equal(t, 160, total)
}

func TestRotatingWriter_CloseTwice(t *testing.T) {
	w, err := newRotatingWriter(filepath.Join(t.TempDir(), "recall.log"), 1024, 0, false)
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestRotatingWriter_CleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "recall.log")

	stale := filename + ".20200101-000000.000000000.gz"
	fresh := filename + ".20990101-000000.000000000"
	unrelated := filepath.Join(dir, "other.log.1")
	for _, f := range []string{stale, fresh, unrelated} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	}
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	w, err := newRotatingWriter(filename, 1024, 7, false)
	require.NoError(t, err)
	defer w.Close()

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated)
}
