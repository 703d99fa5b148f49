package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

func openLogFile(filename string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// RotatingWriter is a log file writer that rotates by size and removes
// rotated files older than maxAge days. It is safe for concurrent use.
type RotatingWriter struct {
	mu       sync.Mutex
	filename string
	maxSize  int64
	maxAge   int
	compress bool
	file     *os.File
	size     int64

	// compressions tracks background gzip jobs so Close can wait for them.
	compressions sync.WaitGroup
}

// NewRotatingWriter creates a rotating writer; maxSizeMB is in megabytes.
func NewRotatingWriter(filename string, maxSizeMB, maxAge int, compress bool) (*RotatingWriter, error) {
	return newRotatingWriter(filename, int64(maxSizeMB)*1024*1024, maxAge, compress)
}

func newRotatingWriter(filename string, maxBytes int64, maxAge int, compress bool) (*RotatingWriter, error) {
	file, err := openLogFile(filename)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	w := &RotatingWriter{
		filename: filename,
		maxSize:  maxBytes,
		maxAge:   maxAge,
		compress: compress,
		file:     file,
		size:     info.Size(),
	}
	w.cleanup()
	return w, nil
}

// Write appends p, rotating first when p would push the file past maxSize.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file and waits for pending compressions.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.compressions.Wait()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", w.filename, time.Now().Format("20060102-150405.000000000"))
	for i := 1; fileExists(rotated) || fileExists(rotated+".gz"); i++ {
		rotated = fmt.Sprintf("%s.%s-%d", w.filename, time.Now().Format("20060102-150405.000000000"), i)
	}
	if err := os.Rename(w.filename, rotated); err != nil {
		return err
	}

	if w.compress {
		w.compressions.Add(1)
		go func() {
			defer w.compressions.Done()
			_ = compressFile(rotated)
		}()
	}

	file, err := openLogFile(w.filename)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0

	w.cleanup()
	return nil
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

// cleanup removes rotated files older than maxAge days.
func (w *RotatingWriter) cleanup() {
	if w.maxAge <= 0 {
		return
	}

	files, err := filepath.Glob(w.filename + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.maxAge)
	for _, f := range files {
		if !strings.HasPrefix(filepath.Base(f), filepath.Base(w.filename)+".") {
			continue
		}
		info, err := os.Stat(f)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		_ = os.Remove(f)
	}
}
