package scanner

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"golang.org/x/exp/mmap"
)

func readAllWithMode(t *testing.T, path, mode string, mmapMinSize int64) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	r, closeFn, err := contentReader(f, info, mode, mmapMinSize)
	if err != nil {
		t.Fatalf("%s: %v", mode, err)
	}
	defer closeFn()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("%s read: %v", mode, err)
	}
	return string(data)
}

func TestContentReaderModeParity(t *testing.T) {
	tmp, err := os.CreateTemp("", "content-reader-*.txt")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	defer os.Remove(tmp.Name())

	want := "hello mmap parity"
	if _, err := tmp.WriteString(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, mode := range []string{ReadModeStream, ReadModeMmap, ReadModeAuto} {
		if got := readAllWithMode(t, tmp.Name(), mode, 1); got != want {
			t.Fatalf("unexpected %s content: %q", mode, got)
		}
	}
}

func TestContentReaderAutoFallback(t *testing.T) {
	tmp, err := os.CreateTemp("", "content-fallback-*.txt")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString("fallback content"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	originalOpen := openMmapReader
	openMmapReader = func(string) (*mmap.ReaderAt, error) {
		return nil, errors.New("forced mmap failure")
	}
	defer func() { openMmapReader = originalOpen }()

	if got := readAllWithMode(t, tmp.Name(), ReadModeAuto, 1); got != "fallback content" {
		t.Fatalf("expected stream fallback content, got %q", got)
	}
}

func TestCtxReaderStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &ctxReader{ctx: ctx, r: zeroReader{}}
	buf := make([]byte, 8)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("unexpected error before cancel: %v", err)
	}
	cancel()
	if _, err := r.Read(buf); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
