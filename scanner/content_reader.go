package scanner

import (
	"context"
	"io"
	"os"
	"strings"

	"golang.org/x/exp/mmap"
)

const (
	ReadModeAuto   = "auto"
	ReadModeStream = "stream"
	ReadModeMmap   = "mmap"

	defaultMmapMinSize = 128 * 1024
)

var openMmapReader = mmap.Open

// contentReader returns a reader over the content of file. In mmap mode the
// file is mapped by name, so a rename between open and map is not detected.
func contentReader(file *os.File, info os.FileInfo, mode string, mmapMinSize int64) (io.Reader, func() error, error) {
	if mmapMinSize <= 0 {
		mmapMinSize = defaultMmapMinSize
	}
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ReadModeMmap:
		return mmapContent(file.Name())
	case ReadModeAuto, "":
		if info.Size() >= mmapMinSize {
			if r, closeFn, err := mmapContent(file.Name()); err == nil {
				return r, closeFn, nil
			}
		}
		return file, noop, nil
	default:
		return file, noop, nil
	}
}

func mmapContent(path string) (io.Reader, func() error, error) {
	r, err := openMmapReader(path)
	if err != nil {
		return nil, nil, err
	}
	return io.NewSectionReader(r, 0, int64(r.Len())), r.Close, nil
}

// ctxReader fails the next Read once ctx is done. A single blocked read is
// not interrupted.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
