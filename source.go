package cog

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/osio"
)

// Source is the byte source a Cog is opened from: a local file, an HTTP/GCS
// byte-range reader, or an in-memory buffer.
type Source interface {
	io.ReaderAt
	// Size returns the total size of the underlying data; Open uses it to
	// cap the initial prefetch read.
	Size() (int64, error)
}

// MemorySource is a Source backed by an in-memory buffer, useful for tests
// and for callers who have already fetched a COG's bytes.
type MemorySource struct {
	buf []byte
}

// NewMemorySource wraps buf as a Source. buf is not copied.
func NewMemorySource(buf []byte) *MemorySource {
	return &MemorySource{buf: buf}
}

func (m *MemorySource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemorySource) Size() (int64, error) {
	return int64(len(m.buf)), nil
}

// FileSource is a Source backed by an *os.File.
type FileSource struct {
	f *os.File
}

// NewFileSource wraps an already-open *os.File. The caller retains
// ownership and must close it after the last ReadTile.
func NewFileSource(f *os.File) *FileSource {
	return &FileSource{f: f}
}

func (f *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *FileSource) Size() (int64, error) {
	st, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// RangeSource adapts an *osio.Reader — an HTTP/GCS byte-range reader — to
// Source, for remote COG access.
type RangeSource struct {
	r *osio.Reader
}

// NewRangeSource wraps an *osio.Reader opened by the caller (e.g. against
// an osio.GCSHandler or osio.HTTPHandler backend).
func NewRangeSource(r *osio.Reader) *RangeSource {
	return &RangeSource{r: r}
}

func (r *RangeSource) ReadAt(p []byte, off int64) (int, error) {
	return r.r.ReadAt(p, off)
}

func (r *RangeSource) Size() (int64, error) {
	return r.r.Size(), nil
}

// GCSSource is a Source that performs byte-range reads directly against a
// Google Cloud Storage object via cloud.google.com/go/storage, for callers
// who want to open a COG straight from a gs:// URI without going through
// osio.
type GCSSource struct {
	ctx    context.Context
	object *storage.ObjectHandle
	size   int64
}

// NewGCSSource opens a GCSSource against bucket/object. It performs one
// Attrs() call to learn the object size up front.
func NewGCSSource(ctx context.Context, client *storage.Client, bucket, object string) (*GCSSource, error) {
	obj := client.Bucket(bucket).Object(object)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("cog: stat gs://%s/%s: %w", bucket, object, err)
	}
	return &GCSSource{ctx: ctx, object: obj, size: attrs.Size}, nil
}

func (g *GCSSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= g.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if off+length > g.size {
		length = g.size - off
	}
	rc, err := g.object.NewRangeReader(g.ctx, off, length)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.ReadFull(rc, p[:length])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (g *GCSSource) Size() (int64, error) {
	return g.size, nil
}
