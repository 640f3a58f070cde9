// Package intake turns an uploaded file into a temporary path that the
// processing routines can read, and removes it again afterwards.
package intake

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/vidsuite/internal/storage"
)

// Static errors for intake.
var (
	// ErrUnsupportedExtension is returned for names outside the accepted containers.
	ErrUnsupportedExtension = errors.New("unsupported file type")
	// ErrIntake is returned when the upload cannot be persisted.
	ErrIntake = errors.New("could not store upload")
)

// Extensions lists the accepted upload extensions, without the dot.
var Extensions = []string{"mp4", "mov", "avi"}

// DefaultExt is used for the temporary file when sniffing is inconclusive.
const DefaultExt = ".mp4"

// sniffLen is how many leading bytes are inspected for the container type.
const sniffLen = 3072

// UploadedMedia is an upload persisted to a temporary file.
type UploadedMedia struct {
	// Path is the temporary file the routines read.
	Path string
	// Basename is the original file name without its last extension.
	Basename string
	// Ext is the extension of the temporary file, including the dot.
	Ext string
	// Size is the number of bytes written.
	Size int64

	mu        sync.Mutex
	artifacts []string
}

// Track registers a file produced from this upload so Release removes it too.
func (m *UploadedMedia) Track(path string) {
	if path == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, path)
}

// Artifacts returns the tracked output paths.
func (m *UploadedMedia) Artifacts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.artifacts)
}

// Intake persists uploads through a Storage.
type Intake struct {
	store  storage.Storage
	logger *slog.Logger
}

// New returns an Intake writing to store.
func New(store storage.Storage, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{store: store, logger: logger}
}

// CheckName reports whether originalName has an accepted extension.
func CheckName(originalName string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(originalName)), ".")
	if !slices.Contains(Extensions, ext) {
		return fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedExtension, originalName, strings.Join(Extensions, ", "))
	}
	return nil
}

// Basename strips directories and the last extension from name.
func Basename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ingest copies r to a new temporary file. The file extension follows the
// sniffed container, falling back to DefaultExt.
func (in *Intake) Ingest(ctx context.Context, r io.Reader, originalName string) (*UploadedMedia, error) {
	if err := CheckName(originalName); err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("%w: read upload: %v", ErrIntake, err)
	}
	ext := SniffExt(head)

	counter := &countingReader{r: br}
	path, err := in.store.SaveTemp(ctx, "upload", ext, counter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntake, err)
	}

	in.logger.Debug("upload stored",
		slog.String("name", originalName),
		slog.String("path", path),
		slog.Int64("bytes", counter.n),
	)

	return &UploadedMedia{
		Path:     path,
		Basename: Basename(originalName),
		Ext:      ext,
		Size:     counter.n,
	}, nil
}

// Release removes the upload and every tracked artifact. Failures are
// logged and otherwise ignored.
func (in *Intake) Release(ctx context.Context, m *UploadedMedia) {
	if m == nil {
		return
	}
	paths := append([]string{m.Path}, m.Artifacts()...)
	if err := in.store.CleanupTemp(ctx, paths); err != nil {
		in.logger.Debug("cleanup failed", slog.String("error", err.Error()))
	}
}

// SniffExt maps the leading bytes of a file to a container extension.
func SniffExt(head []byte) string {
	mt := mimetype.Detect(head)
	for ; mt != nil; mt = mt.Parent() {
		switch {
		case mt.Is("video/mp4"):
			return ".mp4"
		case mt.Is("video/quicktime"):
			return ".mov"
		case mt.Is("video/x-msvideo"):
			return ".avi"
		}
	}
	return DefaultExt
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
