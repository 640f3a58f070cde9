// Package storage holds uploads and routine outputs on local disk and can
// optionally publish finished outputs to S3.
package storage

import (
	"context"
	"io"
)

// Storage is the port used by intake and the processing service.
type Storage interface {
	// SaveTemp writes data to a uniquely named temporary file. The file
	// name starts with prefix and ends with ext (including the dot).
	SaveTemp(ctx context.Context, prefix, ext string, data io.Reader) (path string, err error)

	// Open opens a previously written temporary file for reading.
	// The caller closes the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the given files, continuing past failures.
	// Missing files are not an error.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish uploads a finished output and returns its URL.
	// Returns ErrPublishNotConfigured when no remote store is set up.
	Publish(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)

	// CanPublish reports whether Publish is backed by a remote store.
	CanPublish() bool
}
