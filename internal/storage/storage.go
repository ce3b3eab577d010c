// Package storage defines the interface for an artifact storage provider.
// This abstraction keeps the archiver independent of a specific backend
// (Google Cloud Storage or the local filesystem).
package storage

import (
	"context"
	"fmt"
)

// Content types for the artifact formats the archiver produces.
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypePDF      = "application/pdf"
	ContentTypeHTML     = "text/html; charset=utf-8"
)

// Provider persists one artifact per call and reports where it landed.
type Provider interface {
	// Save writes data under objectName and returns the artifact's URI.
	Save(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// NoOp is a storage provider that discards everything. It is useful for
// dry runs where content is fetched but not kept.
type NoOp struct{}

// Save does nothing and reports a noop URI.
func (NoOp) Save(_ context.Context, objectName, _ string, _ []byte) (string, error) {
	return fmt.Sprintf("noop://%s", objectName), nil
}
