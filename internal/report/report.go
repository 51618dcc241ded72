// Package report writes tabular job artifacts to blob storage.
package report

import "context"

// Writer persists one table as an artifact and returns its URI.
type Writer interface {
	WriteTabular(ctx context.Context, path string, header []string, rows [][]string) (string, error)
}
