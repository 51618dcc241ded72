package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/siteminer/siteminer/internal/storage"
)

// CSVWriter renders tables as RFC 4180 CSV and persists them through a
// blob store.
type CSVWriter struct {
	store storage.BlobStore
}

var _ Writer = (*CSVWriter)(nil)

// NewCSVWriter constructs a CSVWriter over the given blob store.
func NewCSVWriter(store storage.BlobStore) *CSVWriter {
	return &CSVWriter{store: store}
}

// WriteTabular encodes the header and rows as CSV and uploads the result,
// returning the artifact's URI.
func (w *CSVWriter) WriteTabular(ctx context.Context, path string, header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	enc := csv.NewWriter(&buf)
	if err := enc.Write(header); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	if err := enc.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write rows: %w", err)
	}

	uri, err := w.store.PutObject(ctx, path, "text/csv", &buf)
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return uri, nil
}
