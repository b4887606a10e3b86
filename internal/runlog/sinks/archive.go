package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
)

// BlobStore persists one object.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Archive writes each batch as one NDJSON object named after the run label.
type Archive struct {
	name   string
	store  BlobStore
	prefix string
}

// NewArchive returns an archive sink reported under name (gcs, file, memory).
func NewArchive(name string, store BlobStore, prefix string) (*Archive, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	return &Archive{name: name, store: store, prefix: strings.Trim(prefix, "/")}, nil
}

// Name implements runlog.Sink.
func (a *Archive) Name() string { return a.name }

// ObjectPath returns where label is stored.
func (a *Archive) ObjectPath(label string) string {
	if a.prefix == "" {
		return label + ".ndjson"
	}
	return path.Join(a.prefix, label+".ndjson")
}

// Write implements runlog.Sink.
func (a *Archive) Write(ctx context.Context, batch runlog.Batch) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range batch.Rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if _, err := a.store.PutObject(ctx, a.ObjectPath(batch.Label), "application/x-ndjson", &buf); err != nil {
		return fmt.Errorf("store %s archive: %w", a.name, err)
	}
	return nil
}
