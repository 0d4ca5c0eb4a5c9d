// Package gcs writes each record batch as one JSONL object in a Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

const contentType = "application/x-ndjson"

// Config selects the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Sink uploads batches to GCS.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	hasher crawler.Hasher
	seq    atomic.Int64
}

var _ crawler.Sink = (*Sink)(nil)

// New creates a GCS sink. The sink owns client and closes it on Close.
func New(client *storage.Client, cfg Config, hasher crawler.Hasher) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		hasher: hasher,
	}, nil
}

// Push uploads batch as {prefix}/{run_id}/{seq:06d}-{sha256}.jsonl. Empty
// batches are skipped.
func (s *Sink) Push(ctx context.Context, batch []crawler.Record) error {
	if len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(batch[i]); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	digest, err := s.hasher.Hash(buf.Bytes())
	if err != nil {
		return fmt.Errorf("hash batch: %w", err)
	}
	name := s.objectName(crawler.RunIDFrom(ctx), s.seq.Add(1), digest)

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(buf.Bytes()); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}
	return nil
}

func (s *Sink) objectName(runID string, seq int64, digest string) string {
	if runID == "" {
		runID = "unknown-run"
	}
	return path.Join(s.prefix, runID, fmt.Sprintf("%06d-%s.jsonl", seq, digest))
}

// Close releases the storage client.
func (s *Sink) Close() error {
	return s.client.Close()
}
