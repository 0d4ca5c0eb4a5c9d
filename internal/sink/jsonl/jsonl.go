// Package jsonl appends records to a local file, one JSON object per line.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

// Sink writes records to a JSON Lines file.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	path string
}

var _ crawler.Sink = (*Sink)(nil)

// New opens path for appending, creating parent directories as needed.
func New(path string) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("jsonl path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	buf := bufio.NewWriter(file)
	return &Sink{file: file, buf: buf, enc: json.NewEncoder(buf), path: path}, nil
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// Push writes batch and flushes it to the file.
func (s *Sink) Push(ctx context.Context, batch []crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("jsonl sink %s is closed", s.path)
	}
	for i := range batch {
		if err := s.enc.Encode(batch[i]); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the file. Further pushes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", s.path, flushErr)
	}
	return closeErr
}
