// Package sink fans accepted record batches out to the configured sinks.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/metrics"
)

// Named pairs a sink with the label used in logs and metrics.
type Named struct {
	Name string
	Sink crawler.Sink
}

// Multi pushes every batch to each sink in registration order and stops at
// the first failure. Batches already accepted by earlier sinks stay there.
type Multi struct {
	sinks  []Named
	logger *zap.Logger
}

var _ crawler.Sink = (*Multi)(nil)

// NewMulti creates a Multi over sinks.
func NewMulti(logger *zap.Logger, sinks ...Named) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{sinks: sinks, logger: logger}
}

// Push implements crawler.Sink.
func (m *Multi) Push(ctx context.Context, batch []crawler.Record) error {
	for _, s := range m.sinks {
		err := s.Sink.Push(ctx, batch)
		metrics.ObserveSinkPush(s.Name, err)
		if err != nil {
			return fmt.Errorf("%s sink: %w", s.Name, err)
		}
		m.logger.Debug("batch pushed", zap.String("sink", s.Name), zap.Int("records", len(batch)))
	}
	return nil
}

// Names lists the registered sinks.
func (m *Multi) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name)
	}
	return names
}

// Close closes every sink that holds resources and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		closer, ok := s.Sink.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
