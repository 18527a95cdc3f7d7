package export

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/store"
)

// Records iterates stored corrections in ascending id order.
type Records interface {
	Next() bool
	Correction() feedback.Correction
	Err() error
	Close() error
}

// Source opens a fresh iterator for one export.
type Source func(ctx context.Context) (Records, error)

// StoreSource reads from s.
func StoreSource(s *store.Store) Source {
	return func(ctx context.Context) (Records, error) {
		cur, err := s.Stream(ctx)
		if err != nil {
			return nil, err
		}
		return cur, nil
	}
}

// flusher matches http.Flusher.
type flusher interface {
	Flush()
}

// Metrics counts exported records.
type Metrics struct {
	records *prometheus.CounterVec
}

// NewMetrics registers the export counters with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbackd",
			Subsystem: "export",
			Name:      "records_total",
			Help:      "Corrections written by export, by format.",
		}, []string{"format"}),
	}
	if err := reg.Register(m.records); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register export metrics: %w", err)
		}
		m.records = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return m, nil
}

// Streamer writes the whole store to a writer.
type Streamer struct {
	source  Source
	metrics *Metrics
	logger  *logging.Logger
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithMetrics records exported row counts in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// WithLogger sets the streamer logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Streamer) { s.logger = l }
}

// NewStreamer creates a Streamer over source.
func NewStreamer(source Source, opts ...Option) *Streamer {
	s := &Streamer{source: source, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("export")
	return s
}

// Stream encodes every stored correction to w in format f and returns the
// number of records written. Each record is flushed before the next one is
// fetched. When ctx is cancelled or a write fails the cursor is released
// and the error returned; bytes already written are not retracted.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, f Format) (int64, error) {
	recs, err := s.source(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := recs.Close(); cerr != nil {
			s.logger.Warn(ctx, "failed to close export cursor", zap.Error(cerr))
		}
	}()

	enc := NewEncoder(f, w)
	if err := enc.Begin(); err != nil {
		return 0, fmt.Errorf("write preamble: %w", err)
	}
	if err := s.flush(enc, w); err != nil {
		return 0, err
	}

	var n int64
	for recs.Next() {
		if err := enc.Encode(recs.Correction()); err != nil {
			return n, fmt.Errorf("encode record %d: %w", recs.Correction().ID, err)
		}
		if err := s.flush(enc, w); err != nil {
			return n, err
		}
		n++
		if s.metrics != nil {
			s.metrics.records.WithLabelValues(string(f)).Inc()
		}
	}
	if err := recs.Err(); err != nil {
		s.logger.Warn(ctx, "export aborted", zap.Int64("records", n), zap.Error(err))
		return n, err
	}

	s.logger.Info(ctx, "export complete", zap.String("format", string(f)), zap.Int64("records", n))
	return n, nil
}

func (s *Streamer) flush(enc Encoder, w io.Writer) error {
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if fl, ok := w.(flusher); ok {
		fl.Flush()
	}
	return nil
}
