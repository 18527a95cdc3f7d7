// Package store is the durable correction store.
//
// Corrections and their adjustments are written in a single transaction and
// read back in ascending id order through a forward-only Cursor. SQLite and
// PostgreSQL are supported through GORM.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/feedbackd/internal/store"

// Store persists corrections.
type Store struct {
	db     *gorm.DB
	driver string
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTracerProvider sets the provider used for store spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to the configured database and migrates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Store, error) {
	s := &Store{
		driver: cfg.Driver,
		logger: logging.NewNop(),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN.Value()))
	case "postgres":
		dialector = postgres.Open(cfg.DSN.Value())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := gormlogger.Silent
	if cfg.LogSQL {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(gormWriter{logger: s.logger}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, feedback.NewStorageError("open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, feedback.NewStorageError("open", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.WithContext(ctx).AutoMigrate(&correctionRow{}, &adjustmentRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, feedback.NewStorageError("migrate", err)
	}

	s.db = db
	s.logger.Info(ctx, "correction store opened",
		zap.String("driver", cfg.Driver),
		zap.String("location", cfg.DSN.Location()),
	)
	return s, nil
}

// sqliteDSN turns on foreign keys and a busy timeout so concurrent writers
// wait instead of failing. File databases also get WAL so exports do not
// block ingestion.
func sqliteDSN(dsn string) string {
	params := []string{"_foreign_keys=on", "_busy_timeout=5000"}
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		params = append(params, "_journal_mode=WAL")
	}
	var kept []string
	for _, p := range params {
		if !strings.Contains(dsn, strings.SplitN(p, "=", 2)[0]+"=") {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") && sep == "?" {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(kept, "&")
}

// CreateCorrection assigns an id and timestamp and commits the correction
// with its adjustments. On error nothing is written.
func (s *Store) CreateCorrection(ctx context.Context, nc feedback.NewCorrection) (feedback.Correction, error) {
	ctx, span := s.tracer.Start(ctx, "store.create_correction",
		trace.WithAttributes(attribute.Int("adjustments.count", len(nc.Adjustments))),
	)
	defer span.End()

	row := correctionRow{
		ImageID:        nc.ImageID,
		OriginalName:   nc.Original.Name,
		OriginalGrams:  nc.Original.Grams,
		CorrectedName:  nc.Corrected.Name,
		CorrectedGrams: nc.Corrected.Grams,
		CreatedAt:      feedback.NewTimestamp(s.now()).Time,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Adjustments").Create(&row).Error; err != nil {
			return err
		}
		if len(nc.Adjustments) == 0 {
			return nil
		}
		adjs := make([]adjustmentRow, len(nc.Adjustments))
		for i, a := range nc.Adjustments {
			adjs[i] = adjustmentRow{
				CorrectionID: row.ID,
				Position:     i,
				Ingredient:   a.Ingredient,
				DeltaGrams:   a.DeltaGrams,
				Notes:        a.Notes,
			}
		}
		return tx.Create(&adjs).Error
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		return feedback.Correction{}, feedback.NewStorageError("create correction", err)
	}

	span.SetAttributes(attribute.Int64("correction.id", row.ID))

	adjustments := make([]feedback.Adjustment, len(nc.Adjustments))
	copy(adjustments, nc.Adjustments)
	return feedback.Correction{
		ID:          row.ID,
		ImageID:     row.ImageID,
		Original:    nc.Original,
		Corrected:   nc.Corrected,
		Adjustments: adjustments,
		CreatedAt:   feedback.NewTimestamp(row.CreatedAt),
	}, nil
}

// LabelTally is the number of corrections carrying a corrected label, with
// the id of the first such correction for tie-breaking.
type LabelTally struct {
	Label   string
	Count   int64
	FirstID int64
}

// CountByCorrectedLabel aggregates corrections by corrected label, ordered
// by count descending and then by first appearance.
func (s *Store) CountByCorrectedLabel(ctx context.Context) ([]LabelTally, error) {
	ctx, span := s.tracer.Start(ctx, "store.count_by_corrected_label")
	defer span.End()

	var rows []struct {
		Label   string
		Total   int64
		FirstID int64
	}
	err := s.db.WithContext(ctx).
		Model(&correctionRow{}).
		Select("corrected_name AS label, COUNT(*) AS total, MIN(id) AS first_id").
		Group("corrected_name").
		Order("total DESC").
		Order("first_id ASC").
		Scan(&rows).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate failed")
		return nil, feedback.NewStorageError("count by corrected label", err)
	}

	out := make([]LabelTally, len(rows))
	for i, r := range rows {
		out[i] = LabelTally{Label: r.Label, Count: r.Total, FirstID: r.FirstID}
	}
	span.SetAttributes(attribute.Int("labels.count", len(out)))
	return out, nil
}

// Count returns the number of stored corrections.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&correctionRow{}).Count(&n).Error; err != nil {
		return 0, feedback.NewStorageError("count", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return feedback.NewStorageError("ping", err)
	}
	return feedback.NewStorageError("ping", sqlDB.PingContext(ctx))
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter routes GORM's logger through the service logger.
type gormWriter struct {
	logger *logging.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}
