package store

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// streamQuery joins every correction with its adjustments. Rows for one
// correction are contiguous, so the cursor only needs one row of look-ahead.
const streamQuery = `SELECT c.id, c.image_id, c.original_name, c.original_grams,
	c.corrected_name, c.corrected_grams, c.created_at,
	a.id, a.ingredient, a.delta_grams, a.notes
FROM feedback_corrections c
LEFT JOIN ingredient_adjustments a ON a.correction_id = c.id
ORDER BY c.id ASC, a.position ASC`

// Cursor is a forward-only iterator over stored corrections in ascending id
// order. It holds one correction in memory at a time. Callers must Close it;
// cancelling the context passed to Stream also stops it.
type Cursor struct {
	ctx     context.Context
	rows    *sql.Rows
	span    trace.Span
	current feedback.Correction
	pending *joinedRow
	count   int64
	err     error
	closed  bool
}

type joinedRow struct {
	id             int64
	imageID        string
	originalName   string
	originalGrams  int
	correctedName  string
	correctedGrams int
	createdAt      time.Time

	adjID      sql.NullInt64
	ingredient sql.NullString
	deltaGrams sql.NullInt64
	notes      sql.NullString
}

// Stream opens a cursor over all corrections.
func (s *Store) Stream(ctx context.Context) (*Cursor, error) {
	ctx, span := s.tracer.Start(ctx, "store.stream")

	rows, err := s.db.WithContext(ctx).Raw(streamQuery).Rows()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		span.End()
		return nil, feedback.NewStorageError("stream", err)
	}
	return &Cursor{ctx: ctx, rows: rows, span: span}, nil
}

// Next advances to the next correction. It returns false at the end of the
// stream, on error, or once the context is done; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.fail(err)
		return false
	}

	first := c.pending
	c.pending = nil
	if first == nil {
		r, ok := c.scanNext()
		if !ok {
			return false
		}
		first = r
	}

	rec := first.correction()
	first.appendAdjustment(&rec)
	for {
		r, ok := c.scanNext()
		if !ok {
			if c.err != nil {
				return false
			}
			break
		}
		if r.id != first.id {
			c.pending = r
			break
		}
		r.appendAdjustment(&rec)
	}

	c.current = rec
	c.count++
	return true
}

// Correction returns the correction at the cursor position.
func (c *Cursor) Correction() feedback.Correction {
	return c.current
}

// Err returns the first error encountered, wrapped as a StorageError.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the underlying rows. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rows.Close()

	c.span.SetAttributes(attribute.Int64("corrections.streamed", c.count))
	if c.err != nil {
		c.span.RecordError(c.err)
		c.span.SetStatus(codes.Error, "stream aborted")
	}
	c.span.End()
	return feedback.NewStorageError("close cursor", err)
}

// scanNext reads one joined row. ok is false at the end of the rows or on
// error, in which case c.err is set.
func (c *Cursor) scanNext() (*joinedRow, bool) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.fail(err)
		}
		return nil, false
	}
	var r joinedRow
	err := c.rows.Scan(
		&r.id, &r.imageID, &r.originalName, &r.originalGrams,
		&r.correctedName, &r.correctedGrams, &r.createdAt,
		&r.adjID, &r.ingredient, &r.deltaGrams, &r.notes,
	)
	if err != nil {
		c.fail(err)
		return nil, false
	}
	return &r, true
}

func (c *Cursor) fail(err error) {
	if c.err == nil {
		c.err = feedback.NewStorageError("stream", err)
	}
}

func (r *joinedRow) correction() feedback.Correction {
	return feedback.Correction{
		ID:          r.id,
		ImageID:     r.imageID,
		Original:    feedback.Label{Name: r.originalName, Grams: r.originalGrams},
		Corrected:   feedback.Label{Name: r.correctedName, Grams: r.correctedGrams},
		Adjustments: []feedback.Adjustment{},
		CreatedAt:   feedback.NewTimestamp(r.createdAt),
	}
}

func (r *joinedRow) appendAdjustment(c *feedback.Correction) {
	if !r.adjID.Valid {
		return
	}
	adj := feedback.Adjustment{
		Ingredient: r.ingredient.String,
		DeltaGrams: int(r.deltaGrams.Int64),
	}
	if r.notes.Valid {
		notes := r.notes.String
		adj.Notes = &notes
	}
	c.Adjustments = append(c.Adjustments, adj)
}
