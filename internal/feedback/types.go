// Package feedback holds the correction domain model, its error taxonomy,
// and the ingestion service that validates submitted corrections before
// they reach the store.
package feedback

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the wire format for createdAt: ISO-8601 UTC with
// microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Label is a dish name with its portion weight.
type Label struct {
	Name  string `json:"name"`
	Grams int    `json:"grams"`
}

// Adjustment is a per-ingredient weight delta attached to a correction.
type Adjustment struct {
	Ingredient string  `json:"ingredient"`
	DeltaGrams int     `json:"deltaGrams"`
	Notes      *string `json:"notes"`
}

// NewCorrection is a validated correction ready to be committed.
type NewCorrection struct {
	ImageID     string
	Original    Label
	Corrected   Label
	Adjustments []Adjustment
}

// Correction is a committed correction with its adjustments in submission
// order.
type Correction struct {
	ID          int64        `json:"id"`
	ImageID     string       `json:"imageId"`
	Original    Label        `json:"original"`
	Corrected   Label        `json:"corrected"`
	Adjustments []Adjustment `json:"adjustments"`
	CreatedAt   Timestamp    `json:"createdAt"`
}

// LabelCount is one row of the corrected label aggregation.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Timestamp is a UTC instant that encodes with TimestampLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalizes t to UTC at microsecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Microsecond)}
}

// String formats the timestamp with TimestampLayout.
func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp parses a createdAt value. RFC 3339 input with any
// fractional precision is accepted.
func ParseTimestamp(s string) (Timestamp, error) {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return NewTimestamp(parsed), nil
}
