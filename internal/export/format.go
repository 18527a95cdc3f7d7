// Package export streams the stored corrections as JSON Lines or CSV.
//
// Records are read from a store cursor and written one at a time, flushing
// after each, so memory stays bounded by a single correction.
package export

import (
	"strings"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// Format is an export wire format.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ParseFormat resolves a requested format case-insensitively. An empty
// value selects JSONL.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jsonl":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", &feedback.FormatError{Format: s}
	}
}

// ContentType returns the media type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-jsonlines"
}

// Filename returns the attachment filename for the format.
func (f Format) Filename() string {
	return "feedback." + string(f)
}

// CSVHeader is the fixed first row of a CSV export.
var CSVHeader = []string{
	"id", "imageId", "original_name", "original_grams",
	"corrected_name", "corrected_grams", "adjustments", "createdAt",
}
