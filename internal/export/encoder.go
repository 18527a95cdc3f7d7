package export

import (
	"encoding/csv"
	"io"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// Encoder writes corrections in one wire format.
type Encoder interface {
	// Begin writes any preamble, such as the CSV header.
	Begin() error
	Encode(c feedback.Correction) error
	// Flush pushes buffered bytes to the underlying writer.
	Flush() error
}

// NewEncoder returns the encoder for f writing to w.
func NewEncoder(f Format, w io.Writer) Encoder {
	if f == FormatCSV {
		return &csvEncoder{w: csv.NewWriter(w)}
	}
	return &jsonlEncoder{enc: json.NewEncoder(w)}
}

type jsonlEncoder struct {
	enc *json.Encoder
}

func (e *jsonlEncoder) Begin() error { return nil }

// Encode writes one object followed by a newline.
func (e *jsonlEncoder) Encode(c feedback.Correction) error {
	if c.Adjustments == nil {
		c.Adjustments = []feedback.Adjustment{}
	}
	return e.enc.Encode(c)
}

func (e *jsonlEncoder) Flush() error { return nil }

type csvEncoder struct {
	w *csv.Writer
}

func (e *csvEncoder) Begin() error {
	return e.w.Write(CSVHeader)
}

// Encode flattens c into one row. Adjustments become an embedded JSON
// array, or an empty cell when there are none.
func (e *csvEncoder) Encode(c feedback.Correction) error {
	adjustments := ""
	if len(c.Adjustments) > 0 {
		data, err := json.Marshal(c.Adjustments)
		if err != nil {
			return err
		}
		adjustments = string(data)
	}
	return e.w.Write([]string{
		strconv.FormatInt(c.ID, 10),
		c.ImageID,
		c.Original.Name,
		strconv.Itoa(c.Original.Grams),
		c.Corrected.Name,
		strconv.Itoa(c.Corrected.Grams),
		adjustments,
		c.CreatedAt.String(),
	})
}

func (e *csvEncoder) Flush() error {
	e.w.Flush()
	return e.w.Error()
}
