package feedback

import (
	"bytes"
	"math"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// MaxBodyBytes bounds the size of a correction payload.
const MaxBodyBytes = 1 << 20

// CorrectionInput is a correction payload that passed the allow-list decode.
// Field ranges are checked separately by Validate.
type CorrectionInput struct {
	ImageID     string            `json:"imageId" validate:"min=1,max=200"`
	Original    LabelInput        `json:"original"`
	Corrected   LabelInput        `json:"corrected"`
	Adjustments []AdjustmentInput `json:"adjustments" validate:"dive"`
}

// LabelInput is the submitted form of a Label.
type LabelInput struct {
	Name  string `json:"name" validate:"min=1,max=200"`
	Grams int    `json:"grams" validate:"min=1,max=10000"`
}

// AdjustmentInput is the submitted form of an Adjustment.
type AdjustmentInput struct {
	Ingredient string  `json:"ingredient" validate:"min=1,max=100"`
	DeltaGrams int     `json:"deltaGrams"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
}

// ToNewCorrection copies the input verbatim into the store form.
func (in CorrectionInput) ToNewCorrection() NewCorrection {
	nc := NewCorrection{
		ImageID:     in.ImageID,
		Original:    Label(in.Original),
		Corrected:   Label(in.Corrected),
		Adjustments: make([]Adjustment, 0, len(in.Adjustments)),
	}
	for _, adj := range in.Adjustments {
		nc.Adjustments = append(nc.Adjustments, Adjustment(adj))
	}
	return nc
}

type kind int

const (
	kindString kind = iota
	kindInteger
	kindObject
	kindArray
)

// shape is one node of the payload allow-list.
type shape struct {
	kind     kind
	nullable bool
	fields   map[string]*shape
	required []string
	items    *shape
}

type member struct {
	name     string
	required bool
	shape    *shape
}

func str() *shape     { return &shape{kind: kindString} }
func integer() *shape { return &shape{kind: kindInteger} }

func nullable(s *shape) *shape {
	s.nullable = true
	return s
}

func arrayOf(items *shape) *shape {
	return &shape{kind: kindArray, items: items}
}

func req(name string, s *shape) member { return member{name: name, required: true, shape: s} }
func opt(name string, s *shape) member { return member{name: name, shape: s} }

func object(members ...member) *shape {
	s := &shape{kind: kindObject, fields: make(map[string]*shape, len(members))}
	for _, m := range members {
		s.fields[m.name] = m.shape
		if m.required {
			s.required = append(s.required, m.name)
		}
	}
	return s
}

func labelShape() *shape {
	return object(req("name", str()), req("grams", integer()))
}

var correctionShape = object(
	req("imageId", str()),
	req("original", labelShape()),
	req("corrected", labelShape()),
	opt("adjustments", nullable(arrayOf(object(
		req("ingredient", str()),
		req("deltaGrams", integer()),
		opt("notes", nullable(str())),
	)))),
)

// Decode checks body against the correction allow-list and decodes it.
// Unknown keys at any depth, missing required keys and wrong JSON types are
// all collected into a single ValidationError.
func Decode(body []byte) (CorrectionInput, error) {
	var in CorrectionInput

	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return in, &ValidationError{Fields: []FieldError{{Message: "malformed JSON body"}}}
	}

	var errs []FieldError
	body = checkShape("", json.RawMessage(body), correctionShape, &errs)
	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return in, &ValidationError{Fields: errs}
	}

	if err := json.Unmarshal(body, &in); err != nil {
		return in, &ValidationError{Fields: []FieldError{{Message: "malformed JSON body"}}}
	}
	return in, nil
}

// checkShape records every mismatch between raw and s in errs and returns
// raw with integer members in canonical form, so 250.0 and 2.5e2 decode as
// 250.
func checkShape(path string, raw json.RawMessage, s *shape, errs *[]FieldError) json.RawMessage {
	fail := func(msg string) { *errs = append(*errs, FieldError{Field: path, Message: msg}) }

	if string(raw) == "null" {
		if !s.nullable {
			fail("field required")
		}
		return raw
	}

	switch s.kind {
	case kindString:
		if raw[0] != '"' {
			fail("must be a string")
		}
	case kindInteger:
		v, ok := parseInteger(raw)
		if !ok {
			fail("must be an integer")
			return raw
		}
		return json.RawMessage(strconv.FormatInt(v, 10))
	case kindArray:
		var items []json.RawMessage
		if raw[0] != '[' || json.Unmarshal(raw, &items) != nil {
			fail("must be an array")
			return raw
		}
		for i, item := range items {
			items[i] = checkShape(path+"["+strconv.Itoa(i)+"]", item, s.items, errs)
		}
		return remarshal(raw, items)
	case kindObject:
		var obj map[string]json.RawMessage
		if raw[0] != '{' || json.Unmarshal(raw, &obj) != nil {
			fail("must be an object")
			return raw
		}
		for key, val := range obj {
			child, ok := s.fields[key]
			if !ok {
				*errs = append(*errs, FieldError{Field: join(path, key), Message: "extra fields not permitted"})
				continue
			}
			obj[key] = checkShape(join(path, key), val, child, errs)
		}
		for _, key := range s.required {
			if _, ok := obj[key]; !ok {
				*errs = append(*errs, FieldError{Field: join(path, key), Message: "field required"})
			}
		}
		return remarshal(raw, obj)
	}
	return raw
}

// maxExactInteger is the largest magnitude a float64 holds without gaps.
const maxExactInteger = 1 << 53

// parseInteger accepts a JSON number with no fractional part. Strings,
// fractions and floats beyond exact float64 range are rejected.
func parseInteger(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	if v, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactInteger {
		return 0, false
	}
	return int64(f), true
}

// remarshal encodes v, falling back to raw if that fails.
func remarshal(raw json.RawMessage, v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
