package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	maskKey     = "[REDACTED]"
	maskPattern = "[REDACTED:pattern]"

	maxPatternLen = 200
)

// TokenHint keeps only the last four characters of a credential, enough
// to tell which API key a rejected request presented.
func TokenHint(key, token string) zap.Field {
	if len(token) <= 4 {
		return zap.String(key, maskKey)
	}
	return zap.String(key, "..."+token[len(token)-4:])
}

// redactor decides what gets masked: any field whose lowercased key is
// listed, and any string value matching a pattern.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if len(p) > maxPatternLen {
		return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
	}
	return re, nil
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	if !cfg.Enabled {
		return r, nil
	}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) hides(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// value returns the string to log for key=val.
func (r *redactor) value(key, val string) string {
	if r.hides(key) {
		return maskKey
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return maskPattern
		}
	}
	return val
}

// message masks only the matching spans of a log message.
func (r *redactor) message(msg string) string {
	for _, re := range r.patterns {
		msg = re.ReplaceAllString(msg, maskPattern)
	}
	return msg
}

// redactingEncoder masks credentials on their way into the wrapped
// encoder. Composite values under a hidden key are replaced whole.
type redactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

func newRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*redactingEncoder, error) {
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &redactingEncoder{Encoder: base, r: r}, nil
}

func (e *redactingEncoder) AddString(key, val string) {
	e.Encoder.AddString(key, e.r.value(key, val))
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.r.hides(key) {
		e.Encoder.AddString(key, maskKey)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.r.hides(key) {
		e.Encoder.AddString(key, maskKey)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val any) error {
	if e.r.hides(key) {
		e.Encoder.AddString(key, maskKey)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r.hides(key) {
		e.Encoder.AddString(key, maskKey)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r.hides(key) {
		e.Encoder.AddString(key, maskKey)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}

// EncodeEntry adds the entry's fields through the masking methods above
// before handing the entry to the wrapped encoder with no fields left.
func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	enc := e.Clone().(*redactingEncoder)
	for _, f := range fields {
		f.AddTo(enc)
	}
	ent.Message = e.r.message(ent.Message)
	return enc.Encoder.EncodeEntry(ent, nil)
}
