package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, trace level included, for assertions.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// FilterMessage returns the entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.logs.FilterMessageSnippet(msg)
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.FilterMessage(msg).FilterLevelExact(level).Len() == 0 {
		tb.Errorf("no %v entry containing %q; have %s", level, msg, t.summary())
	}
}

// AssertField fails tb unless an entry containing msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && fmt.Sprint(got) == fmt.Sprint(want) {
			return
		}
	}
	tb.Errorf("no entry containing %q has %s=%v; have %s", msg, key, want, t.summary())
}

// AssertNoSecrets fails tb if a sensitive string field was logged in the
// clear or if any of literals appears in a message or string field.
func (t *TestLogger) AssertNoSecrets(tb testing.TB, literals ...string) {
	tb.Helper()
	r, err := newRedactor(NewDefaultConfig().Redaction)
	if err != nil {
		tb.Fatal(err)
	}

	leaked := func(s string) bool {
		if r.message(s) != s {
			return true
		}
		for _, lit := range literals {
			if lit != "" && strings.Contains(s, lit) {
				return true
			}
		}
		return false
	}

	for _, e := range t.logs.All() {
		if leaked(e.Message) {
			tb.Errorf("secret in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			masked := f.String == "" || strings.HasPrefix(f.String, "[REDACTED") || strings.HasPrefix(f.String, "...")
			if r.hides(f.Key) && !masked {
				tb.Errorf("field %q logged in the clear: %q", f.Key, f.String)
			}
			if leaked(f.String) {
				tb.Errorf("secret in field %q: %q", f.Key, f.String)
			}
		}
	}
}

func (t *TestLogger) summary() string {
	var b strings.Builder
	for _, e := range t.logs.All() {
		fmt.Fprintf(&b, "[%v %q %v] ", e.Level, e.Message, e.ContextMap())
	}
	return b.String()
}
