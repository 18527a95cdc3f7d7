// internal/config/types.go
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from "30s"-style text in YAML
// files and environment variables. Negative values are rejected.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential-bearing string: a database DSN, the redis
// password. Every printing and encoding path yields "[REDACTED]"; only
// Value returns the raw string.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString covers %#v.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// Value returns the raw secret. Pass it straight to the driver.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool {
	return s != ""
}

// Location describes where a DSN points without its credentials, for
// logs: the host and database of a URL DSN, or the path of a SQLite
// file. Key/value DSNs ("host=db password=x") keep only their host and
// dbname pairs.
func (s Secret) Location() string {
	raw := strings.TrimSpace(string(s))
	if raw == "" {
		return ""
	}

	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + u.Host + u.Path
	}

	if strings.Contains(raw, "=") && strings.Contains(raw, " ") {
		var kept []string
		for _, kv := range strings.Fields(raw) {
			if strings.HasPrefix(kv, "host=") || strings.HasPrefix(kv, "dbname=") || strings.HasPrefix(kv, "port=") {
				kept = append(kept, kv)
			}
		}
		return strings.Join(kept, " ")
	}

	path, _, _ := strings.Cut(strings.TrimPrefix(raw, "file:"), "?")
	return path
}

// MarshalJSON keeps secrets out of JSON dumps of the config.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText keeps secrets out of text encodings of the config.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the raw value from YAML or the environment.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
