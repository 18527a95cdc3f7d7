package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1 << 20

// envAliases maps the short environment names operators already use onto
// koanf paths. Everything else follows SECTION_FIELD.
var envAliases = map[string]string{
	"SERVER_PORT":                 "server.http_port",
	"DATABASE_URL":                "database.dsn",
	"SQL_ECHO":                    "database.log_sql",
	"OTEL_ENABLE":                 "observability.enable_telemetry",
	"OTEL_SERVICE_NAME":           "observability.service_name",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "observability.endpoint",
	"LOG_LEVEL":                   "logging.level",
	"LOG_FORMAT":                  "logging.format",
}

// LoadWithFile layers, lowest first: Defaults, the YAML file at
// configPath, then environment variables. An empty configPath means
// ~/.config/feedbackd/config.yaml. A missing file is not an error.
//
// The file may hold API keys and database passwords, so it must sit under
// ~/.config/feedbackd/ or /etc/feedbackd/, be mode 0600 or 0400, and be
// at most 1MB.
//
// Environment names split on their first underscore, so
// RATELIMIT_INGESTION sets ratelimit.ingestion and SERVER_HTTP_HOST sets
// server.http_host. AUTH_KEYS takes "token=principal,..." and replaces
// the whole key registry.
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Defaults()
	if k.Exists("auth.keys") {
		// Decoding merges maps; a configured registry replaces the demo keys.
		cfg.Auth.Keys = nil
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if raw, ok := os.LookupEnv("AUTH_KEYS"); ok && raw != "" {
		keys, err := ParseKeys(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse AUTH_KEYS: %w", err)
		}
		cfg.Auth.Keys = keys
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// readConfigFile returns nil, nil when path does not exist. Checks run on
// the open descriptor so the file cannot be swapped between them.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileMode(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file validation failed: larger than %d bytes", maxConfigFileSize)
	}
	return content, nil
}

func checkFileMode(info os.FileInfo) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
		return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
	}
	return nil
}

// envKey maps an environment variable onto a koanf path. "" drops it.
func envKey(name string) string {
	if alias, ok := envAliases[name]; ok {
		return alias
	}
	if name == "AUTH_KEYS" {
		return ""
	}
	section, field, ok := strings.Cut(strings.ToLower(name), "_")
	if !ok {
		return section
	}
	return section + "." + field
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "feedbackd"), nil
}

// EnsureConfigDir creates ~/.config/feedbackd with mode 0700.
func EnsureConfigDir() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath accepts only paths that resolve, symlinks followed,
// under the user or system config directory. The file need not exist.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	userDir, err := configDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/feedbackd"} {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/feedbackd/ or /etc/feedbackd/")
}
