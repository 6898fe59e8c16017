// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ollama-view/internal/kv"
	"github.com/jeranaias/ollama-view/internal/ollama"
	"github.com/jeranaias/ollama-view/internal/storage"
	"github.com/jeranaias/ollama-view/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ollama-view configuration.
type Config struct {
	// DefaultModel is used when a command needs a model and none is given.
	DefaultModel string `toml:"default_model"`

	Ollama  OllamaConfig  `toml:"ollama"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
	UI      UIConfig      `toml:"ui"`
}

// OllamaConfig contains the daemon connection settings.
type OllamaConfig struct {
	URL string `toml:"url"`
	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs"`
	// StreamTimeoutSecs bounds the wait for a chat stream's response headers.
	StreamTimeoutSecs int `toml:"stream_timeout_secs"`
}

// StorageConfig selects the key-value backend holding conversations.
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "memory".
	Backend string `toml:"backend"`
	// Dir is the data directory; empty means ~/.ollama-view/data.
	Dir string `toml:"dir"`
	Key string `toml:"key"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is a zerolog level name.
	Level string `toml:"level"`
	// Format is "console", "json" or "auto" (console on a terminal).
	Format string `toml:"format"`
}

// UIConfig contains terminal output settings.
type UIConfig struct {
	// Markdown renders assistant replies with glamour in `chats show`.
	Markdown bool `toml:"markdown"`
	// Color is "auto", "always" or "never".
	Color string `toml:"color"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel: "llama3",
		Ollama: OllamaConfig{
			URL:               ollama.DefaultBaseURL,
			TimeoutSecs:       30,
			StreamTimeoutSecs: 300,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			Key:     storage.DefaultKey,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "auto",
		},
		UI: UIConfig{
			Markdown: true,
			Color:    "auto",
		},
	}
}

// OllamaTimeout returns the request timeout.
func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSecs) * time.Second
}

// StreamTimeout returns the stream header timeout.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Ollama.StreamTimeoutSecs) * time.Second
}

// DataDir returns the storage directory, defaulting under ConfigDir.
func (c *Config) DataDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ollama-view configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".ollama-view"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load builds the configuration from defaults, the TOML file at path (the
// default location when empty; a missing file is fine) and environment
// overrides, then validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat config %s", path)
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// LoadTOML decodes the file at path over cfg. Unknown keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Wrapf(err, "decode TOML config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return errors.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# ollama-view configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}

// fillDefaults restores values a config file or the environment blanked.
func (c *Config) fillDefaults() {
	d := Default()
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.Ollama.TimeoutSecs == 0 {
		c.Ollama.TimeoutSecs = d.Ollama.TimeoutSecs
	}
	if c.Ollama.StreamTimeoutSecs == 0 {
		c.Ollama.StreamTimeoutSecs = d.Ollama.StreamTimeoutSecs
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Key == "" {
		c.Storage.Key = d.Storage.Key
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.UI.Color == "" {
		c.UI.Color = d.UI.Color
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variables:
//   - OLLAMA_VIEW_MODEL: overrides default_model
//   - OLLAMA_HOST: overrides ollama.url (scheme optional)
//   - OLLAMA_VIEW_OLLAMA_URL: overrides ollama.url, wins over OLLAMA_HOST
//   - OLLAMA_VIEW_STORAGE: overrides storage.backend
//   - OLLAMA_VIEW_DATA_DIR: overrides storage.dir
//   - OLLAMA_VIEW_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("OLLAMA_VIEW_MODEL"); model != "" {
		c.DefaultModel = model
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Ollama.URL = hostToURL(host)
	}
	if u := os.Getenv("OLLAMA_VIEW_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}

	if backend := os.Getenv("OLLAMA_VIEW_STORAGE"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if dir := os.Getenv("OLLAMA_VIEW_DATA_DIR"); dir != "" {
		c.Storage.Dir = dir
	}

	if level := os.Getenv("OLLAMA_VIEW_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
}

// hostToURL accepts the forms the ollama CLI accepts in OLLAMA_HOST:
// "host", "host:port" or a full URL.
func hostToURL(host string) string {
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	if !strings.Contains(host, ":") {
		host += ":11434"
	}
	return "http://" + host
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and returns all problems as ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.DefaultModel) == "" {
		add("default_model", "must not be empty")
	}

	if u, err := url.Parse(c.Ollama.URL); err != nil {
		add("ollama.url", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("ollama.url", "scheme must be http or https, got '%s'", u.Scheme)
	} else if u.Host == "" {
		add("ollama.url", "missing host")
	}
	if c.Ollama.TimeoutSecs < 1 || c.Ollama.TimeoutSecs > 3600 {
		add("ollama.timeout_secs", "must be between 1 and 3600, got %d", c.Ollama.TimeoutSecs)
	}
	if c.Ollama.StreamTimeoutSecs < 1 || c.Ollama.StreamTimeoutSecs > 86400 {
		add("ollama.stream_timeout_secs", "must be between 1 and 86400, got %d", c.Ollama.StreamTimeoutSecs)
	}

	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite, memory", c.Storage.Backend)
	}
	if err := kv.ValidateKey(c.Storage.Key); err != nil {
		add("storage.key", "%v", err)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil || c.Log.Level == "" {
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: auto, console, json", c.Log.Format)
	}

	switch c.UI.Color {
	case "auto", "always", "never":
	default:
		add("ui.color", "invalid value '%s', must be one of: auto, always, never", c.UI.Color)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key path (e.g. "ollama.url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its TOML key path, converting strings to the
// field's type. The result is not validated.
func (c *Config) Set(key string, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Errorf("%s: invalid integer %q", key, value)
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Errorf("%s: invalid boolean %q", key, value)
		}
		field.SetBool(b)
	default:
		return errors.Errorf("%s: cannot set a section", key)
	}
	return nil
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	v := reflect.ValueOf(c).Elem()
	parts := strings.Split(key, ".")
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, errors.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i < len(parts)-1 && field.Kind() != reflect.Struct {
			return reflect.Value{}, errors.Errorf("'%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return v, nil
}

func fieldByTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Keys returns every settable key in dot notation, in declaration order.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + f.Tag.Get("toml")
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name+".")
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	_ = toml.NewEncoder(&buf).Encode(c)
	return buf.String()
}
