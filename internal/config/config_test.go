// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"OLLAMA_VIEW_MODEL",
	"OLLAMA_VIEW_OLLAMA_URL",
	"OLLAMA_HOST",
	"OLLAMA_VIEW_STORAGE",
	"OLLAMA_VIEW_DATA_DIR",
	"OLLAMA_VIEW_LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Ollama.URL)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "ollama-view.chats", cfg.Storage.Key)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
default_model = "mistral"

[ollama]
url = "http://gpu-box:11434"
timeout_secs = 10

[storage]
backend = "sqlite"
dir = "/var/lib/ollama-view"

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.DefaultModel)
	assert.Equal(t, "http://gpu-box:11434", cfg.Ollama.URL)
	assert.Equal(t, 10, cfg.Ollama.TimeoutSecs)
	assert.Equal(t, 300, cfg.Ollama.StreamTimeoutSecs, "unset keys keep defaults")
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "json", cfg.Log.Format)

	dir, err := cfg.DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ollama-view", dir)
}

func TestLoad_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[ollama]\nendpoint = \"x\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama.endpoint")
}

func TestLoad_InvalidAggregatesErrors(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[ollama]
url = "ftp://host"
timeout_secs = -1

[storage]
backend = "redis"
`)
	_, err := Load(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"ollama.url", "ollama.timeout_secs", "storage.backend"}, fields)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_VIEW_MODEL", "phi3")
	t.Setenv("OLLAMA_HOST", "gpu-box")
	t.Setenv("OLLAMA_VIEW_STORAGE", "SQLite")
	t.Setenv("OLLAMA_VIEW_DATA_DIR", "/tmp/ov")
	t.Setenv("OLLAMA_VIEW_LOG_LEVEL", "DEBUG")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "phi3", cfg.DefaultModel)
	assert.Equal(t, "http://gpu-box:11434", cfg.Ollama.URL)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/ov", cfg.Storage.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("OLLAMA_VIEW_OLLAMA_URL", "https://ollama.internal")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "https://ollama.internal", cfg.Ollama.URL, "explicit URL wins over OLLAMA_HOST")
}

func TestHostToURL(t *testing.T) {
	assert.Equal(t, "http://box:11434", hostToURL("box"))
	assert.Equal(t, "http://0.0.0.0:8080", hostToURL("0.0.0.0:8080"))
	assert.Equal(t, "https://x.example", hostToURL("https://x.example/"))
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("storage.backend", "memory"))
	require.NoError(t, cfg.Set("ollama.timeout_secs", "45"))
	require.NoError(t, cfg.Set("ui.markdown", "false"))

	v, err := cfg.Get("storage.backend")
	require.NoError(t, err)
	assert.Equal(t, "memory", v)
	assert.Equal(t, 45, cfg.Ollama.TimeoutSecs)
	assert.False(t, cfg.UI.Markdown)

	assert.Error(t, cfg.Set("ollama.timeout_secs", "soon"))
	assert.Error(t, cfg.Set("ollama", "x"))
	_, err = cfg.Get("ollama.nope")
	assert.Error(t, err)
	_, err = cfg.Get("default_model.x")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "default_model")
	assert.Contains(t, keys, "ollama.stream_timeout_secs")
	assert.Contains(t, keys, "ui.color")
	for _, k := range keys {
		_, err := Default().Get(k)
		assert.NoError(t, err, k)
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.DefaultModel = "gemma"
	cfg.Storage.Backend = BackendMemory
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
