package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadCredential(t *testing.T) {
	path := writeFile(t, ".env", `# provider keys
OPENAI_API_KEY="sk-quoted"
ANTHROPIC_API_KEY='sk-ant-single'
PLAIN=value
EMPTY=
just a note without an equals sign
HASHED=sk-x#y
DOLLAR=pa$$word
APOSTROPHE=it's#1
export EXPORTED = sk-exp
QUOTED_NOTE="sk-q" # prod
CERT="line one
line two"
AFTER_CERT=sk-after
`)

	t.Run("double quoted", func(t *testing.T) {
		v, err := LoadCredential(path, "OPENAI_API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "sk-quoted", v)
	})

	t.Run("single quoted", func(t *testing.T) {
		v, err := LoadCredential(path, "ANTHROPIC_API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-single", v)
	})

	t.Run("plain", func(t *testing.T) {
		v, err := LoadCredential(path, "PLAIN")
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	})

	t.Run("literal unquoted values", func(t *testing.T) {
		for key, want := range map[string]string{
			"HASHED":      "sk-x#y",
			"DOLLAR":      "pa$$word",
			"APOSTROPHE":  "it's#1",
			"EXPORTED":    "sk-exp",
			"QUOTED_NOTE": "sk-q",
			"CERT":        "line one\nline two",
			"AFTER_CERT":  "sk-after",
		} {
			v, err := LoadCredential(path, key)
			require.NoError(t, err, key)
			assert.Equal(t, want, v, key)
		}
	})

	t.Run("empty value", func(t *testing.T) {
		_, err := LoadCredential(path, "EMPTY")
		assert.ErrorIs(t, err, ErrCredentialMissing)
	})

	t.Run("absent key", func(t *testing.T) {
		_, err := LoadCredential(path, "GOOGLE_API_KEY")
		assert.ErrorIs(t, err, ErrCredentialMissing)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCredential(filepath.Join(t.TempDir(), "nope.env"), "OPENAI_API_KEY")
		assert.ErrorIs(t, err, ErrCredentialFileNotFound)
	})
}

func TestNewViper_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	v, err := NewViper("")
	require.NoError(t, err)

	cfg, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, "agents", cfg.AppName)
	assert.Equal(t, "default", cfg.UserID)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, "memory", cfg.Memory.Backend)
	assert.Equal(t, 0, cfg.Compaction.Interval)
	assert.Equal(t, model.DefaultRetryPolicy(), cfg.Retry.Policy())
	assert.Equal(t, "OPENAI_API_KEY", cfg.ProviderCredentialKey())
}

func TestNewViper_FileAndEnv(t *testing.T) {
	path := writeFile(t, "recallmesh.yaml", `
app_name: research
provider: anthropic
session:
  backend: sqlite
  dsn: /tmp/sessions.db
retry:
  attempts: 3
  initial_delay: 250ms
compaction:
  interval: 3
`)

	t.Setenv("RECALLMESH_USER_ID", "sam")
	t.Setenv("RECALLMESH_COMPACTION_OVERLAP", "2")

	v, err := NewViper(path)
	require.NoError(t, err)

	cfg, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, "research", cfg.AppName)
	assert.Equal(t, "sam", cfg.UserID)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "sqlite", cfg.Session.Backend)
	assert.Equal(t, "/tmp/sessions.db", cfg.Session.DSN)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, CompactionConfig{Interval: 3, Overlap: 2}, cfg.Compaction)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.ProviderCredentialKey())
}

func TestNewViper_ExplicitFileMissing(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			AppName:  "agents",
			UserID:   "default",
			Provider: "openai",
			Session:  SessionConfig{Backend: "memory"},
			Memory:   MemoryConfig{Backend: "sqlite"},
			Retry:    RetryConfig{Attempts: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "provider", mutate: func(c *Config) { c.Provider = "gemini" }, wantErr: `unknown provider "gemini"`},
		{name: "session backend", mutate: func(c *Config) { c.Session.Backend = "mongo" }, wantErr: "unknown session backend"},
		{name: "memory backend", mutate: func(c *Config) { c.Memory.Backend = "redis" }, wantErr: "unknown memory backend"},
		{name: "attempts", mutate: func(c *Config) { c.Retry.Attempts = 0 }, wantErr: "retry.attempts"},
		{name: "compaction", mutate: func(c *Config) { c.Compaction.Overlap = -1 }, wantErr: "cannot be negative"},
		{name: "user", mutate: func(c *Config) { c.UserID = "" }, wantErr: "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
