package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderas/lattice/pkg/observability"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "entities", cfg.Index.Name)
	assert.Equal(t, 100, cfg.Index.BatchSize)
	assert.Equal(t, "memory", cfg.Datastore.Type)
	assert.Equal(t, []string{"en"}, cfg.Languages)
	assert.Equal(t, "en", cfg.DefaultLanguage)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LATTICE_INDEX", "docs")
	t.Setenv("LATTICE_BATCH_SIZE", "250")
	t.Setenv("LATTICE_DATASTORE_TYPE", "postgres")
	t.Setenv("LATTICE_POSTGRES_URL", "postgres://localhost/lattice")
	t.Setenv("LATTICE_POSTGRES_TIMEOUT", "30s")
	t.Setenv("LATTICE_LANGUAGES", "en, es ,pt")
	t.Setenv("LATTICE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "docs", cfg.Index.Name)
	assert.Equal(t, 250, cfg.Index.BatchSize)
	assert.Equal(t, "postgres", cfg.Datastore.Type)
	assert.Equal(t, 30*time.Second, cfg.Datastore.Timeout)
	assert.Equal(t, []string{"en", "es", "pt"}, cfg.Languages)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without url",
			env:     map[string]string{"LATTICE_DATASTORE_TYPE": "postgres"},
			wantErr: "LATTICE_POSTGRES_URL",
		},
		{
			name:    "unknown datastore",
			env:     map[string]string{"LATTICE_DATASTORE_TYPE": "mongodb"},
			wantErr: "unknown datastore type",
		},
		{
			name: "default language not configured",
			env: map[string]string{
				"LATTICE_LANGUAGES":        "es,pt",
				"LATTICE_DEFAULT_LANGUAGE": "en",
			},
			wantErr: "default language",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSettingsFileSkipsLanguageValidation(t *testing.T) {
	t.Setenv("LATTICE_SETTINGS_FILE", "/etc/lattice/settings.json")
	t.Setenv("LATTICE_LANGUAGES", "")
	t.Setenv("LATTICE_DEFAULT_LANGUAGE", "xx")

	_, err := Load()
	assert.NoError(t, err, "a settings file supersedes env language config")
}
