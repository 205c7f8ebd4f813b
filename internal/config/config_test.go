package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("OCR_LEVEL", "")
	t.Setenv("TOUCH_PADDING", "")
	t.Setenv("ANALYSIS_TIMEOUT", "")
	t.Setenv("MAX_SESSIONS", "")
	t.Setenv("SESSION_IDLE_TTL", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "line", cfg.OCRLevel)
	require.Equal(t, 8.0, cfg.TouchPadding)
	require.Equal(t, 45*time.Second, cfg.AnalysisTimeout)
	require.Equal(t, []string{"eng"}, cfg.OCRLanguages)
	require.Equal(t, int64(1000), cfg.MaxSessions)
	require.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DETECTION_TIMEOUT", "5s")
	t.Setenv("OCR_LANGUAGES", "eng, fra ,")
	t.Setenv("ALLOWED_IMAGE_HOSTS", "cdn.example.com")
	t.Setenv("EMBEDDING_URL", "http://embed")
	t.Setenv("QDRANT_ADDRESS", "localhost:6334")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, 5*time.Second, cfg.DetectionTimeout)
	require.Equal(t, []string{"eng", "fra"}, cfg.OCRLanguages)
	require.Equal(t, []string{"cdn.example.com"}, cfg.AllowedImageHosts)
	require.True(t, cfg.IndexingEnabled())
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "PORT", "http"},
		{"port out of range", "PORT", "70000"},
		{"bad ocr level", "OCR_LEVEL", "paragraph"},
		{"negative padding", "TOUCH_PADDING", "-1"},
		{"azure key without account", "AZURE_STORAGE_KEY", "secret"},
		{"no sessions", "MAX_SESSIONS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadFromEnv()
			require.Error(t, err)
		})
	}
}

func TestServerAddress(t *testing.T) {
	cfg := &Config{Host: " 127.0.0.1 ", Port: "8080 "}
	require.Equal(t, "127.0.0.1:8080", cfg.ServerAddress())
}
