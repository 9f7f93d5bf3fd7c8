package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/color-api/internal/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(config.LogConfig{Level: tt.level, Format: "json"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestNew_Formatters(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = New(config.LogConfig{Level: "info", Format: "text"})
	require.NoError(t, err)
	assert.NotNil(t, logger.Formatter)
	_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
	assert.False(t, isJSON)
}

func TestNew_FileSink(t *testing.T) {
	file := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(config.LogConfig{Level: "info", Format: "json", File: file, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.WithField(RequestIDKey, "abc").Info("hello")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"abc"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
