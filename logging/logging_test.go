package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected zapcore.Level
	}{
		{"trace", zapcore.DebugLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"WARN", zapcore.WarnLevel},
		{" info ", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.in))
		})
	}
}

func TestNewAt(t *testing.T) {
	logger, err := NewAt("debug")
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Debug("smoke")
}

func TestForComponentNilLogger(t *testing.T) {
	logger := ForComponent(nil, "worker")
	require.NotNil(t, logger)
	logger.Info("does not panic")
}

func TestRecipient(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"john.doe@example.com", "...xample.com"},
		{"short", "short"},
		{"exactly10!", "exactly10!"},
		{"", ""},
		{"dQw4w9WgXcQtokentokentoken", "...tokentoken"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Recipient(tt.in))
	}
}
