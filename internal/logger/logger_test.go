package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected zapcore.Level
		wantErr  bool
	}{
		{input: "", expected: zapcore.InfoLevel},
		{input: "info", expected: zapcore.InfoLevel},
		{input: "DEBUG", expected: zapcore.DebugLevel},
		{input: "warning", expected: zapcore.WarnLevel},
		{input: " error ", expected: zapcore.ErrorLevel},
		{input: "verbose", expected: zapcore.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			lvl, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, lvl)
		})
	}
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	t.Parallel()

	err := Initialize("loud", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
