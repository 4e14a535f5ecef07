package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "structured info", level: "info", profile: "STRUCTURED", enabled: zapcore.InfoLevel},
		{name: "console debug", level: "debug", profile: "console", enabled: zapcore.DebugLevel},
		{name: "default profile", level: "warn", profile: "", enabled: zapcore.WarnLevel},
		{name: "bad level", level: "loud", profile: "STRUCTURED", wantErr: true},
		{name: "bad profile", level: "info", profile: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.profile)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", false)
	require.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("test", true)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}
