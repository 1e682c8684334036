package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fatflowers/tunnelbot/pkg/config"
)

func TestNew(t *testing.T) {
	l, err := New(&config.Config{Log: config.LogConfig{Level: "debug"}})
	require.NoError(t, err)
	require.True(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))

	l, err = New(&config.Config{Log: config.LogConfig{Level: "warn"}})
	require.NoError(t, err)
	require.False(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))

	_, err = New(&config.Config{Log: config.LogConfig{Level: "chatty"}})
	require.Error(t, err)
}
