package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("whatever"))
}

func TestInitLogger(t *testing.T) {
	t.Run("仅控制台", func(t *testing.T) {
		l, err := InitLogger(cfgpkg.LoggingConfig{Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("控制台加文件", func(t *testing.T) {
		cfg := cfgpkg.LoggingConfig{
			Level:  "warn",
			Format: "json",
			File:   cfgpkg.LumberjackConfig{Filename: filepath.Join(t.TempDir(), "airq.log"), MaxSizeMB: 1},
		}
		l, err := InitLogger(cfg)
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		l.Warn("hello")
	})

	t.Run("nil替换为Nop", func(t *testing.T) {
		assert.NotNil(t, OrNop(nil))
	})
}
