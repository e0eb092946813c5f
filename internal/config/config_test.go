package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalFlagBinding(t *testing.T) {
	cmd := &cobra.Command{Use: "fixture"}
	InitGlobalFlags(cmd)

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, 2, viper.GetInt(LogLevelKey))
		assert.False(t, viper.GetBool(NoChecksKey))
		assert.Greater(t, viper.GetInt(NumWorkersKey), 0)
	})

	t.Run("environment variables override defaults", func(t *testing.T) {
		t.Setenv("NIXUP_NUM_WORKERS", "7")
		t.Setenv("NIXUP_NO_CHECKS", "true")
		assert.Equal(t, 7, viper.GetInt(NumWorkersKey))
		assert.True(t, viper.GetBool(NoChecksKey))
	})

	t.Run("flags override environment variables", func(t *testing.T) {
		t.Setenv("NIXUP_LOG_LEVEL", "1")
		require.NoError(t, cmd.PersistentFlags().Set(LogLevelKey, "4"))
		assert.Equal(t, 4, viper.GetInt(LogLevelKey))
	})

	t.Run("typed decode", func(t *testing.T) {
		t.Setenv("NIXUP_LOG_FILE", "/tmp/nixup.log")
		g, err := GetGlobal()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/nixup.log", g.LogFile)
		assert.Equal(t, viper.GetInt(NumWorkersKey), g.NumWorkers)
	})

	t.Run("developer flag is hidden", func(t *testing.T) {
		flag := cmd.PersistentFlags().Lookup(LogDeveloperKey)
		require.NotNil(t, flag)
		assert.True(t, flag.Hidden)
	})
}

func TestLoggerConfigFrom(t *testing.T) {
	t.Run("stderr by default", func(t *testing.T) {
		cfg := loggerConfigFrom(Global{LogLevel: 3})
		assert.Empty(t, cfg.Type)
		assert.Equal(t, int8(3), cfg.Level)
		assert.False(t, cfg.Developer)
	})

	t.Run("log file selects the logfile sink", func(t *testing.T) {
		cfg := loggerConfigFrom(Global{LogLevel: 2, LogFile: "/var/log/nixup.log", LogDeveloper: true})
		assert.Equal(t, "logfile", cfg.Type)
		assert.Equal(t, "/var/log/nixup.log", cfg.File)
		assert.True(t, cfg.Developer)
		assert.Greater(t, cfg.MaxSize, 0)
		assert.Greater(t, cfg.NumRotatedFiles, 0)
	})
}
