// Package config handles the global command line tool config - the
// global flags, environment variable bindings, and the logger
// singleton shared by all commands.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/nixup-tools/nixup/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys for the global configuration. Flags, environment variables
// (NIXUP_ prefixed, hyphens replaced with underscores), and viper
// lookups all share these names.
const (
	LogLevelKey     = "log-level"
	LogDeveloperKey = "log-developer"
	LogFileKey      = "log-file"
	PrintJsonKey    = "json"
	// PrintJsonPrettyKey implies PrintJsonKey.
	PrintJsonPrettyKey = "json-pretty"
	NumWorkersKey      = "num-workers"
	// NoChecksKey skips the toolchain preflight verification.
	NoChecksKey = "no-checks"
)

// Defines all the global flags and binds them to viper.
func InitGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Int8(LogLevelKey, 2, `By default only warnings and errors are logged to stderr.
	Optionally additional logging can be enabled to assist with debugging (0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug).`)

	cmd.PersistentFlags().Bool(LogDeveloperKey, false, "Enable logging at DebugLevel and above and print stack traces at WarnLevel and above.")
	cmd.PersistentFlags().MarkHidden(LogDeveloperKey)

	cmd.PersistentFlags().String(LogFileKey, "", "Write log messages to this file instead of stderr (if needed the directory and all parent directories will be created).")

	cmd.PersistentFlags().Bool(PrintJsonKey, false, "Print output normally rendered using a table as JSON instead.")
	cmd.PersistentFlags().Bool(PrintJsonPrettyKey, false, "Print output normally rendered using a table as pretty JSON instead.")

	cmd.PersistentFlags().Int(NumWorkersKey, runtime.GOMAXPROCS(0), "The maximum number of workers to use when a command can complete work in parallel (default: number of CPUs).")

	cmd.PersistentFlags().Bool(NoChecksKey, false, "Skip the preflight verification of the Nix installation (version and required experimental features).")

	// Environment variables should start with NIXUP_
	viper.SetEnvPrefix("nixup")
	// Environment variables cannot use "-", replace with "_"
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Bind all persistent pflags to viper
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		viper.BindEnv(flag.Name)
		viper.BindPFlag(flag.Name, flag)
	})
}

var (
	globalLogger    *logger.Logger
	globalLoggerErr error
	loggerOnce      sync.Once
)

// GetLogger returns the process-wide logger, building it from the
// typed global configuration on first use.
func GetLogger() (*logger.Logger, error) {
	loggerOnce.Do(func() {
		g, err := GetGlobal()
		if err != nil {
			globalLoggerErr = err
			return
		}
		globalLogger, globalLoggerErr = logger.New(loggerConfigFrom(g))
		if globalLoggerErr != nil {
			globalLoggerErr = fmt.Errorf("unable to initialize logger: %w", globalLoggerErr)
		}
	})
	return globalLogger, globalLoggerErr
}

// loggerConfigFrom maps the flat global keys onto the logger's own
// config shape.
func loggerConfigFrom(g Global) logger.Config {
	cfg := logger.Config{
		Level:           g.LogLevel,
		File:            g.LogFile,
		Developer:       g.LogDeveloper,
		MaxSize:         100,
		NumRotatedFiles: 2,
	}
	if cfg.File != "" {
		cfg.Type = "logfile"
	}
	return cfg
}

// Global is the typed view of the global configuration.
type Global struct {
	LogLevel     int8   `mapstructure:"log-level"`
	LogDeveloper bool   `mapstructure:"log-developer"`
	LogFile      string `mapstructure:"log-file"`
	Json         bool   `mapstructure:"json"`
	JsonPretty   bool   `mapstructure:"json-pretty"`
	NumWorkers   int    `mapstructure:"num-workers"`
	NoChecks     bool   `mapstructure:"no-checks"`
}

// GetGlobal decodes the merged flag/environment configuration.
func GetGlobal() (Global, error) {
	var g Global
	err := viper.Unmarshal(&g, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Global{}, fmt.Errorf("unable to decode global configuration: %w", err)
	}
	return g, nil
}

// Cleanup flushes anything the global config owns. Safe to call when
// the logger was never initialized.
func Cleanup() {
	if globalLogger != nil {
		globalLogger.Sync()
	}
}
