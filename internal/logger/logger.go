// Package logger configures the application-wide zap logger. Log output
// never mixes with command output: human-facing results go to stdout,
// log messages go to stderr or a rotated log file.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Type selects where log messages are sent ('stderr', 'stdout',
	// 'logfile').
	Type string `mapstructure:"type"`
	// File is the log file path when Type is 'logfile'. Missing parent
	// directories are created.
	File string `mapstructure:"file"`
	// Level adjusts verbosity (0=Fatal, 1=Error, 2=Warn, 3=Info,
	// 4+5=Debug).
	Level int8 `mapstructure:"level"`
	// MaxSize is the maximum size of File in megabytes before it is
	// rotated.
	MaxSize int `mapstructure:"max-size"`
	// NumRotatedFiles is how many rotated log files to keep.
	NumRotatedFiles int `mapstructure:"num-rotated-files"`
	// Developer enables debug logging with stack traces at WarnLevel
	// and above, ignoring Level and Type.
	Developer bool `mapstructure:"developer"`
}

// Logger wraps zap so callers hold one type regardless of how logging
// was configured.
type Logger struct {
	*zap.Logger
}

// New builds a logger from the config. The caller owns the returned
// logger and should defer Sync.
func New(cfg Config) (*Logger, error) {
	if cfg.Developer {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("unable to initialize developer logging: %w", err)
		}
		return &Logger{Logger: zl}, nil
	}

	level, err := levelFromInt(cfg.Level)
	if err != nil {
		return nil, err
	}

	var sink zapcore.WriteSyncer
	switch cfg.Type {
	case "", "stderr":
		sink = zapcore.Lock(os.Stderr)
	case "stdout":
		sink = zapcore.Lock(os.Stdout)
	case "logfile":
		if cfg.File == "" {
			return nil, fmt.Errorf("log type is 'logfile' but no log file was configured")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		// Log messages stay visible on the terminal even when a log
		// file is configured.
		sink = zapcore.NewMultiWriteSyncer(
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.NumRotatedFiles,
			}),
			zapcore.Lock(os.Stderr),
		)
	default:
		return nil, fmt.Errorf("unknown log type %q (expected 'stderr', 'stdout', or 'logfile')", cfg.Type)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	return &Logger{Logger: zap.New(core)}, nil
}

func levelFromInt(level int8) (zapcore.Level, error) {
	switch level {
	case 0:
		return zapcore.FatalLevel, nil
	case 1:
		return zapcore.ErrorLevel, nil
	case 2:
		return zapcore.WarnLevel, nil
	case 3:
		return zapcore.InfoLevel, nil
	case 4, 5:
		return zapcore.DebugLevel, nil
	}
	return 0, fmt.Errorf("invalid log level %d (expected 0-5)", level)
}
