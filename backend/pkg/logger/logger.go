package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// Config holds logger configuration
type Config struct {
	Service     string
	Version     string
	Environment string // "development" or "production"
	Level       string // "debug", "info", "warn", "error"
}

// Initialize sets up the package-level logger. Must be called once at
// process startup before any of Info/Warn/Error/Fatal are used.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}

	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	built, err := zapCfg.Build(zap.Fields(
		zap.String("service", cfg.Service),
		zap.String("version", cfg.Version),
	))
	if err != nil {
		return err
	}

	log = built
	return nil
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

func logger() *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return log
}

// Info logs at info level with structured fields.
func Info(msg string, fields ...zap.Field) {
	logger().Info(msg, fields...)
}

// Warn logs at warn level with structured fields.
func Warn(msg string, fields ...zap.Field) {
	logger().Warn(msg, fields...)
}

// Error logs at error level with structured fields.
func Error(msg string, fields ...zap.Field) {
	logger().Error(msg, fields...)
}

// Fatal logs at fatal level then calls os.Exit(1).
func Fatal(msg string, fields ...zap.Field) {
	logger().Fatal(msg, fields...)
}
