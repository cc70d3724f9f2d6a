// Package logging builds the process-wide zap logger.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfig returns info-level JSON logging.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// Validate rejects unknown levels and formats.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (want json or console)", c.Format)
	}
	return nil
}

// New creates a logger from config, writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(cfg.Level)

	core := zapcore.NewCore(
		newEncoder(cfg.Format),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core), nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Sync flushes buffered entries. Harmless stderr sync errors are dropped.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// isStdoutSyncError checks if error is harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
