// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level   string
	Dev     bool
	Service string
}

// ConfigFromEnv reads LOG_LEVEL and LOG_DEV.
func ConfigFromEnv(service string) Config {
	dev := os.Getenv("LOG_DEV") == "1"
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		if dev {
			lvl = "debug"
		} else {
			lvl = "info"
		}
	}
	return Config{Level: lvl, Dev: dev, Service: service}
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(l) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger writing to stdout.
func New(cfg Config) (*zap.Logger, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger writing JSON to w, or a development console
// logger when cfg.Dev is set.
func NewWithWriter(cfg Config, w io.Writer) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)

	var logger *zap.Logger
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		built, err := c.Build()
		if err != nil {
			return nil, err
		}
		logger = built
	} else {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), lvl)
		logger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	if cfg.Service != "" {
		logger = logger.With(zap.String("service", cfg.Service))
	}
	return logger, nil
}
