// Package logging builds the zap loggers used by the topodata commands.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "topodata_log_entries_total",
	Help: "The total number of log entries by level",
}, []string{"level"})

// A Config configures a logger.
type Config struct {
	Format string // "json" or "console".
	Level  string
	Output zapcore.WriteSyncer // Defaults to os.Stderr.
}

// NewLogger returns a new logger configured by cfg.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid log level", cfg.Level)
	}

	output := cfg.Output
	if output == nil {
		output = zapcore.Lock(os.Stderr)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "text":
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return nil, fmt.Errorf("%s: invalid log format", cfg.Format)
	}

	core := &countingCore{
		Core: zapcore.NewCore(encoder, output, level),
	}
	return zap.New(core, zap.AddCaller()), nil
}

// A countingCore counts the entries written to it by level.
type countingCore struct {
	zapcore.Core
}

func (c *countingCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *countingCore) With(fields []zapcore.Field) zapcore.Core {
	return &countingCore{
		Core: c.Core.With(fields),
	}
}

func (c *countingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	logEntriesTotal.WithLabelValues(entry.Level.String()).Inc()
	return c.Core.Write(entry, fields)
}
