// Package logging builds the zap loggers used by the bridge host.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RobertWHurst/cfxbridge/internal/config"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red          = "\033[31m"
	Gray         = "\033[90m"
	BrightRed    = "\033[91m"
	BrightYellow = "\033[93m"
	BrightWhite  = "\033[97m"
)

func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	default:
		return Red
	}
}

// consoleEncoder is a compact console encoder: HH:MM:SS, a one letter
// level and the caller's file name.
func consoleEncoder(enableColors bool) zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()

	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		ts := t.Format("15:04:05")
		if enableColors {
			ts = Dim + ts + Reset
		}
		enc.AppendString(ts)
	}

	cfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		short := "?"
		switch level {
		case zapcore.DebugLevel:
			short = "D"
		case zapcore.InfoLevel:
			short = "I"
		case zapcore.WarnLevel:
			short = "W"
		case zapcore.ErrorLevel:
			short = "E"
		}
		if enableColors {
			short = getLevelColor(level) + Bold + short + Reset
		}
		enc.AppendString(short)
	}

	cfg.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = strings.TrimSuffix(file, ".go")
		if enableColors {
			file = Dim + file + Reset
		}
		enc.AppendString(file)
	}

	return zapcore.NewConsoleEncoder(cfg)
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// New builds a logger from cfg. Logs go to stderr unless an output file is
// set; stdout belongs to the stdio front end.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	sink := zapcore.Lock(os.Stderr)
	colors := true
	if cfg.OutputFile != "" {
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		sink = zapcore.AddSync(file)
		colors = false
	}

	return NewWithSink(cfg.Format, level, sink, colors), nil
}

// NewWithSink builds a logger writing format ("json" or "console") at
// level to sink.
func NewWithSink(format string, level zapcore.Level, sink zapcore.WriteSyncer, colors bool) *zap.Logger {
	encoder := consoleEncoder(colors)
	if format == "json" {
		encoder = jsonEncoder()
	}
	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller())
}
