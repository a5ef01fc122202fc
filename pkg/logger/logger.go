// Package logger provides opinionated logging capabilities for acp-traces.
//
// All log output goes to stderr: stdout carries the forwarded ACP byte
// stream and must never be written to by anything but the pump.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// NewLogger returns a stderr console logger whose level is derived from the
// repeatable -v flag: 0 = warn, 1 = info, 2+ = debug.
func NewLogger(verbosity int) *zap.Logger {
	return NewLoggerWithWriters(verbosity, os.Stderr)
}

// NewLoggerWithWriters builds the same logger against explicit writers.
// Level colors are only enabled when stderr is a terminal.
func NewLoggerWithWriters(verbosity int, writers ...io.Writer) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	level := zap.WarnLevel
	switch {
	case verbosity == 1:
		level = zap.InfoLevel
	case verbosity >= 2:
		level = zap.DebugLevel
	}

	if len(writers) == 0 {
		writers = []io.Writer{os.Stderr}
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(writers))
	for _, writer := range writers {
		syncers = append(syncers, zapcore.AddSync(writer))
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(syncers...),
		level,
	)

	return zap.New(core, zap.AddCaller())
}
