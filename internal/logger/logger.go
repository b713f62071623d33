// Copyright 2025 The xfs-spaceevac Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the tool's process-wide logger: a slog.Logger
// backed by either stderr or a rotating log file, at a severity level and
// in a wire format chosen by configuration.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/johnpgarry/xfs-spaceevac/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// loggerFactory holds everything needed to rebuild defaultLogger after a
// configuration change (format switch, level change) without losing the
// currently open output.
type loggerFactory struct {
	out   io.Writer
	file  *AsyncLogger // non-nil, and also out's target, when logging to a rotated file
	level *slog.LevelVar
}

func (f *loggerFactory) handler(format cfg.LogFormat) *textOrJSONHandler {
	return newHandler(f.out, f.level, format == cfg.JSONLogFormat, "")
}

var defaultLoggerFactory = &loggerFactory{
	out:   os.Stderr,
	level: levelVarFor(InfoSeverity),
}

var currentFormat = cfg.TextLogFormat

var defaultLogger = slog.New(defaultLoggerFactory.handler(currentFormat))

// Severity names: aliases of cfg's log severities, so callers can use
// either package's names interchangeably.
type Severity = cfg.LogSeverity

const (
	TraceSeverity   = cfg.TraceLogSeverity
	DebugSeverity   = cfg.DebugLogSeverity
	InfoSeverity    = cfg.InfoLogSeverity
	WarningSeverity = cfg.WarningLogSeverity
	ErrorSeverity   = cfg.ErrorLogSeverity
	OffSeverity     = cfg.OffLogSeverity
)

func levelVarFor(sev Severity) *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(levelForSeverity(sev))
	return v
}

func levelForSeverity(sev Severity) slog.Level {
	switch sev {
	case TraceSeverity:
		return LevelTrace
	case DebugSeverity:
		return LevelDebug
	case InfoSeverity:
		return LevelInfo
	case WarningSeverity:
		return LevelWarn
	case ErrorSeverity:
		return LevelError
	default:
		return LevelOff
	}
}

func setLoggingLevel(sev Severity, v *slog.LevelVar) {
	v.Set(levelForSeverity(sev))
}

// InitLogFile redirects the default logger to config.FilePath through a
// rotating, asynchronous writer, or back to stderr if the path is empty.
// It is called once at startup after configuration has been resolved.
func InitLogFile(config cfg.LoggingConfig) error {
	if defaultLoggerFactory.file != nil {
		if err := defaultLoggerFactory.file.Close(); err != nil {
			return fmt.Errorf("close previous log file: %w", err)
		}
	}

	level := levelVarFor(config.Severity)
	currentFormat = config.Format
	if currentFormat == "" {
		currentFormat = cfg.TextLogFormat
	}

	if config.FilePath == "" {
		defaultLoggerFactory = &loggerFactory{out: os.Stderr, level: level}
		defaultLogger = slog.New(defaultLoggerFactory.handler(currentFormat))
		return nil
	}

	lj := &lumberjack.Logger{
		Filename:   string(config.FilePath),
		MaxSize:    config.LogRotate.MaxFileSizeMb,
		MaxBackups: config.LogRotate.BackupFileCount,
		Compress:   config.LogRotate.Compress,
	}
	async := NewAsyncLogger(lj, 4096)

	defaultLoggerFactory = &loggerFactory{out: async, file: async, level: level}
	defaultLogger = slog.New(defaultLoggerFactory.handler(currentFormat))
	return nil
}

// SetLogFormat switches the wire format of future log lines without
// disturbing the current output destination or level.
func SetLogFormat(format cfg.LogFormat) {
	currentFormat = format
	defaultLogger = slog.New(defaultLoggerFactory.handler(currentFormat))
}

// Logger returns the process-wide slog.Logger, for packages (like engine)
// that accept one rather than calling the package-level helpers below.
func Logger() *slog.Logger { return defaultLogger }

// Close releases the underlying log file, if any. Safe to call when
// logging to stderr.
func Close() error {
	if defaultLoggerFactory.file != nil {
		return defaultLoggerFactory.file.Close()
	}
	return nil
}

func Tracef(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}
func Debugf(format string, v ...any) { defaultLogger.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { defaultLogger.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { defaultLogger.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { defaultLogger.Error(fmt.Sprintf(format, v...)) }
