// Copyright 2026 Google LLC
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

// Package logger is the process-wide structured logger. It writes either to
// stdout or to a rotated log file, in text or JSON form.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lzfs/lzfs/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

var (
	defaultLoggerFactory *loggerFactory
	defaultLogger        *slog.Logger
)

type loggerFactory struct {
	// If nil, log to stdout. Otherwise, log to this rotating file.
	file            *lumberjack.Logger
	format          string
	level           string
	logRotateConfig cfg.LogRotateLoggingConfig

	// Attached to every record, e.g. the mount id.
	attrs []slog.Attr
}

func defaultLogRotateConfig() cfg.LogRotateLoggingConfig {
	return cfg.LogRotateLoggingConfig{
		BackupFileCount: 10,
		Compress:        true,
		MaxFileSizeMb:   512,
	}
}

// init initializes the logger factory to use stdout.
func init() {
	defaultLoggerFactory = &loggerFactory{
		format:          "text",
		level:           cfg.INFO,
		logRotateConfig: defaultLogRotateConfig(),
	}
	defaultLogger = defaultLoggerFactory.newLogger(cfg.INFO)
}

// InitLogFile points the default logger at the configured destination. An
// empty file path keeps logging on stdout.
func InitLogFile(c cfg.LoggingConfig) error {
	f := &loggerFactory{
		format:          c.Format,
		level:           string(c.Severity),
		logRotateConfig: c.LogRotate,
		attrs:           defaultLoggerFactory.attrs,
	}
	if f.level == "" {
		f.level = cfg.INFO
	}

	if c.FilePath != "" {
		// Fail early on an unwritable path; lumberjack opens lazily.
		fh, err := os.OpenFile(string(c.FilePath), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		fh.Close()

		f.file = &lumberjack.Logger{
			Filename:   string(c.FilePath),
			MaxSize:    int(c.LogRotate.MaxFileSizeMb),
			MaxBackups: int(c.LogRotate.BackupFileCount),
			Compress:   c.LogRotate.Compress,
		}
	}

	Close()
	defaultLoggerFactory = f
	defaultLogger = f.newLogger(f.level)
	return nil
}

// SetLogFormat switches the format of the default logger, keeping its
// destination and severity.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	defaultLogger = defaultLoggerFactory.newLogger(defaultLoggerFactory.level)
}

// SetMountID tags every subsequent record with the given mount id.
func SetMountID(id string) {
	defaultLoggerFactory.attrs = []slog.Attr{slog.String("mount-id", id)}
	defaultLogger = defaultLoggerFactory.newLogger(defaultLoggerFactory.level)
}

// Close closes the log file when necessary.
func Close() {
	if f := defaultLoggerFactory.file; f != nil {
		f.Close()
		defaultLoggerFactory.file = nil
	}
}

func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return f.file
	}
	return os.Stdout
}

func (f *loggerFactory) newLogger(level string) *slog.Logger {
	programLevel := new(slog.LevelVar)
	setLoggingLevel(level, programLevel)
	return slog.New(f.handler(programLevel, ""))
}

func (f *loggerFactory) handler(levelVar *slog.LevelVar, prefix string) slog.Handler {
	h := f.createJsonOrTextHandler(f.writer(), levelVar, prefix)
	if len(f.attrs) > 0 {
		h = h.WithAttrs(f.attrs)
	}
	return h
}

func (f *loggerFactory) createJsonOrTextHandler(writer io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "text" {
		return slog.NewTextHandler(writer, getHandlerOptions(levelVar, prefix, f.format))
	}
	return slog.NewJSONHandler(writer, getHandlerOptions(levelVar, prefix, f.format))
}

func logf(level slog.Level, format string, v ...interface{}) {
	ctx := context.Background()
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, v...))
}

// Tracef prints the message with TRACE severity in the specified format.
func Tracef(format string, v ...interface{}) {
	logf(LevelTrace, format, v...)
}

// Debugf prints the message with DEBUG severity in the specified format.
func Debugf(format string, v ...interface{}) {
	logf(LevelDebug, format, v...)
}

// Infof prints the message with INFO severity in the specified format.
func Infof(format string, v ...interface{}) {
	logf(LevelInfo, format, v...)
}

// Info prints the message with info severity.
func Info(message string, args ...any) {
	defaultLogger.Info(message, args...)
}

// Warnf prints the message with WARNING severity in the specified format.
func Warnf(format string, v ...interface{}) {
	logf(LevelWarn, format, v...)
}

// Errorf prints the message with ERROR severity in the specified format.
func Errorf(format string, v ...interface{}) {
	logf(LevelError, format, v...)
}

// Error prints the message with ERROR severity.
func Error(msg string) {
	defaultLogger.Error(msg)
}

// Fatal prints an error log and exits with non-zero exit code.
func Fatal(format string, v ...interface{}) {
	Errorf(format, v...)
	Close()
	os.Exit(1)
}
