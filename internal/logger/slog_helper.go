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

package logger

import (
	"log/slog"

	"github.com/lzfs/lzfs/cfg"
)

var levelNames = map[slog.Level]string{
	LevelTrace: cfg.TRACE,
	LevelDebug: cfg.DEBUG,
	LevelInfo:  cfg.INFO,
	LevelWarn:  cfg.WARNING,
	LevelError: cfg.ERROR,
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	// logs having severity >= the configured value will be logged.
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.INFO:
		programLevel.Set(LevelInfo)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	}
}

func getHandlerOptions(levelVar *slog.LevelVar, prefix string, format string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severity"
				level := a.Value.Any().(slog.Level)
				name, ok := levelNames[level]
				if !ok {
					name = level.String()
				}
				a.Value = slog.StringValue(name)

			case slog.TimeKey:
				currTime := a.Value.Time().Round(0)
				if format == "text" {
					a.Value = slog.StringValue(currTime.Format("02/01/2006 15:04:05.000000"))
				} else {
					a.Key = "timestamp"
					a.Value = slog.GroupValue(
						slog.Int64("seconds", currTime.Unix()),
						slog.Int("nanos", currTime.Nanosecond()),
					)
				}

			case slog.MessageKey:
				a.Key = "message"
				a.Value = slog.StringValue(prefix + a.Value.String())
			}
			return a
		},
	}
}
