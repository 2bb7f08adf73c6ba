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

package cfg

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lzfs/lzfs/internal/util"
)

// Octal is the datatype for params such as dir-mode which accept a base-8 value.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text) /*base=*/, 8 /*bitSize=*/, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte("0" + strconv.FormatInt(int64(o), 8)), nil
}

// LogSeverity represents the logging severity and can accept the following values
// "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// ResolvedPath represents a file-path which is an absolute path and is resolved
// based on the value of the LZFS_PARENT_PROCESS_DIR env var.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := util.GetResolvedPath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}

// Compression names the codec used for pool images.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

func (c *Compression) UnmarshalText(text []byte) error {
	txtStr := string(text)
	v := []string{"none", "lz4", "zstd"}
	if !slices.Contains(v, strings.ToLower(txtStr)) {
		return fmt.Errorf("invalid compression value: %s. It can only accept values in the list: %v", txtStr, v)
	}
	*c = Compression(strings.ToLower(txtStr))
	return nil
}

// SnapdirVisibility controls whether the control directory is listed in the
// root directory.
type SnapdirVisibility string

const (
	SnapdirHidden  SnapdirVisibility = "hidden"
	SnapdirVisible SnapdirVisibility = "visible"
)

func (s *SnapdirVisibility) UnmarshalText(text []byte) error {
	txtStr := string(text)
	v := []string{"hidden", "visible"}
	if !slices.Contains(v, strings.ToLower(txtStr)) {
		return fmt.Errorf("invalid snapdir value: %s. It can only accept values in the list: %v", txtStr, v)
	}
	*s = SnapdirVisibility(strings.ToLower(txtStr))
	return nil
}
