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

package util

import (
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ParentProcessDirEnv carries the working directory of the invoking process
// into the daemonized child, so relative paths given on the command line
// still resolve correctly.
const ParentProcessDirEnv = "LZFS_PARENT_PROCESS_DIR"

const MaxMiBsInUint64 uint64 = math.MaxUint64 >> 20

// GetResolvedPath turns filePath into an absolute path.
//
//  1. Empty and absolute paths are returned unchanged.
//  2. "~/" is resolved against the home directory.
//  3. Anything else is resolved against ParentProcessDirEnv when set, and the
//     current directory otherwise.
func GetResolvedPath(filePath string) (string, error) {
	if filePath == "" || path.IsAbs(filePath) {
		return filePath, nil
	}

	if strings.HasPrefix(filePath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("fetch home dir: %w", err)
		}
		return filepath.Join(homeDir, filePath[2:]), nil
	}

	parentDir := strings.TrimSpace(os.Getenv(ParentProcessDirEnv))
	if parentDir == "" {
		return filepath.Abs(filePath)
	}
	return filepath.Join(parentDir, filePath), nil
}

// MiBsToBytes returns the number of bytes in the given number of MiBs. It
// panics for inputs that would overflow.
func MiBsToBytes(mibs uint64) uint64 {
	if mibs > MaxMiBsInUint64 {
		panic("Inputs above (2^44 - 1) not supported.")
	}
	return mibs << 20
}
