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
	"os"
	"slices"
)

// isSet interface is abstraction over the IsSet() method of viper, specially
// added to keep rationalize method simple.
type isSet interface {
	IsSet(string) bool
}

// Mount options that toggle a FileSystemConfig field. They are consumed here
// rather than handed to the kernel verbatim.
var toggleOptions = map[string]func(c *FileSystemConfig){
	"ro":       func(c *FileSystemConfig) { c.ReadOnly = true },
	"rw":       func(c *FileSystemConfig) { c.ReadOnly = false },
	"atime":    func(c *FileSystemConfig) { c.Atime = true },
	"noatime":  func(c *FileSystemConfig) { c.Atime = false },
	"suid":     func(c *FileSystemConfig) { c.Suid = true },
	"nosuid":   func(c *FileSystemConfig) { c.Suid = false },
	"dev":      func(c *FileSystemConfig) { c.Devices = true },
	"nodev":    func(c *FileSystemConfig) { c.Devices = false },
	"exec":     func(c *FileSystemConfig) { c.Exec = true },
	"noexec":   func(c *FileSystemConfig) { c.Exec = false },
	"setuid":   func(c *FileSystemConfig) { c.Suid = true },
	"nosetuid": func(c *FileSystemConfig) { c.Suid = false },
}

func resolveFuseOptions(c *FileSystemConfig) {
	var rest []string
	for _, o := range c.FuseOptions {
		if apply, ok := toggleOptions[o]; ok {
			apply(c)
			continue
		}
		if !slices.Contains(rest, o) {
			rest = append(rest, o)
		}
	}
	c.FuseOptions = rest
}

func resolveOwner(v isSet, c *FileSystemConfig) {
	if !v.IsSet(UidConfigKey) || c.Uid < 0 {
		c.Uid = int64(os.Getuid())
	}
	if !v.IsSet(GidConfigKey) || c.Gid < 0 {
		c.Gid = int64(os.Getgid())
	}
}

// Rationalize updates the config fields based on the values of other fields.
func Rationalize(v isSet, c *Config) error {
	if c.Debug.Fuse || c.Debug.LogMutex {
		c.Logging.Severity = TraceLogSeverity
	}

	resolveFuseOptions(&c.FileSystem)
	resolveOwner(v, &c.FileSystem)

	return nil
}
