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

import "strings"

// MountOptions returns the options handed to the kernel for the mount.
func MountOptions(c *Config) map[string]string {
	opts := make(map[string]string)
	for _, o := range c.FileSystem.FuseOptions {
		name, value, _ := strings.Cut(o, "=")
		opts[name] = value
	}

	opts["default_permissions"] = ""
	if c.FileSystem.ReadOnly {
		opts["ro"] = ""
	}
	if !c.FileSystem.Atime {
		opts["noatime"] = ""
	}
	if !c.FileSystem.Suid {
		opts["nosuid"] = ""
	}
	if !c.FileSystem.Devices {
		opts["nodev"] = ""
	}
	if !c.FileSystem.Exec {
		opts["noexec"] = ""
	}
	return opts
}

// ShowOptions renders the file-system specific part of the mount's option
// string. Options the kernel already prints itself (ro, noatime, nodev,
// noexec) are left out.
func ShowOptions(c *Config) string {
	var b strings.Builder
	fs := &c.FileSystem

	if fs.Atime {
		b.WriteString(",atime")
	}

	b.WriteString(",noxattr")

	if !fs.Suid {
		b.WriteString(",nosuid")
	} else {
		b.WriteString(",suid")
		if fs.Devices {
			b.WriteString(",devices")
		}
		b.WriteString(",setuid")
	}

	if fs.Exec {
		b.WriteString(",exec")
	}

	if fs.Snapdir == SnapdirVisible {
		b.WriteString(",snapdir=visible")
	}
	return b.String()
}
