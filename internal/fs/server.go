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

package fs

import (
	"context"
	"fmt"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/lzfs/lzfs/internal/fs/wrappers"
)

// NewServer creates a fuse file system server according to the supplied
// configuration. Errors are mapped to errnos innermost, so the debug,
// tracing and monitoring layers observe what the kernel will see.
func NewServer(ctx context.Context, serverCfg *ServerConfig) (fuse.Server, error) {
	fs, err := NewFileSystem(ctx, serverCfg)
	if err != nil {
		return nil, fmt.Errorf("create file system: %w", err)
	}

	wrapped := wrappers.WithErrorMapping(fs)
	if c := serverCfg.NewConfig; c != nil {
		if c.Debug.Fuse {
			wrapped = wrappers.WithDebugLogging(wrapped)
		}
		if c.Monitoring.ExperimentalTracingMode != "" {
			wrapped = wrappers.WithTracing(wrapped)
		}
	}
	wrapped = wrappers.WithMonitoring(wrapped, fs.(*fileSystem).metricHandle)
	return fuseutil.NewFileSystemServer(wrapped), nil
}
