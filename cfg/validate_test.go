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
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		FileSystem: FileSystemConfig{PageSize: 4096, DirMode: 0755},
		Engine:     EngineConfig{OpsPerSec: -1, ReadBytesPerSec: -1},
		Logging: LoggingConfig{
			Format:    "json",
			LogRotate: LogRotateLoggingConfig{MaxFileSizeMb: 1},
		},
	}
}

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero max file size", mutate: func(c *Config) { c.Logging.LogRotate.MaxFileSizeMb = 0 }, wantErr: true},
		{name: "negative backup count", mutate: func(c *Config) { c.Logging.LogRotate.BackupFileCount = -1 }, wantErr: true},
		{name: "unknown log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "page size not a power of two", mutate: func(c *Config) { c.FileSystem.PageSize = 3000 }, wantErr: true},
		{name: "page size too large", mutate: func(c *Config) { c.FileSystem.PageSize = 1 << 21 }, wantErr: true},
		{name: "zero ops per sec", mutate: func(c *Config) { c.Engine.OpsPerSec = 0 }, wantErr: true},
		{name: "unknown tracing mode", mutate: func(c *Config) { c.Monitoring.ExperimentalTracingMode = "gcptrace" }, wantErr: true},
		{name: "stdout tracing", mutate: func(c *Config) { c.Monitoring.ExperimentalTracingMode = TracingModeStdout }},
		{name: "bad port", mutate: func(c *Config) { c.Metrics.PrometheusPort = 70000 }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)

			err := ValidateConfig(c)

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
