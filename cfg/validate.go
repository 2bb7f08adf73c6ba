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
	"math/bits"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLogFormat(format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported log format %q, must be 'text' or 'json'", format)
	}
	return nil
}

func isValidFileSystemConfig(c *FileSystemConfig) error {
	if c.PageSize < MinPageSize || c.PageSize > MaxPageSize || bits.OnesCount64(uint64(c.PageSize)) != 1 {
		return fmt.Errorf("page-size must be a power of two in [%d, %d], got %d", MinPageSize, MaxPageSize, c.PageSize)
	}
	if c.AttrCacheTtl < 0 {
		return fmt.Errorf("attr-cache-ttl can't be negative")
	}
	if c.DirMode < 0 || c.DirMode > 0777 {
		return fmt.Errorf("dir-mode must be permission bits")
	}
	return nil
}

func isValidEngineConfig(c *EngineConfig) error {
	if c.OpsPerSec == 0 || c.ReadBytesPerSec == 0 {
		return fmt.Errorf("ops-per-sec and read-bytes-per-sec must be positive or -1")
	}
	return nil
}

func isValidMonitoringConfig(c *MonitoringConfig) error {
	if c.ExperimentalTracingMode != "" && c.ExperimentalTracingMode != TracingModeStdout {
		return fmt.Errorf("unsupported tracing mode %q", c.ExperimentalTracingMode)
	}
	return nil
}

func isValidMetricsConfig(c *MetricsConfig) error {
	if c.PrometheusPort < 0 || c.PrometheusPort > 65535 {
		return fmt.Errorf("prometheus-port out of range: %d", c.PrometheusPort)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err = isValidLogFormat(config.Logging.Format); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if err = isValidFileSystemConfig(&config.FileSystem); err != nil {
		return fmt.Errorf("error parsing file-system config: %w", err)
	}

	if err = isValidEngineConfig(&config.Engine); err != nil {
		return fmt.Errorf("error parsing engine config: %w", err)
	}

	if err = isValidMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("error parsing metrics config: %w", err)
	}

	if err = isValidMonitoringConfig(&config.Monitoring); err != nil {
		return fmt.Errorf("error parsing monitoring config: %w", err)
	}

	return nil
}
