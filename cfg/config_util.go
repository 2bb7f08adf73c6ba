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

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// IsTracingEnabled reports whether any trace exporter is configured.
func IsTracingEnabled(c *Config) bool {
	return c.Monitoring.ExperimentalTracingMode != ""
}

// IsMetricsEnabled reports whether the Prometheus endpoint is served.
func IsMetricsEnabled(c *Config) bool {
	return c.Metrics.PrometheusPort > 0
}

// Load decodes v, which must have had BindFlags applied and any config file
// read, into a rationalized and validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(DecodeHook()), func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Rationalize(v, &c); err != nil {
		return nil, fmt.Errorf("rationalize config: %w", err)
	}
	if err := ValidateConfig(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
