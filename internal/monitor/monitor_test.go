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

package monitor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/lzfs/lzfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func freePort(t *testing.T) int64 {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return int64(l.Addr().(*net.TCPAddr).Port)
}

func TestSetupOTelMetricExporters_ServesPrometheus(t *testing.T) {
	port := freePort(t)
	c := &cfg.Config{Metrics: cfg.MetricsConfig{PrometheusPort: port}}

	shutdown := SetupOTelMetricExporters(context.Background(), c)
	require.NotNil(t, shutdown)
	defer func() { assert.NoError(t, shutdown(context.Background())) }()

	counter, err := otel.Meter("monitor_test").Int64Counter("test_requests")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_requests")
}

func TestSetupOTelMetricExporters_NoPort(t *testing.T) {
	shutdown := SetupOTelMetricExporters(context.Background(), &cfg.Config{})

	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_Disabled(t *testing.T) {
	assert.Nil(t, SetupTracing(context.Background(), &cfg.Config{}, "mount"))
}

func TestSetupTracing_Stdout(t *testing.T) {
	c := &cfg.Config{Monitoring: cfg.MonitoringConfig{ExperimentalTracingMode: cfg.TracingModeStdout}}

	shutdown := SetupTracing(context.Background(), c, "mount")
	require.NotNil(t, shutdown)

	_, span := StartSpan(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}
