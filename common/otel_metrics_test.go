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

package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupOTel(t *testing.T) (MetricHandle, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewOTelMetrics()
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, rd *metric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, rd.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumFor(t *testing.T, data metricdata.Aggregation, attrs attribute.Set) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "not an int64 sum: %T", data)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&attrs) {
			return dp.Value
		}
	}
	return 0
}

func TestOpsCount(t *testing.T) {
	m, rd := setupOTel(t)
	ctx := context.Background()

	m.OpsCount(ctx, 3, OpLookUpInode)
	m.OpsCount(ctx, 1, OpReadFile)
	m.OpsCount(ctx, 2, OpLookUpInode)

	data := collect(t, rd)
	assert.Equal(t, int64(5), sumFor(t, data["fs/ops_count"], attribute.NewSet(fsOpKey.String(OpLookUpInode))))
	assert.Equal(t, int64(1), sumFor(t, data["fs/ops_count"], attribute.NewSet(fsOpKey.String(OpReadFile))))
}

func TestOpsErrorCount(t *testing.T) {
	m, rd := setupOTel(t)

	m.OpsErrorCount(context.Background(), 1, FSOpsErrorCategory{FSOps: OpMkDir, ErrorCategory: ErrCategoryReadOnly})

	data := collect(t, rd)
	want := attribute.NewSet(fsOpKey.String(OpMkDir), fsErrCategoryKey.String(ErrCategoryReadOnly))
	assert.Equal(t, int64(1), sumFor(t, data["fs/ops_error_count"], want))
}

func TestOpsLatency(t *testing.T) {
	m, rd := setupOTel(t)

	m.OpsLatency(context.Background(), 250*time.Microsecond, OpWriteFile)

	hist, ok := collect(t, rd)["fs/ops_latency"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, 250.0, hist.DataPoints[0].Sum)
}

func TestPageCacheEventsAndSnapshotMounts(t *testing.T) {
	m, rd := setupOTel(t)
	ctx := context.Background()

	m.PageCacheEvent(ctx, 1, PageCacheMiss)
	m.PageCacheEvent(ctx, 4, PageCacheHit)
	m.SnapshotMounts(ctx, 2)
	m.SnapshotMounts(ctx, -1)

	data := collect(t, rd)
	assert.Equal(t, int64(4), sumFor(t, data["page_cache/events"], attribute.NewSet(pageCacheEventKey.String(PageCacheHit))))
	assert.Equal(t, int64(1), sumFor(t, data["snapshot/mounts"], *attribute.EmptySet()))
}

func TestNoopMetricsAcceptsEverything(t *testing.T) {
	m := NewNoopMetrics()

	m.OpsCount(context.Background(), 1, OpStatFS)
	m.PageCacheEvent(context.Background(), 1, PageCacheError)
	m.SnapshotMounts(context.Background(), 1)
}
