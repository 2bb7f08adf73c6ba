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
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// Attribute Keys
	// fsOpKey specifies the FS operation like LookUpInode, ReadFile etc.
	fsOpKey = attribute.Key("fs_op")
	// fsErrCategoryKey specifies the error category. The intention is to reduce the cardinality of FSError by grouping errors together.
	fsErrCategoryKey = attribute.Key("fs_error_category")
	// pageCacheEventKey specifies the page-cache event.
	pageCacheEventKey = attribute.Key("event")

	fsOpsOptionCache,
	fsOpsErrorCategoryOptionCache,
	pageCacheEventOptionCache sync.Map
)

func loadOrStoreAttrOption[K comparable](mp *sync.Map, key K, attrSetGenFunc func() attribute.Set) metric.MeasurementOption {
	attrSet, ok := mp.Load(key)
	if ok {
		return attrSet.(metric.MeasurementOption)
	}
	v, _ := mp.LoadOrStore(key, metric.WithAttributeSet(attrSetGenFunc()))
	return v.(metric.MeasurementOption)
}

func fsOpsAttrOption(fsOps string) metric.MeasurementOption {
	return loadOrStoreAttrOption(&fsOpsOptionCache, fsOps,
		func() attribute.Set {
			return attribute.NewSet(fsOpKey.String(fsOps))
		})
}

func getFsOpsErrorCategoryAttributeOption(attr FSOpsErrorCategory) metric.MeasurementOption {
	return loadOrStoreAttrOption(&fsOpsErrorCategoryOptionCache, attr,
		func() attribute.Set {
			return attribute.NewSet(fsOpKey.String(attr.FSOps), fsErrCategoryKey.String(attr.ErrorCategory))
		})
}

func pageCacheEventAttrOption(event string) metric.MeasurementOption {
	return loadOrStoreAttrOption(&pageCacheEventOptionCache, event,
		func() attribute.Set {
			return attribute.NewSet(pageCacheEventKey.String(event))
		})
}

// otelMetrics maintains the list of all metrics computed by the file system.
type otelMetrics struct {
	fsOpsCount      metric.Int64Counter
	fsOpsErrorCount metric.Int64Counter
	fsOpsLatency    metric.Float64Histogram

	pageCacheEvents metric.Int64Counter

	snapshotMounts metric.Int64UpDownCounter
}

func (o *otelMetrics) OpsCount(ctx context.Context, inc int64, fsOp string) {
	o.fsOpsCount.Add(ctx, inc, fsOpsAttrOption(fsOp))
}

func (o *otelMetrics) OpsLatency(ctx context.Context, latency time.Duration, fsOp string) {
	o.fsOpsLatency.Record(ctx, float64(latency.Microseconds()), fsOpsAttrOption(fsOp))
}

func (o *otelMetrics) OpsErrorCount(ctx context.Context, inc int64, attrs FSOpsErrorCategory) {
	o.fsOpsErrorCount.Add(ctx, inc, getFsOpsErrorCategoryAttributeOption(attrs))
}

func (o *otelMetrics) PageCacheEvent(ctx context.Context, inc int64, event string) {
	o.pageCacheEvents.Add(ctx, inc, pageCacheEventAttrOption(event))
}

func (o *otelMetrics) SnapshotMounts(ctx context.Context, inc int64) {
	o.snapshotMounts.Add(ctx, inc)
}

// NewOTelMetrics creates the instruments on the global meter provider, so it
// must be called after the provider is installed.
func NewOTelMetrics() (MetricHandle, error) {
	fsOpsMeter := otel.Meter("fs_op")
	pageCacheMeter := otel.Meter("page_cache")
	snapshotMeter := otel.Meter("snapshot")

	fsOpsCount, err1 := fsOpsMeter.Int64Counter("fs/ops_count",
		metric.WithDescription("The cumulative number of ops processed by the file system."))
	fsOpsLatency, err2 := fsOpsMeter.Float64Histogram("fs/ops_latency",
		metric.WithDescription("The cumulative distribution of file system operation latencies"),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 50000, 100000))
	fsOpsErrorCount, err3 := fsOpsMeter.Int64Counter("fs/ops_error_count",
		metric.WithDescription("The cumulative number of errors generated by file system operations"))
	pageCacheEvents, err4 := pageCacheMeter.Int64Counter("page_cache/events",
		metric.WithDescription("The cumulative number of page-cache hits, misses, fills, writebacks and errors."))
	snapshotMounts, err5 := snapshotMeter.Int64UpDownCounter("snapshot/mounts",
		metric.WithDescription("The number of snapshot datasets currently mounted beneath the control directory."))

	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return &otelMetrics{
		fsOpsCount:      fsOpsCount,
		fsOpsErrorCount: fsOpsErrorCount,
		fsOpsLatency:    fsOpsLatency,
		pageCacheEvents: pageCacheEvents,
		snapshotMounts:  snapshotMounts,
	}, nil
}
