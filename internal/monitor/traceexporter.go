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

	"github.com/lzfs/lzfs/cfg"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func initPropagators() {
	props := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(props)
}

// SetupTracing bootstraps the OpenTelemetry tracing pipeline. It returns nil
// when tracing is disabled.
func SetupTracing(ctx context.Context, c *cfg.Config, mountID string) common.ShutdownFn {
	tp, shutdown, err := newTraceProvider(c, mountID)
	if err != nil {
		logger.Errorf("error occurred while setting up tracing: %v", err)
		return nil
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
		initPropagators()
		return shutdown
	}

	return nil
}

func newTraceProvider(c *cfg.Config, mountID string) (trace.TracerProvider, common.ShutdownFn, error) {
	switch c.Monitoring.ExperimentalTracingMode {
	case cfg.TracingModeStdout:
		return newStdoutTraceProvider(mountID)
	default:
		return nil, nil, nil
	}
}

func newStdoutTraceProvider(mountID string) (trace.TracerProvider, common.ShutdownFn, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}

	res, err := getResource(context.Background())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(mountIDProcessor(mountID)),
	)
	return tp, tp.Shutdown, nil
}

// mountIDProcessor stamps every span with the mount it was recorded in.
type mountIDProcessor string

func (m mountIDProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if m != "" {
		s.SetAttributes(attribute.String("mount.id", string(m)))
	}
}

func (mountIDProcessor) OnEnd(sdktrace.ReadOnlySpan)      {}
func (mountIDProcessor) Shutdown(context.Context) error   { return nil }
func (mountIDProcessor) ForceFlush(context.Context) error { return nil }
