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

package wrappers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/ctldir"
	"github.com/lzfs/lzfs/internal/exportfs"
	"github.com/lzfs/lzfs/internal/pagecache"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type ErrorMapping struct {
	suite.Suite
}

func TestWithErrorMapping(testSuite *testing.T) {
	suite.Run(testSuite, new(ErrorMapping))
}

func (testSuite *ErrorMapping) TestNil() {
	assert.NoError(testSuite.T(), errno(nil))
}

func (testSuite *ErrorMapping) TestSyscallErrnoPassesThrough() {
	fsErr := errno(fmt.Errorf("lookup: %w", syscall.ENAMETOOLONG))

	assert.Equal(testSuite.T(), syscall.ENAMETOOLONG, fsErr)
}

func (testSuite *ErrorMapping) TestEngineCodesMapOneToOne() {
	for _, code := range []zpl.Errno{zpl.ENOENT, zpl.EEXIST, zpl.ENOTEMPTY, zpl.EROFS, zpl.EXDEV, zpl.EOVERFLOW} {
		fsErr := errno(fmt.Errorf("engine: %w", code))

		assert.Equal(testSuite.T(), syscall.Errno(code), fsErr, code.Error())
	}
}

func (testSuite *ErrorMapping) TestStaleHandle() {
	fsErr := errno(fmt.Errorf("decode: %w", exportfs.ErrStale))

	assert.Equal(testSuite.T(), syscall.ESTALE, fsErr)
}

func (testSuite *ErrorMapping) TestHandleNotFound() {
	assert.Equal(testSuite.T(), syscall.ENOENT, errno(exportfs.ErrNotFound))
}

func (testSuite *ErrorMapping) TestDirectIO() {
	assert.Equal(testSuite.T(), syscall.EINVAL, errno(pagecache.ErrDirectIO))
}

func (testSuite *ErrorMapping) TestTornDownControlDir() {
	assert.Equal(testSuite.T(), syscall.ESTALE, errno(ctldir.ErrClosed))
}

func (testSuite *ErrorMapping) TestCanceled() {
	assert.Equal(testSuite.T(), syscall.EINTR, errno(fmt.Errorf("read: %w", context.Canceled)))
}

func (testSuite *ErrorMapping) TestUnknownErrorIsEIO() {
	assert.Equal(testSuite.T(), syscall.EIO, errno(errors.New("boom")))
}

func TestCategorize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		fsErr    error
		expected string
	}{
		{nil, ""},
		{errors.New("some random error"), common.ErrCategoryIO},
		{syscall.ENOENT, common.ErrCategoryNotFound},
		{syscall.EEXIST, common.ErrCategoryExists},
		{syscall.EROFS, common.ErrCategoryReadOnly},
		{syscall.ESTALE, common.ErrCategoryStale},
		{syscall.EISDIR, common.ErrCategoryInvalid},
		{syscall.ENAMETOOLONG, common.ErrCategoryNameTooLong},
		{syscall.ENOTEMPTY, common.ErrCategoryNotEmpty},
		{syscall.EACCES, common.ErrCategoryPermission},
		{syscall.ENOSYS, common.ErrCategoryNotSupported},
		{syscall.EHOSTDOWN, common.ErrCategoryOther},
	}

	for idx, tc := range tests {
		t.Run(fmt.Sprintf("categorize - case: %d", idx), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, categorize(tc.fsErr))
		})
	}
}

////////////////////////////////////////////////////////////////////////
// Wrapping
////////////////////////////////////////////////////////////////////////

type fakeFS struct {
	fuseutil.NotImplementedFileSystem
	lookUpErr error
	destroyed bool
}

func (fs *fakeFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if fs.lookUpErr != nil {
		return fs.lookUpErr
	}
	op.Entry.Child = 42
	return nil
}

func (fs *fakeFS) Destroy() {
	fs.destroyed = true
}

type recordingMetrics struct {
	mu      sync.Mutex
	counts  map[string]int64
	errs    []common.FSOpsErrorCategory
	latency int
}

func (m *recordingMetrics) OpsCount(ctx context.Context, inc int64, fsOp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[fsOp] += inc
}

func (m *recordingMetrics) OpsLatency(ctx context.Context, latency time.Duration, fsOp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency++
}

func (m *recordingMetrics) OpsErrorCount(ctx context.Context, inc int64, attrs common.FSOpsErrorCategory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, attrs)
}

func TestWrappersForwardResults(t *testing.T) {
	inner := &fakeFS{}
	fs := WithErrorMapping(WithDebugLogging(WithTracing(inner)))

	op := &fuseops.LookUpInodeOp{Parent: 1, Name: "foo"}
	require.NoError(t, fs.LookUpInode(context.Background(), op))
	assert.Equal(t, fuseops.InodeID(42), op.Entry.Child)

	inner.lookUpErr = fmt.Errorf("lookup: %w", zpl.ENOENT)
	err := fs.LookUpInode(context.Background(), &fuseops.LookUpInodeOp{Parent: 1, Name: "bar"})
	assert.Equal(t, syscall.ENOENT, err)

	fs.Destroy()
	assert.True(t, inner.destroyed)
}

func TestUnservedOpsAreNotImplemented(t *testing.T) {
	fs := WithErrorMapping(&fakeFS{})

	err := fs.GetXattr(context.Background(), &fuseops.GetXattrOp{})

	assert.Equal(t, syscall.ENOSYS, err)
}

func TestMonitoringRecordsOps(t *testing.T) {
	inner := &fakeFS{lookUpErr: syscall.ENOENT}
	metrics := &recordingMetrics{}
	fs := WithMonitoring(inner, metrics)

	_ = fs.LookUpInode(context.Background(), &fuseops.LookUpInodeOp{})
	_ = fs.LookUpInode(context.Background(), &fuseops.LookUpInodeOp{})

	assert.Equal(t, int64(2), metrics.counts[common.OpLookUpInode])
	assert.Equal(t, 2, metrics.latency)
	require.Len(t, metrics.errs, 2)
	assert.Equal(t, common.FSOpsErrorCategory{FSOps: common.OpLookUpInode, ErrorCategory: common.ErrCategoryNotFound}, metrics.errs[0])
}

func TestTracingRecordsRequestAttributes(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	inner := &fakeFS{}
	fs := WithTracing(inner)

	require.NoError(t, fs.LookUpInode(context.Background(), &fuseops.LookUpInodeOp{Parent: 7, Name: "foo"}))
	inner.lookUpErr = syscall.ENOENT
	_ = fs.LookUpInode(context.Background(), &fuseops.LookUpInodeOp{Parent: 7, Name: "bar"})

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, common.OpLookUpInode, spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int64("lzfs.parent", 7))
	assert.Contains(t, spans[0].Attributes(), attribute.String("lzfs.name", "foo"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
