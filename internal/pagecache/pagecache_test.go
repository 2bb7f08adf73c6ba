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

package pagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"github.com/lzfs/lzfs/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testPageSize = 16

type writeCall struct {
	off        int64
	length     int
	appendMode bool
}

// memStorage is an object held in memory that records the calls it serves.
type memStorage struct {
	mu       sync.Mutex
	data     []byte
	reads    int
	writes   []writeCall
	readErr  error
	writeErr error
	shortBy  int
	onWrite  func()
}

func (s *memStorage) Read(ctx context.Context, cred *zpl.Cred, off int64, dst []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return 0, s.readErr
	}
	if off >= int64(len(s.data)) {
		return 0, nil
	}
	return copy(dst, s.data[off:]), nil
}

func (s *memStorage) Write(ctx context.Context, cred *zpl.Cred, off int64, src []byte, appendMode bool) (int, error) {
	if s.onWrite != nil {
		s.onWrite()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, writeCall{off: off, length: len(src), appendMode: appendMode})
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	src = src[:len(src)-s.shortBy]
	if appendMode {
		off = int64(len(s.data))
	}
	if end := off + int64(len(src)); end > int64(len(s.data)) {
		s.data = append(s.data, make([]byte, end-int64(len(s.data)))...)
	}
	return copy(s.data[off:], src), nil
}

func (s *memStorage) contents() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

func (s *memStorage) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// countingMetrics counts page cache events by name.
type countingMetrics struct {
	common.MetricHandle
	mu     sync.Mutex
	events map[string]int64
}

func (m *countingMetrics) PageCacheEvent(_ context.Context, inc int64, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event] += inc
}

func (m *countingMetrics) count(event string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[event]
}

func pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type PageCacheTest struct {
	suite.Suite
	ctx     context.Context
	cred    *zpl.Cred
	storage *memStorage
	metrics *countingMetrics
	as      *AddressSpace
}

func TestPageCache(t *testing.T) {
	suite.Run(t, new(PageCacheTest))
}

func (t *PageCacheTest) SetupTest() {
	t.ctx = context.Background()
	t.cred = &zpl.Cred{Uid: 1, Gid: 1}
	t.storage = &memStorage{}
	t.metrics = &countingMetrics{events: make(map[string]int64)}
	t.reset(nil)
}

// reset replaces the object content and starts with an empty cache.
func (t *PageCacheTest) reset(content []byte) {
	t.storage.data = append([]byte(nil), content...)
	t.as = New(t.storage, testPageSize, int64(len(content)), t.metrics)
}

func (t *PageCacheTest) readAll() []byte {
	buf := make([]byte, t.as.Size()+testPageSize)
	n, err := t.as.Read(t.ctx, t.cred, 0, buf)
	require.NoError(t.T(), err)
	return buf[:n]
}

////////////////////////////////////////////////////////////////////////
// Read path
////////////////////////////////////////////////////////////////////////

func (t *PageCacheTest) TestReadUncachedGoesToEngine() {
	t.reset(pattern(1, 40))
	dst := make([]byte, 40)

	n, err := t.as.Read(t.ctx, t.cred, 0, dst)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 40, n)
	assert.Equal(t.T(), pattern(1, 40), dst)
	// One request for the whole uncached run, and nothing became resident.
	assert.Equal(t.T(), 1, t.storage.reads)
	assert.Empty(t.T(), t.as.Resident())
	assert.EqualValues(t.T(), 1, t.metrics.count(common.PageCacheMiss))
}

func (t *PageCacheTest) TestShortReadAtEndOfFile() {
	t.reset(pattern(1, 20))
	dst := make([]byte, 64)

	n, err := t.as.Read(t.ctx, t.cred, 15, dst)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 5, n)
	assert.Equal(t.T(), pattern(1, 20)[15:], dst[:n])
}

func (t *PageCacheTest) TestReadAtOrPastEndOfFile() {
	t.reset(pattern(1, 20))

	n, err := t.as.Read(t.ctx, t.cred, 20, make([]byte, 8))

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 0, n)
	assert.Equal(t.T(), 0, t.storage.reads)
}

func (t *PageCacheTest) TestReadNegativeOffset() {
	_, err := t.as.Read(t.ctx, t.cred, -1, make([]byte, 8))

	assert.Equal(t.T(), zpl.EINVAL, zpl.Code(err))
}

func (t *PageCacheTest) TestReadMixesCachedAndUncachedPages() {
	t.reset(pattern(1, 4*testPageSize))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 1))
	readsAfterFault := t.storage.reads

	got := t.readAll()

	assert.Equal(t.T(), pattern(1, 4*testPageSize), got)
	// Page 0 and pages 2-3 are two separate uncached runs.
	assert.Equal(t.T(), readsAfterFault+2, t.storage.reads)
	assert.EqualValues(t.T(), 1, t.metrics.count(common.PageCacheHit))
}

func (t *PageCacheTest) TestReadEngineErrorPropagates() {
	t.reset(pattern(1, 20))
	t.storage.readErr = zpl.EIO

	_, err := t.as.Read(t.ctx, t.cred, 0, make([]byte, 20))

	assert.Equal(t.T(), zpl.EIO, zpl.Code(err))
}

////////////////////////////////////////////////////////////////////////
// Write path
////////////////////////////////////////////////////////////////////////

func (t *PageCacheTest) TestWriteUncachedWritesThrough() {
	data := pattern(7, 4096)

	n, err := t.as.Write(t.ctx, t.cred, 0, data, false)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 4096, n)
	assert.Equal(t.T(), data, t.storage.contents())
	assert.Equal(t.T(), data, t.readAll())
	assert.EqualValues(t.T(), 4096, t.as.Size())
	assert.Empty(t.T(), t.as.Resident())
}

func (t *PageCacheTest) TestWriteToResidentPageStaysInCache() {
	t.reset(pattern(1, 2*testPageSize))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))

	n, err := t.as.Write(t.ctx, t.cred, 4, []byte("abcd"), false)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 4, n)
	assert.Equal(t.T(), 0, t.storage.writeCount())
	assert.Equal(t.T(), pattern(1, 2*testPageSize), t.storage.contents())

	s, ok := t.as.State(0)
	require.True(t.T(), ok)
	assert.Equal(t.T(), Dirty, s)

	want := pattern(1, 2*testPageSize)
	copy(want[4:], "abcd")
	assert.Equal(t.T(), want, t.readAll())
}

func (t *PageCacheTest) TestBufferedWriteExtendsVisibleSize() {
	t.reset(pattern(1, 10))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))

	_, err := t.as.Write(t.ctx, t.cred, 8, []byte("xyz1"), false)

	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 12, t.as.Size())
	assert.Len(t.T(), t.storage.contents(), 10)
	assert.Equal(t.T(), []byte("xyz1"), t.readAll()[8:])
}

func (t *PageCacheTest) TestShortWriteThroughReportsCount() {
	t.storage.shortBy = 3

	n, err := t.as.Write(t.ctx, t.cred, 0, pattern(1, 10), false)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 7, n)
	assert.EqualValues(t.T(), 7, t.as.Size())
}

func (t *PageCacheTest) TestWriteThroughErrorPropagates() {
	t.storage.writeErr = zpl.ENOSPC

	n, err := t.as.Write(t.ctx, t.cred, 0, pattern(1, 10), false)

	assert.Equal(t.T(), zpl.ENOSPC, zpl.Code(err))
	assert.Equal(t.T(), 0, n)
	assert.EqualValues(t.T(), 0, t.as.Size())
}

func (t *PageCacheTest) TestCoherenceOverInterleavedOperations() {
	const size = 8 * testPageSize
	model := pattern(3, size)
	t.reset(model)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		off := rng.Int63n(size)
		length := 1 + rng.Intn(3*testPageSize)
		switch rng.Intn(4) {
		case 0:
			require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, rng.Int63n(size/testPageSize)))
		case 1:
			src := pattern(byte(i), length)
			n, err := t.as.Write(t.ctx, t.cred, off, src, false)
			require.NoError(t.T(), err)
			require.Equal(t.T(), length, n)
			if end := off + int64(length); end > int64(len(model)) {
				model = append(model, make([]byte, end-int64(len(model)))...)
			}
			copy(model[off:], src)
		default:
			dst := make([]byte, length)
			n, err := t.as.Read(t.ctx, t.cred, off, dst)
			require.NoError(t.T(), err)
			want := model[min(off, int64(len(model))):min(off+int64(length), int64(len(model)))]
			require.Equal(t.T(), want, dst[:n], "iteration %d", i)
		}
	}

	require.NoError(t.T(), t.as.Sync(t.ctx, t.cred))
	assert.Equal(t.T(), model, t.storage.contents())
}

////////////////////////////////////////////////////////////////////////
// Append
////////////////////////////////////////////////////////////////////////

func (t *PageCacheTest) TestAppendLandsAtVisibleSize() {
	t.reset(pattern(1, 10))

	n, err := t.as.Write(t.ctx, t.cred, 0, []byte("tail"), true)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 4, n)
	assert.Equal(t.T(), append(pattern(1, 10), "tail"...), t.readAll())
	assert.False(t.T(), t.storage.writes[0].appendMode)
	assert.EqualValues(t.T(), 10, t.storage.writes[0].off)
}

func (t *PageCacheTest) TestAppendRecomputesOffsetOnEveryCall() {
	t.reset(pattern(1, 10))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))

	_, err := t.as.Write(t.ctx, t.cred, 0, []byte("ab"), true)
	require.NoError(t.T(), err)
	_, err = t.as.Write(t.ctx, t.cred, 0, []byte("cd"), true)
	require.NoError(t.T(), err)

	assert.Equal(t.T(), append(pattern(1, 10), "abcd"...), t.readAll())
}

func (t *PageCacheTest) TestConcurrentAppendsNeverOverlap() {
	const writers = 16
	const chunk = 5
	t.reset(pattern(1, 3))

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := t.as.Write(t.ctx, t.cred, 0, bytes.Repeat([]byte{byte('A' + i)}, chunk), true)
			assert.NoError(t.T(), err)
		}(i)
	}
	wg.Wait()

	got := t.readAll()
	require.Len(t.T(), got, 3+writers*chunk)
	seen := make(map[byte]bool)
	for off := 3; off < len(got); off += chunk {
		block := got[off : off+chunk]
		assert.Equal(t.T(), bytes.Repeat(block[:1], chunk), block, "torn append at %d", off)
		assert.False(t.T(), seen[block[0]], "duplicate append %q", block[0])
		seen[block[0]] = true
	}
}

func (t *PageCacheTest) TestAppendRacingExtendingWrite() {
	t.reset(pattern(1, 10))
	start := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, err := t.as.Write(t.ctx, t.cred, 990, bytes.Repeat([]byte{'E'}, 10), false)
		assert.NoError(t.T(), err)
	}()
	go func() {
		defer wg.Done()
		<-start
		_, err := t.as.Write(t.ctx, t.cred, 0, []byte("APPEND"), true)
		assert.NoError(t.T(), err)
	}()
	close(start)
	wg.Wait()

	got := t.readAll()
	assert.Equal(t.T(), pattern(1, 10), got[:10])
	assert.Equal(t.T(), bytes.Repeat([]byte{'E'}, 10), got[990:1000])
	assert.Equal(t.T(), 1, bytes.Count(got, []byte("APPEND")))
}

////////////////////////////////////////////////////////////////////////
// Writeback
////////////////////////////////////////////////////////////////////////

func (t *PageCacheTest) TestWritebackNeverPastEndOfFile() {
	t.reset(pattern(1, 20))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 1))
	_, err := t.as.Write(t.ctx, t.cred, 17, []byte("z"), false)
	require.NoError(t.T(), err)

	require.NoError(t.T(), t.as.Writeback(t.ctx, t.cred, 1))

	require.Len(t.T(), t.storage.writes, 1)
	assert.Equal(t.T(), writeCall{off: testPageSize, length: 4, appendMode: false}, t.storage.writes[0])
	assert.Len(t.T(), t.storage.contents(), 20)
	assert.EqualValues(t.T(), 1, t.metrics.count(common.PageCacheWriteback))
}

func (t *PageCacheTest) TestWritebackOfCleanPageIsNoop() {
	t.reset(pattern(1, 20))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))

	require.NoError(t.T(), t.as.Writeback(t.ctx, t.cred, 0))
	require.NoError(t.T(), t.as.Writeback(t.ctx, t.cred, 5))

	assert.Equal(t.T(), 0, t.storage.writeCount())
}

func (t *PageCacheTest) TestConcurrentWritebackFlushesOnce() {
	t.reset(pattern(1, 20))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))
	_, err := t.as.Write(t.ctx, t.cred, 0, []byte("q"), false)
	require.NoError(t.T(), err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t.T(), t.as.Writeback(t.ctx, t.cred, 0))
		}()
	}
	wg.Wait()

	assert.Equal(t.T(), 1, t.storage.writeCount())
	s, _ := t.as.State(0)
	assert.Equal(t.T(), UpToDate, s)
}

func (t *PageCacheTest) TestWritebackFailureMarksPageError() {
	t.reset(pattern(1, 20))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))
	_, err := t.as.Write(t.ctx, t.cred, 0, []byte("q"), false)
	require.NoError(t.T(), err)
	t.storage.writeErr = zpl.ENOSPC

	err = t.as.Sync(t.ctx, t.cred)

	assert.Equal(t.T(), zpl.ENOSPC, zpl.Code(err))
	s, _ := t.as.State(0)
	assert.Equal(t.T(), Error, s)
	assert.EqualValues(t.T(), 1, t.metrics.count(common.PageCacheError))
}

func (t *PageCacheTest) TestShortWritebackIsAnError() {
	t.reset(pattern(1, 20))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))
	_, err := t.as.Write(t.ctx, t.cred, 0, []byte("q"), false)
	require.NoError(t.T(), err)
	t.storage.shortBy = 1

	err = t.as.Writeback(t.ctx, t.cred, 0)

	assert.Equal(t.T(), zpl.EIO, zpl.Code(err))
}

func (t *PageCacheTest) TestSyncFlushesEveryDirtyPage() {
	t.reset(pattern(1, 3*testPageSize))
	for idx := int64(0); idx < 3; idx++ {
		require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, idx))
	}
	_, err := t.as.Write(t.ctx, t.cred, 5, bytes.Repeat([]byte{'D'}, 2*testPageSize), false)
	require.NoError(t.T(), err)
	require.Equal(t.T(), 3, t.as.DirtyCount())

	require.NoError(t.T(), t.as.Sync(t.ctx, t.cred))

	assert.Equal(t.T(), 0, t.as.DirtyCount())
	assert.Equal(t.T(), t.readAll(), t.storage.contents())
}

////////////////////////////////////////////////////////////////////////
// Fault path
////////////////////////////////////////////////////////////////////////

func (t *PageCacheTest) TestFaultFillsPage() {
	t.reset(pattern(1, 20))

	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 1))

	s, ok := t.as.State(1)
	require.True(t.T(), ok)
	assert.Equal(t.T(), UpToDate, s)
	assert.EqualValues(t.T(), 1, t.metrics.count(common.PageCacheFill))
}

func (t *PageCacheTest) TestFaultBeyondEndOfFileZeroFills() {
	t.reset(pattern(1, 4))

	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 2))

	assert.Equal(t.T(), 0, t.storage.reads)
	s, _ := t.as.State(2)
	assert.Equal(t.T(), UpToDate, s)
}

func (t *PageCacheTest) TestFaultErrorIsReportedAsIOError() {
	t.reset(pattern(1, 20))
	t.storage.readErr = zpl.ENOENT

	err := t.as.Fault(t.ctx, t.cred, 0)

	assert.Equal(t.T(), zpl.EIO, zpl.Code(err))
	assert.ErrorIs(t.T(), err, zpl.ENOENT)
	s, ok := t.as.State(0)
	require.True(t.T(), ok)
	assert.Equal(t.T(), Error, s)

	// The failed page is not used for reads; a later fault retries the fill.
	t.storage.readErr = nil
	assert.Equal(t.T(), pattern(1, 20), t.readAll())
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))
	s, _ = t.as.State(0)
	assert.Equal(t.T(), UpToDate, s)
}

func (t *PageCacheTest) TestHoleBelowDirtyPageReadsAsZeros() {
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 2))

	_, err := t.as.Write(t.ctx, t.cred, 2*testPageSize+5, []byte("abc"), false)
	require.NoError(t.T(), err)

	got := t.readAll()
	require.Len(t.T(), got, 2*testPageSize+8)
	assert.Equal(t.T(), make([]byte, 2*testPageSize+5), got[:2*testPageSize+5])
	assert.Equal(t.T(), []byte("abc"), got[2*testPageSize+5:])
}

////////////////////////////////////////////////////////////////////////
// Mapping
////////////////////////////////////////////////////////////////////////

func (t *PageCacheTest) TestMappingStoreDirtiesWithoutWriting() {
	t.reset(pattern(1, 2*testPageSize))
	m := t.as.Map(true)

	n, err := m.Store(t.ctx, t.cred, testPageSize-2, []byte("WXYZ"))

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 4, n)
	assert.Equal(t.T(), 0, t.storage.writeCount())
	assert.Equal(t.T(), 2, t.as.DirtyCount())

	dst := make([]byte, 4)
	n, err = m.Load(t.ctx, t.cred, testPageSize-2, dst)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), []byte("WXYZ"), dst[:n])

	require.NoError(t.T(), m.Msync(t.ctx, t.cred))
	assert.Equal(t.T(), []byte("WXYZ"), t.storage.contents()[testPageSize-2:testPageSize+2])
}

func (t *PageCacheTest) TestMappingNeverChangesSize() {
	t.reset(pattern(1, 10))
	m := t.as.Map(true)

	n, err := m.Store(t.ctx, t.cred, 8, []byte("1234"))

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 2, n)
	assert.EqualValues(t.T(), 10, t.as.Size())
}

func (t *PageCacheTest) TestReadOnlyMappingRejectsStores() {
	t.reset(pattern(1, 10))

	_, err := t.as.Map(false).Store(t.ctx, t.cred, 0, []byte("x"))

	assert.Equal(t.T(), zpl.EACCES, zpl.Code(err))
}

func (t *PageCacheTest) TestMappingLoadFaultErrorStops() {
	t.reset(pattern(1, 3*testPageSize))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))
	t.storage.readErr = errors.New("disk on fire")

	n, err := t.as.Map(false).Load(t.ctx, t.cred, 0, make([]byte, 3*testPageSize))

	assert.Equal(t.T(), testPageSize, n)
	assert.Equal(t.T(), zpl.EIO, zpl.Code(err))
}

////////////////////////////////////////////////////////////////////////
// Truncation and reclaim
////////////////////////////////////////////////////////////////////////

func (t *PageCacheTest) TestTruncateDropsPagesAndZeroesTail() {
	t.reset(pattern(1, 3*testPageSize))
	for idx := int64(0); idx < 3; idx++ {
		require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, idx))
	}

	require.NoError(t.T(), t.as.Truncate(10))

	assert.Equal(t.T(), []int64{0}, t.as.Resident())
	assert.EqualValues(t.T(), 10, t.as.Size())
	assert.Equal(t.T(), pattern(1, 10), t.readAll())

	// Growing again exposes zeros, not the truncated bytes.
	require.NoError(t.T(), t.as.Truncate(testPageSize))
	assert.Equal(t.T(), append(pattern(1, 10), make([]byte, testPageSize-10)...), t.readAll())
}

func (t *PageCacheTest) TestTruncateDiscardsDirtyPagesBeyondSize() {
	t.reset(pattern(1, 2*testPageSize))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 1))
	_, err := t.as.Write(t.ctx, t.cred, testPageSize, []byte("gone"), false)
	require.NoError(t.T(), err)

	require.NoError(t.T(), t.as.Truncate(testPageSize))
	require.NoError(t.T(), t.as.Sync(t.ctx, t.cred))

	assert.Equal(t.T(), 0, t.storage.writeCount())
}

func (t *PageCacheTest) TestReclaimSkipsLockedPages() {
	t.reset(pattern(1, 3*testPageSize))
	for idx := int64(0); idx < 3; idx++ {
		require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, idx))
	}
	_, err := t.as.Write(t.ctx, t.cred, 0, []byte("d"), false)
	require.NoError(t.T(), err)

	locked := t.as.find(1)
	locked.mu.Lock()
	n, err := t.as.Reclaim(t.ctx, t.cred, 0)
	locked.mu.Unlock()

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 2, n)
	assert.Equal(t.T(), []int64{1}, t.as.Resident())
	// The dirty page was written back before it was released.
	assert.Equal(t.T(), byte('d'), t.storage.contents()[0])
}

func (t *PageCacheTest) TestReclaimHonoursLimit() {
	t.reset(pattern(1, 3*testPageSize))
	for idx := int64(0); idx < 3; idx++ {
		require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, idx))
	}

	n, err := t.as.Reclaim(t.ctx, t.cred, 2)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 2, n)
	assert.Equal(t.T(), []int64{2}, t.as.Resident())
}

func (t *PageCacheTest) TestEvictFlushesAndEmpties() {
	t.reset(pattern(1, 2*testPageSize))
	require.NoError(t.T(), t.as.Fault(t.ctx, t.cred, 0))
	_, err := t.as.Write(t.ctx, t.cred, 1, []byte("e"), false)
	require.NoError(t.T(), err)

	require.NoError(t.T(), t.as.Evict(t.ctx, t.cred))

	assert.Empty(t.T(), t.as.Resident())
	assert.Equal(t.T(), byte('e'), t.storage.contents()[1])
}

func (t *PageCacheTest) TestFaultWaitsForWriteThrough() {
	t.reset(pattern(1, testPageSize))
	release := make(chan struct{})
	entered := make(chan struct{})
	t.storage.onWrite = func() {
		close(entered)
		<-release
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := t.as.Write(t.ctx, t.cred, 0, []byte("new"), false)
		assert.NoError(t.T(), err)
	}()
	<-entered

	faulted := make(chan error)
	go func() { faulted <- t.as.Fault(t.ctx, t.cred, 0) }()

	close(release)
	<-done
	require.NoError(t.T(), <-faulted)
	t.storage.onWrite = nil

	// The fill happened after the engine had the new bytes.
	assert.Equal(t.T(), []byte("new"), t.readAll()[:3])
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Empty:     "empty",
		Filling:   "filling",
		UpToDate:  "up-to-date",
		Dirty:     "dirty",
		Error:     "error",
		State(99): "State(99)",
	} {
		assert.Equal(t, want, s.String(), fmt.Sprint(int(s)))
	}
}

func TestCheckOpen(t *testing.T) {
	assert.NoError(t, CheckOpen(util.NewOpenMode(util.ReadWrite, util.O_APPEND)))
	assert.ErrorIs(t, CheckOpen(util.NewOpenMode(util.ReadOnly, util.O_DIRECT)), ErrDirectIO)
}
