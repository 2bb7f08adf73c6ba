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

package exportfs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/internal/storage/inmem"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeNode struct {
	obj       zpl.Object
	parent    zpl.Object
	hasParent bool
}

func (n *fakeNode) Object() zpl.Object { return n.obj }

func (n *fakeNode) Parent() (zpl.Object, bool) { return n.parent, n.hasParent }

type ExportTest struct {
	suite.Suite
	ctx      context.Context
	cred     *zpl.Cred
	pool     *inmem.Pool
	ds       zpl.Dataset
	root     zpl.Object
	encoder  *Encoder
	resolver *Resolver
}

func TestExport(t *testing.T) {
	suite.Run(t, new(ExportTest))
}

func (t *ExportTest) SetupTest() {
	t.ctx = context.Background()
	t.cred = &zpl.Cred{Uid: 1000, Gid: 1000}
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC))
	t.pool = inmem.NewPool("tank", clock)
	require.NoError(t.T(), t.pool.CreateDataset("tank/fs"))

	var err error
	t.ds, err = t.pool.Open(t.ctx, "tank/fs", false)
	require.NoError(t.T(), err)
	t.root, err = t.ds.Root(t.ctx)
	require.NoError(t.T(), err)
	t.encoder = NewEncoder(t.ds)
	t.resolver = NewResolver(t.ds)
}

func (t *ExportTest) create(name string) zpl.Object {
	o, err := t.ds.Create(t.ctx, t.cred, t.root.ID, &zpl.CreateRequest{Name: name, Type: zpl.TypeRegular, Mode: 0644})
	require.NoError(t.T(), err)
	return o
}

func (t *ExportTest) encodeSelf(o zpl.Object) []byte {
	buf := make([]byte, 64)
	n, kind, err := t.encoder.Encode(t.ctx, &fakeNode{obj: o}, false, buf)
	require.NoError(t.T(), err)
	require.Equal(t.T(), KindSelf, kind)
	return buf[:n]
}

////////////////////////////////////////////////////////////////////////
// Encode
////////////////////////////////////////////////////////////////////////

func (t *ExportTest) TestSelfHandleRoundTrip() {
	f := t.create("f")

	h := t.encodeSelf(f)
	got, err := t.resolver.Decode(t.ctx, h, KindSelf)

	require.NoError(t.T(), err)
	assert.Len(t.T(), h, IdentitySize)
	assert.Equal(t.T(), f, got)
	assert.Equal(t.T(), 0, t.resolver.Pending())
}

func (t *ExportTest) TestDirectoryIsAlwaysSelf() {
	d, err := t.ds.Mkdir(t.ctx, t.cred, t.root.ID, "d", 0755)
	require.NoError(t.T(), err)
	buf := make([]byte, 64)

	n, kind, err := t.encoder.Encode(t.ctx, &fakeNode{obj: d, parent: t.root, hasParent: true}, true, buf)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), KindSelf, kind)
	assert.Equal(t.T(), IdentitySize, n)
}

func (t *ExportTest) TestConnectableFileCarriesParent() {
	f := t.create("f")
	buf := make([]byte, 64)

	n, kind, err := t.encoder.Encode(t.ctx, &fakeNode{obj: f, parent: t.root, hasParent: true}, true, buf)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), KindSelfWithParent, kind)
	assert.Equal(t.T(), IdentitySize+t.ds.NativeHandleSize(), n)
	assert.Equal(t.T(), t.encodeSelf(t.root), buf[:IdentitySize])
	assert.Equal(t.T(), t.encodeSelf(f), buf[IdentitySize:n])

	parent, err := t.resolver.Decode(t.ctx, buf[:n], KindSelfWithParent)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), t.root, parent)
}

func (t *ExportTest) TestConnectableWithoutParentFallsBackToSelf() {
	f := t.create("f")
	buf := make([]byte, 64)

	_, kind, err := t.encoder.Encode(t.ctx, &fakeNode{obj: f}, true, buf)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), KindSelf, kind)
}

func (t *ExportTest) TestBufferTooSmallReportsRequiredSize() {
	f := t.create("f")
	var tooLarge *HandleTooLargeError

	_, _, err := t.encoder.Encode(t.ctx, &fakeNode{obj: f}, false, make([]byte, 4))
	require.ErrorAs(t.T(), err, &tooLarge)
	assert.Equal(t.T(), IdentitySize, tooLarge.Required)

	_, _, err = t.encoder.Encode(t.ctx, &fakeNode{obj: f, parent: t.root, hasParent: true}, true, make([]byte, IdentitySize))
	require.ErrorAs(t.T(), err, &tooLarge)
	assert.Equal(t.T(), t.encoder.Size(KindSelfWithParent), tooLarge.Required)

	// Retrying with the reported size succeeds.
	n, _, err := t.encoder.Encode(t.ctx, &fakeNode{obj: f, parent: t.root, hasParent: true}, true, make([]byte, tooLarge.Required))
	require.NoError(t.T(), err)
	assert.Equal(t.T(), tooLarge.Required, n)
}

func (t *ExportTest) TestNativeEncodeFailure() {
	f := t.create("f")
	t.pool.FailNext("EncodeNativeHandle", zpl.EIO)
	var failed *LookupFailedError

	_, _, err := t.encoder.Encode(t.ctx, &fakeNode{obj: f, parent: t.root, hasParent: true}, true, make([]byte, 64))

	require.ErrorAs(t.T(), err, &failed)
	assert.Equal(t.T(), zpl.EIO, failed.Code)
}

////////////////////////////////////////////////////////////////////////
// Decode
////////////////////////////////////////////////////////////////////////

func (t *ExportTest) TestRemovedObjectIsNotFound() {
	f := t.create("f")
	h := t.encodeSelf(f)
	require.NoError(t.T(), t.ds.Remove(t.ctx, t.cred, t.root.ID, "f"))

	_, err := t.resolver.Decode(t.ctx, h, KindSelf)

	assert.ErrorIs(t.T(), err, ErrNotFound)
}

func (t *ExportTest) TestReusedSlotIsStale() {
	f := t.create("f")
	h := t.encodeSelf(f)
	require.NoError(t.T(), t.ds.Remove(t.ctx, t.cred, t.root.ID, "f"))
	g := t.create("g")
	require.Equal(t.T(), f.ID, g.ID)
	require.NotEqual(t.T(), f.Gen, g.Gen)

	_, err := t.resolver.Decode(t.ctx, h, KindSelf)

	assert.ErrorIs(t.T(), err, ErrStale)
}

func (t *ExportTest) TestGenerationSevenAgainstEightIsStale() {
	var o zpl.Object
	for {
		o = t.create("f")
		if o.Gen == 8 {
			break
		}
		require.Less(t.T(), o.Gen, zpl.Generation(8))
		require.NoError(t.T(), t.ds.Remove(t.ctx, t.cred, t.root.ID, "f"))
	}
	h := t.encodeSelf(zpl.Object{ID: o.ID, Gen: 7, Type: o.Type})

	_, err := t.resolver.Decode(t.ctx, h, KindSelf)

	assert.ErrorIs(t.T(), err, ErrStale)
}

func (t *ExportTest) TestMalformedHandles() {
	_, err := t.resolver.Decode(t.ctx, []byte{1}, KindSelf)
	assert.ErrorIs(t.T(), err, ErrStale)

	_, err = t.resolver.Decode(t.ctx, t.encodeSelf(t.root), Kind(9))
	assert.ErrorIs(t.T(), err, ErrStale)
}

func (t *ExportTest) TestEngineFailureDuringDecode() {
	h := t.encodeSelf(t.root)
	t.pool.FailNext("LookupByID", zpl.EBUSY)
	var failed *LookupFailedError

	_, err := t.resolver.Decode(t.ctx, h, KindSelf)

	require.ErrorAs(t.T(), err, &failed)
	assert.Equal(t.T(), zpl.EBUSY, failed.Code)
	assert.ErrorIs(t.T(), err, zpl.EBUSY)
	assert.Equal(t.T(), 0, t.resolver.Pending())
}

////////////////////////////////////////////////////////////////////////
// GetParent
////////////////////////////////////////////////////////////////////////

func (t *ExportTest) TestGetParent() {
	d, err := t.ds.Mkdir(t.ctx, t.cred, t.root.ID, "d", 0755)
	require.NoError(t.T(), err)

	got, err := t.resolver.GetParent(t.ctx, t.cred, d.ID)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), t.root, got)
}

func (t *ExportTest) TestGetParentOfRootIsNotFound() {
	_, err := t.resolver.GetParent(t.ctx, t.cred, t.root.ID)

	assert.ErrorIs(t.T(), err, ErrNotFound)
}

func (t *ExportTest) TestGetParentFailure() {
	t.pool.FailNext("LookupParent", zpl.EIO)
	var failed *LookupFailedError

	_, err := t.resolver.GetParent(t.ctx, t.cred, t.root.ID)

	require.ErrorAs(t.T(), err, &failed)
	assert.Equal(t.T(), zpl.EIO, failed.Code)
}

////////////////////////////////////////////////////////////////////////
// Table
////////////////////////////////////////////////////////////////////////

// blockingDataset holds LookupByID until released and counts calls.
type blockingDataset struct {
	zpl.Dataset
	release chan struct{}
	calls   atomic.Int32
}

func (d *blockingDataset) LookupByID(ctx context.Context, id zpl.ObjectID) (zpl.Object, error) {
	d.calls.Add(1)
	<-d.release
	return d.Dataset.LookupByID(ctx, id)
}

func (t *ExportTest) TestConcurrentDecodesShareOneLookup() {
	const decoders = 8
	f := t.create("f")
	h := t.encodeSelf(f)
	ds := &blockingDataset{Dataset: t.ds, release: make(chan struct{})}
	r := NewResolver(ds)

	var wg sync.WaitGroup
	results := make([]zpl.Object, decoders)
	for i := 0; i < decoders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			results[i], err = r.Decode(t.ctx, h, KindSelf)
			assert.NoError(t.T(), err)
		}(i)
	}

	assert.Eventually(t.T(), func() bool { return r.table.Refs(f.ID) == decoders }, 5*time.Second, time.Millisecond)
	close(ds.release)
	wg.Wait()

	assert.EqualValues(t.T(), 1, ds.calls.Load())
	for _, got := range results {
		assert.Equal(t.T(), f, got)
	}
	assert.Equal(t.T(), 0, r.Pending())
}

func TestReleaseIsIdempotent(t *testing.T) {
	table := NewTable()
	e, isNew, release := table.Acquire(5)
	require.True(t, isNew)
	_, isNew2, release2 := table.Acquire(5)
	require.False(t, isNew2)

	e.Fill(zpl.Object{ID: 5, Gen: 1}, nil)
	release()
	release()
	assert.Equal(t, 1, table.Refs(5))

	release2()
	assert.Equal(t, 0, table.Len())
}

func TestUnfilledEntryReleasesWaiters(t *testing.T) {
	table := NewTable()
	_, _, release := table.Acquire(5)
	waiter, _, releaseWaiter := table.Acquire(5)
	defer releaseWaiter()

	release()
	_, err := waiter.Result(context.Background())

	var failed *LookupFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, zpl.EIO, failed.Code)
}

func TestResultHonoursContext(t *testing.T) {
	table := NewTable()
	_, _, release := table.Acquire(5)
	defer release()
	waiter, _, releaseWaiter := table.Acquire(5)
	defer releaseWaiter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := waiter.Result(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "self", KindSelf.String())
	assert.Equal(t, "self-with-parent", KindSelfWithParent.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}
