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

package ratelimit

import (
	"context"
	"os"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// NewThrottledEngine returns an engine whose datasets limit the rate at which
// they call the wrapped engine using opThrottle, and the bandwidth with which
// they read from it using readThrottle. Either throttle may be nil, which
// leaves that dimension unlimited.
func NewThrottledEngine(
	opThrottle Throttle,
	readThrottle Throttle,
	wrapped zpl.Engine) zpl.Engine {
	return &throttledEngine{
		opThrottle:   opThrottle,
		readThrottle: readThrottle,
		wrapped:      wrapped,
	}
}

type throttledEngine struct {
	opThrottle   Throttle
	readThrottle Throttle
	wrapped      zpl.Engine
}

func (e *throttledEngine) Open(ctx context.Context, name string, readOnly bool) (zpl.Dataset, error) {
	if err := wait(ctx, e.opThrottle, 1); err != nil {
		return nil, err
	}

	ds, err := e.wrapped.Open(ctx, name, readOnly)
	if err != nil {
		return nil, err
	}
	return NewThrottledDataset(e.opThrottle, e.readThrottle, ds), nil
}

// NewThrottledDataset wraps a single dataset the way NewThrottledEngine wraps
// the datasets it opens.
func NewThrottledDataset(
	opThrottle Throttle,
	readThrottle Throttle,
	wrapped zpl.Dataset) zpl.Dataset {
	return &throttledDataset{
		Dataset:      wrapped,
		opThrottle:   opThrottle,
		readThrottle: readThrottle,
	}
}

func wait(ctx context.Context, t Throttle, tokens uint64) error {
	if t == nil {
		return nil
	}
	return t.Wait(ctx, tokens)
}

////////////////////////////////////////////////////////////////////////
// throttledDataset
////////////////////////////////////////////////////////////////////////

// Name, IsSnapshot, ReadOnly, NativeHandleSize and Close do not reach the
// engine's I/O path and are forwarded unthrottled by the embedded Dataset.
type throttledDataset struct {
	zpl.Dataset
	opThrottle   Throttle
	readThrottle Throttle
}

func (d *throttledDataset) Root(ctx context.Context) (o zpl.Object, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.Root(ctx)
}

func (d *throttledDataset) LookupByName(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string) (o zpl.Object, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.LookupByName(ctx, cred, dir, name)
}

func (d *throttledDataset) LookupByID(ctx context.Context, id zpl.ObjectID) (o zpl.Object, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.LookupByID(ctx, id)
}

func (d *throttledDataset) LookupParent(ctx context.Context, cred *zpl.Cred, child zpl.ObjectID) (o zpl.Object, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.LookupParent(ctx, cred, child)
}

// Read acquires one op token, then bandwidth tokens in chunks no larger than
// the read throttle's capacity. A read that is cut short by the context
// reports the bytes already transferred.
func (d *throttledDataset) Read(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, off int64, dst []byte) (n int, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	if d.readThrottle == nil {
		return d.Dataset.Read(ctx, cred, id, off, dst)
	}

	chunk := int(d.readThrottle.Capacity())
	for n < len(dst) {
		p := dst[n:]
		if len(p) > chunk {
			p = p[:chunk]
		}
		if err = d.readThrottle.Wait(ctx, uint64(len(p))); err != nil {
			return
		}

		var tmp int
		tmp, err = d.Dataset.Read(ctx, cred, id, off+int64(n), p)
		n += tmp
		if err != nil || tmp < len(p) {
			return
		}
	}
	return
}

func (d *throttledDataset) Write(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, off int64, src []byte, appendMode bool) (n int, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.Write(ctx, cred, id, off, src, appendMode)
}

func (d *throttledDataset) Create(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, req *zpl.CreateRequest) (o zpl.Object, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.Create(ctx, cred, dir, req)
}

func (d *throttledDataset) Mkdir(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string, mode os.FileMode) (o zpl.Object, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.Mkdir(ctx, cred, dir, name, mode)
}

func (d *throttledDataset) Symlink(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string, target string) (o zpl.Object, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.Symlink(ctx, cred, dir, name, target)
}

func (d *throttledDataset) Link(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string, target zpl.ObjectID) error {
	if err := wait(ctx, d.opThrottle, 1); err != nil {
		return err
	}
	return d.Dataset.Link(ctx, cred, dir, name, target)
}

func (d *throttledDataset) Remove(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string) error {
	if err := wait(ctx, d.opThrottle, 1); err != nil {
		return err
	}
	return d.Dataset.Remove(ctx, cred, dir, name)
}

func (d *throttledDataset) Rmdir(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string) error {
	if err := wait(ctx, d.opThrottle, 1); err != nil {
		return err
	}
	return d.Dataset.Rmdir(ctx, cred, dir, name)
}

func (d *throttledDataset) Rename(ctx context.Context, cred *zpl.Cred, srcDir zpl.ObjectID, srcName string, dstDir zpl.ObjectID, dstName string) error {
	if err := wait(ctx, d.opThrottle, 1); err != nil {
		return err
	}
	return d.Dataset.Rename(ctx, cred, srcDir, srcName, dstDir, dstName)
}

func (d *throttledDataset) GetAttributes(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID) (a zpl.Attributes, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.GetAttributes(ctx, cred, id)
}

func (d *throttledDataset) SetAttributes(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, attrs *zpl.Attributes, mask zpl.AttrMask) error {
	if err := wait(ctx, d.opThrottle, 1); err != nil {
		return err
	}
	return d.Dataset.SetAttributes(ctx, cred, id, attrs, mask)
}

func (d *throttledDataset) Readlink(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID) (target string, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.Readlink(ctx, cred, id)
}

func (d *throttledDataset) ReadDir(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, cursor zpl.Cursor) (l zpl.Listing, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.ReadDir(ctx, cred, dir, cursor)
}

func (d *throttledDataset) NextSnapshot(ctx context.Context, cursor *zpl.Cursor) (s zpl.Snapshot, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.NextSnapshot(ctx, cursor)
}

func (d *throttledDataset) SnapshotID(ctx context.Context, name string) (id zpl.SnapshotID, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.SnapshotID(ctx, name)
}

func (d *throttledDataset) Fsync(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, dataOnly bool) error {
	if err := wait(ctx, d.opThrottle, 1); err != nil {
		return err
	}
	return d.Dataset.Fsync(ctx, cred, id, dataOnly)
}

func (d *throttledDataset) EncodeNativeHandle(ctx context.Context, id zpl.ObjectID, dst []byte) (n int, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.EncodeNativeHandle(ctx, id, dst)
}

func (d *throttledDataset) StatFS(ctx context.Context) (s zpl.FSStats, err error) {
	if err = wait(ctx, d.opThrottle, 1); err != nil {
		return
	}
	return d.Dataset.StatFS(ctx)
}
