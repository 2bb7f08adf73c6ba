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

package inode

import (
	"context"
	"fmt"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/pagecache"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// writebackCred is the identity used for writeback that no caller triggers,
// such as eviction when the kernel forgets the inode.
var writebackCred = &zpl.Cred{}

// FileInode is a regular file whose content is cached in a page-granular
// address space. Every non-regular, non-directory, non-symlink object (device
// nodes, FIFOs, sockets) is represented by a FileInode too; its address space
// is never used.
type FileInode struct {
	objectCore

	// The page cache has its own locking, so Read, Write, Sync and Map do not
	// require the inode lock.
	pages *pagecache.AddressSpace

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	lc lookupCount
}

var _ ObjectInode = &FileInode{}

// NewFileInode returns an inode for obj whose engine size is size.
func NewFileInode(
	id fuseops.InodeID,
	ds zpl.Dataset,
	obj zpl.Object,
	parent *zpl.Object,
	size int64,
	pageSize int64,
	metrics common.PageCacheMetricHandle) (f *FileInode) {
	f = &FileInode{
		pages: pagecache.New(pagecache.ObjectStorage(ds, obj.ID), pageSize, size, metrics),
	}
	f.init(id, ds, obj, parent)
	f.lc.Init(id)
	f.mu = syncutil.NewInvariantMutex(f.checkInvariants)
	return
}

func (f *FileInode) checkInvariants() {
	switch f.obj.Type {
	case zpl.TypeDirectory, zpl.TypeSymlink:
		panic(fmt.Sprintf("file inode %v backed by a %v", f.id, f.obj.Type))
	}
	if f.pages.Size() < 0 {
		panic(fmt.Sprintf("file inode %v has negative size %v", f.id, f.pages.Size()))
	}
}

func (f *FileInode) Lock() {
	f.mu.Lock()
}

func (f *FileInode) Unlock() {
	f.mu.Unlock()
}

// LOCKS_REQUIRED(f)
func (f *FileInode) IncrementLookupCount() {
	f.lc.Inc()
}

// LOCKS_REQUIRED(f)
func (f *FileInode) DecrementLookupCount(n uint64) (destroy bool) {
	return f.lc.Dec(n)
}

// Destroy writes back and drops every cached page.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) Destroy() (err error) {
	err = f.pages.Evict(context.Background(), writebackCred)
	if err != nil {
		logger.Warnf("Evicting pages of inode %v: %v", f.id, err)
	}
	return
}

// Attributes reports the size visible through the cache, which includes
// writes the engine has not seen yet.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) Attributes(ctx context.Context, cred *zpl.Cred) (fuseops.InodeAttributes, error) {
	a, err := f.engineAttributes(ctx, cred)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	if f.obj.Type == zpl.TypeRegular {
		a.Size = uint64(f.pages.Size())
	}
	return ConvertAttributes(&a), nil
}

func (f *FileInode) PageSize() int64 {
	return f.pages.PageSize()
}

func (f *FileInode) Size() int64 {
	return f.pages.Size()
}

// Read fills dst from offset off and returns the number of bytes read. A
// short count means end of file.
func (f *FileInode) Read(ctx context.Context, cred *zpl.Cred, off int64, dst []byte) (int, error) {
	return f.pages.Read(ctx, cred, off, dst)
}

// Write stores src at off, or at the end of the file when appendMode is set.
func (f *FileInode) Write(ctx context.Context, cred *zpl.Cred, off int64, src []byte, appendMode bool) (int, error) {
	return f.pages.Write(ctx, cred, off, src, appendMode)
}

// Sync flushes dirty pages and then asks the engine to make the object
// durable.
func (f *FileInode) Sync(ctx context.Context, cred *zpl.Cred, dataOnly bool) error {
	if err := f.pages.Sync(ctx, cred); err != nil {
		return fmt.Errorf("flushing pages: %w", err)
	}
	return f.ds.Fsync(ctx, cred, f.obj.ID, dataOnly)
}

// Flush writes dirty pages back without asking the engine for durability.
func (f *FileInode) Flush(ctx context.Context, cred *zpl.Cred) error {
	return f.pages.Sync(ctx, cred)
}

// Map returns a memory mapping of the file's pages.
func (f *FileInode) Map(writable bool) *pagecache.Mapping {
	return f.pages.Map(writable)
}

// Reclaim releases up to max clean or written-back pages.
func (f *FileInode) Reclaim(ctx context.Context, cred *zpl.Cred, max int) (int, error) {
	return f.pages.Reclaim(ctx, cred, max)
}

// Truncate resizes the cached view first and the engine object second.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) Truncate(ctx context.Context, cred *zpl.Cred, size int64) error {
	if f.obj.Type != zpl.TypeRegular {
		return zpl.EINVAL
	}
	if err := f.pages.Truncate(size); err != nil {
		return err
	}
	return f.ds.SetAttributes(ctx, cred, f.obj.ID, &zpl.Attributes{Size: uint64(size)}, zpl.AttrSize)
}

// SetAttributes routes a size change through Truncate and applies the
// remaining fields in one engine call.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) SetAttributes(ctx context.Context, cred *zpl.Cred, attrs *zpl.Attributes, mask zpl.AttrMask) error {
	if mask&zpl.AttrSize != 0 {
		if err := f.Truncate(ctx, cred, int64(attrs.Size)); err != nil {
			return err
		}
		mask &^= zpl.AttrSize
		if mask == 0 {
			return nil
		}
	}
	return f.objectCore.SetAttributes(ctx, cred, attrs, mask)
}
