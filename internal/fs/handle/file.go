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

package handle

import (
	"context"
	"fmt"
	"syscall"

	"github.com/lzfs/lzfs/internal/fs/inode"
	"github.com/lzfs/lzfs/internal/pagecache"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"github.com/lzfs/lzfs/internal/util"
)

// FileHandle is an open file. Every I/O call goes through the inode's page
// cache, so none of them requires the inode lock.
type FileHandle struct {
	inode    *inode.FileInode
	openMode util.OpenMode
}

// NewFileHandle opens in with the given mode. Opens the page cache cannot
// serve, such as O_DIRECT, are refused.
func NewFileHandle(in *inode.FileInode, openMode util.OpenMode) (fh *FileHandle, err error) {
	if err = pagecache.CheckOpen(openMode); err != nil {
		return
	}
	fh = &FileHandle{inode: in, openMode: openMode}
	return
}

func (fh *FileHandle) Inode() *inode.FileInode {
	return fh.inode
}

func (fh *FileHandle) OpenMode() util.OpenMode {
	return fh.openMode
}

// LOCKS_EXCLUDED(fh.inode)
func (fh *FileHandle) Read(ctx context.Context, cred *zpl.Cred, dst []byte, offset int64) (n int, err error) {
	return fh.inode.Read(ctx, cred, offset, dst)
}

// Write stores data at offset. Handles opened with O_APPEND ignore offset
// and write at the end of the file as observed under the append lock.
//
// LOCKS_EXCLUDED(fh.inode)
func (fh *FileHandle) Write(ctx context.Context, cred *zpl.Cred, data []byte, offset int64) (n int, err error) {
	if !fh.openMode.CanWrite() {
		err = syscall.EBADF
		return
	}
	n, err = fh.inode.Write(ctx, cred, offset, data, fh.openMode.IsAppend())
	if err == nil && n < len(data) {
		err = fmt.Errorf("short write at %d: %d of %d bytes: %w", offset, n, len(data), zpl.EIO)
	}
	return
}

// Sync flushes the file's dirty pages and makes it durable.
func (fh *FileHandle) Sync(ctx context.Context, cred *zpl.Cred, dataOnly bool) error {
	return fh.inode.Sync(ctx, cred, dataOnly)
}

// Map returns a memory mapping of the file. Writable mappings need a handle
// opened for writing.
func (fh *FileHandle) Map(writable bool) (*pagecache.Mapping, error) {
	if writable && !fh.openMode.CanWrite() {
		return nil, syscall.EACCES
	}
	return fh.inode.Map(writable), nil
}

// Destroy releases the handle. The inode keeps its cached pages until the
// kernel forgets it.
func (fh *FileHandle) Destroy() {}
