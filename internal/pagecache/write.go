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
	"context"
	"fmt"

	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Write stores src at off and returns the number of bytes transferred. With
// appendMode set, off is ignored and the write lands at the visible size
// observed under appendMu, recomputed on every call.
//
// Bytes destined for a resident up-to-date or dirty page are copied into it
// and reach the engine only on writeback. Other bytes are written through.
// The visible size advances as soon as each page's share of the write is
// accepted.
func (as *AddressSpace) Write(
	ctx context.Context,
	cred *zpl.Cred,
	off int64,
	src []byte,
	appendMode bool) (n int, err error) {
	if appendMode {
		as.appendMu.Lock()
		defer as.appendMu.Unlock()
		off = as.size.Load()
	}
	if off < 0 {
		err = zpl.EINVAL
		return
	}

	for n < len(src) {
		pos := off + int64(n)
		idx, inPage, avail := as.span(pos)
		chunk := src[n : n+int(min(avail, int64(len(src)-n)))]

		var got int
		got, err = as.writePage(ctx, cred, idx, inPage, pos, chunk)
		n += got
		as.extend(pos + int64(got))
		if err != nil || got < len(chunk) {
			return
		}
	}

	return
}

func (as *AddressSpace) writePage(
	ctx context.Context,
	cred *zpl.Cred,
	idx int64,
	inPage int64,
	pos int64,
	chunk []byte) (int, error) {
	p := as.grab(idx)
	defer p.mu.Unlock()

	if p.state == UpToDate || p.state == Dirty {
		copy(p.data[inPage:], chunk)
		p.state = Dirty
		as.metrics.PageCacheEvent(ctx, 1, common.PageCacheHit)
		return len(chunk), nil
	}

	// p is a placeholder, or a page whose last fill or flush failed. Holding
	// its lock keeps a concurrent fault from filling it before the engine has
	// the new bytes.
	got, err := as.storage.Write(ctx, cred, pos, chunk, false)
	as.detach(p)
	return got, err
}

// Writeback flushes the page at index if it is dirty. Flushing a page in any
// other state is a no-op, so of two concurrent flushes of a dirty page the
// second finds it up to date.
func (as *AddressSpace) Writeback(ctx context.Context, cred *zpl.Cred, index int64) error {
	p := as.find(index)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return nil
	}
	return as.writebackLocked(ctx, cred, p)
}

// writebackLocked writes the part of p that lies below the visible size,
// never with the append flag, so writeback cannot extend the object.
//
// LOCKS_REQUIRED(p.mu)
func (as *AddressSpace) writebackLocked(ctx context.Context, cred *zpl.Cred, p *Page) error {
	if p.state != Dirty {
		return nil
	}

	start := p.index * as.pageSize
	size := as.size.Load()
	if start >= size {
		p.state = UpToDate
		return nil
	}
	length := min(as.pageSize, size-start)

	got, err := as.storage.Write(ctx, cred, start, p.data[:length], false)
	if err == nil && int64(got) < length {
		err = fmt.Errorf("short write of %d/%d bytes: %w", got, length, zpl.EIO)
	}
	if err != nil {
		p.state = Error
		as.metrics.PageCacheEvent(ctx, 1, common.PageCacheError)
		return fmt.Errorf("writeback page %d: %w", p.index, err)
	}

	p.state = UpToDate
	as.metrics.PageCacheEvent(ctx, 1, common.PageCacheWriteback)
	return nil
}

// Sync flushes every dirty page, one at a time in index order. It keeps going
// past failures and returns the first.
func (as *AddressSpace) Sync(ctx context.Context, cred *zpl.Cred) (err error) {
	for _, idx := range as.Resident() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if werr := as.Writeback(ctx, cred, idx); werr != nil && err == nil {
			err = werr
		}
	}
	return
}

// DirtyCount returns the number of resident dirty pages.
func (as *AddressSpace) DirtyCount() (n int) {
	for _, idx := range as.Resident() {
		if s, ok := as.State(idx); ok && s == Dirty {
			n++
		}
	}
	return
}
