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

// Fault makes the page at index resident and up to date, filling it
// synchronously from the engine when needed. Pages at or beyond the visible
// size are zero-filled. An engine error leaves the page in the Error state
// and is reported as EIO.
func (as *AddressSpace) Fault(ctx context.Context, cred *zpl.Cred, index int64) error {
	if index < 0 {
		return zpl.EINVAL
	}

	p := as.grab(index)
	defer p.mu.Unlock()
	return as.fillLocked(ctx, cred, p)
}

// LOCKS_REQUIRED(p.mu)
func (as *AddressSpace) fillLocked(ctx context.Context, cred *zpl.Cred, p *Page) error {
	if p.state == UpToDate || p.state == Dirty {
		as.metrics.PageCacheEvent(ctx, 1, common.PageCacheHit)
		return nil
	}

	p.state = Filling
	if p.data == nil {
		p.data = make([]byte, as.pageSize)
	} else {
		clear(p.data)
	}

	start := p.index * as.pageSize
	if size := as.size.Load(); start < size {
		length := min(as.pageSize, size-start)
		// Bytes past a short read stay zero.
		if _, err := as.storage.Read(ctx, cred, start, p.data[:length]); err != nil {
			p.state = Error
			as.metrics.PageCacheEvent(ctx, 1, common.PageCacheError)
			return fmt.Errorf("fill page %d: %w: %w", p.index, zpl.EIO, err)
		}
	}

	p.state = UpToDate
	as.metrics.PageCacheEvent(ctx, 1, common.PageCacheFill)
	return nil
}

// Mapping is a memory-mapped view of an address space. Every access faults
// the pages it touches into the cache; stores dirty them and reach the engine
// through writeback.
type Mapping struct {
	as       *AddressSpace
	writable bool
}

// Map returns a mapping of the whole object.
func (as *AddressSpace) Map(writable bool) *Mapping {
	return &Mapping{as: as, writable: writable}
}

// Load copies mapped bytes at off into dst, stopping at the visible size.
func (m *Mapping) Load(ctx context.Context, cred *zpl.Cred, off int64, dst []byte) (n int, err error) {
	return m.access(ctx, cred, off, len(dst), func(p *Page, inPage int64, done, length int) {
		copy(dst[done:done+length], p.data[inPage:])
	})
}

// Store copies src into the mapping at off. A mapping never changes the size
// of the object: bytes at or beyond the visible size are not stored and the
// short count is returned.
func (m *Mapping) Store(ctx context.Context, cred *zpl.Cred, off int64, src []byte) (n int, err error) {
	if !m.writable {
		err = zpl.EACCES
		return
	}

	return m.access(ctx, cred, off, len(src), func(p *Page, inPage int64, done, length int) {
		copy(p.data[inPage:], src[done:done+length])
		p.state = Dirty
	})
}

// Msync writes back every dirty page of the address space.
func (m *Mapping) Msync(ctx context.Context, cred *zpl.Cred) error {
	return m.as.Sync(ctx, cred)
}

func (m *Mapping) clamp(off int64, length int) int {
	size := m.as.size.Load()
	if off >= size {
		return 0
	}
	return int(min(int64(length), size-off))
}

// access faults in each page of [off, off+length) below the visible size and
// calls fn on it with the page locked and up to date. It returns the number
// of bytes handed to fn.
func (m *Mapping) access(
	ctx context.Context,
	cred *zpl.Cred,
	off int64,
	length int,
	fn func(p *Page, inPage int64, done, length int)) (done int, err error) {
	if off < 0 {
		err = zpl.EINVAL
		return
	}

	total := m.clamp(off, length)
	for done < total {
		idx, inPage, avail := m.as.span(off + int64(done))
		n := int(min(avail, int64(total-done)))

		p := m.as.grab(idx)
		err = m.as.fillLocked(ctx, cred, p)
		if err == nil {
			fn(p, inPage, done, n)
		}
		p.mu.Unlock()
		if err != nil {
			return
		}
		done += n
	}
	return
}
