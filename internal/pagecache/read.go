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

	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Read copies up to len(dst) bytes at off into dst and returns the count. The
// read stops at the size observed on entry; a short count is end of file, not
// an error.
//
// Ranges held by up-to-date or dirty pages are copied from the cache. Every
// other range is read directly from the engine without populating the cache.
func (as *AddressSpace) Read(
	ctx context.Context,
	cred *zpl.Cred,
	off int64,
	dst []byte) (n int, err error) {
	if off < 0 {
		err = zpl.EINVAL
		return
	}

	size := as.size.Load()
	if off >= size {
		return
	}
	if rem := size - off; int64(len(dst)) > rem {
		dst = dst[:rem]
	}

	for n < len(dst) {
		pos := off + int64(n)
		if m, ok := as.readCached(pos, dst[n:]); ok {
			as.metrics.PageCacheEvent(ctx, 1, common.PageCacheHit)
			n += m
			continue
		}

		// Extend over the following pages that cannot be served either, so the
		// engine sees one request per uncached run.
		end := n
		for end < len(dst) {
			idx, _, avail := as.span(off + int64(end))
			if end > n && as.usable(idx) {
				break
			}
			end += int(min(avail, int64(len(dst)-end)))
		}

		as.metrics.PageCacheEvent(ctx, 1, common.PageCacheMiss)
		var got int
		got, err = as.storage.Read(ctx, cred, pos, dst[n:end])
		n += got
		if err != nil {
			return
		}

		// The engine ended inside the visible size. The rest of the run is a
		// hole below data that is still only in dirty pages.
		if n < end {
			clear(dst[n:end])
			n = end
		}
	}

	return
}

// readCached copies from the page holding pos, up to the end of that page.
func (as *AddressSpace) readCached(pos int64, dst []byte) (int, bool) {
	idx, inPage, avail := as.span(pos)
	p := as.find(idx)
	if p == nil {
		return 0, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.cached() {
		return 0, false
	}

	if int64(len(dst)) > avail {
		dst = dst[:avail]
	}
	return copy(dst, p.data[inPage:]), true
}

func (as *AddressSpace) usable(index int64) bool {
	p := as.find(index)
	if p == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached()
}
