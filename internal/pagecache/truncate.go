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

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Truncate sets the visible size. Pages wholly beyond the new size are
// dropped, dirty or not, and the tail of the page straddling it is zeroed.
// The caller resizes the engine object afterwards.
func (as *AddressSpace) Truncate(newSize int64) error {
	if newSize < 0 {
		return zpl.EINVAL
	}

	as.appendMu.Lock()
	defer as.appendMu.Unlock()
	as.size.Store(newSize)

	boundary, inPage, _ := as.span(newSize)
	for _, idx := range as.Resident() {
		if idx < boundary {
			continue
		}
		p := as.find(idx)
		if p == nil {
			continue
		}

		p.mu.Lock()
		switch {
		case p.detached:
		case idx == boundary && inPage != 0:
			if p.data != nil {
				clear(p.data[inPage:])
			}
		default:
			as.detach(p)
		}
		p.mu.Unlock()
	}
	return nil
}

// Reclaim releases up to max resident pages, or all of them when max is not
// positive, writing dirty ones back first. Locked pages are skipped, as are
// dirty pages whose writeback fails; the first such failure is returned.
func (as *AddressSpace) Reclaim(ctx context.Context, cred *zpl.Cred, max int) (n int, err error) {
	for _, idx := range as.Resident() {
		if max > 0 && n >= max {
			break
		}
		p := as.find(idx)
		if p == nil || !p.mu.TryLock() {
			continue
		}

		if !p.detached {
			if werr := as.writebackLocked(ctx, cred, p); werr != nil {
				if err == nil {
					err = werr
				}
			} else {
				as.detach(p)
				n++
			}
		}
		p.mu.Unlock()
	}
	return
}

// Evict writes back and drops every page, waiting for locked ones. It is
// used when the object leaves the kernel's inode cache.
func (as *AddressSpace) Evict(ctx context.Context, cred *zpl.Cred) (err error) {
	for _, idx := range as.Resident() {
		p := as.find(idx)
		if p == nil {
			continue
		}

		p.mu.Lock()
		if !p.detached {
			if werr := as.writebackLocked(ctx, cred, p); werr != nil && err == nil {
				err = werr
			}
			as.detach(p)
		}
		p.mu.Unlock()
	}
	return
}
