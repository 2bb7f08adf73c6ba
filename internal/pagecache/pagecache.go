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

// Package pagecache keeps a page-granular cache of one object's content
// coherent with the storage engine.
//
// Reads are served from up-to-date pages and fall through to the engine for
// anything else. Writes land in pages that are already resident, dirtying
// them, and go straight through to the engine otherwise. Dirty pages reach the
// engine through writeback, one page at a time and never past end of file.
// Pages become resident only through the fault path, which fills them
// synchronously.
//
// # LOCK ORDERING
//
// appendMu may be acquired before any page lock. A page lock is never
// acquired while AddressSpace.mu is held, except for freshly created pages,
// which cannot be contended. Code that locks several pages locks them in
// increasing index order.
package pagecache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/locker"
	"github.com/lzfs/lzfs/internal/util"
)

// ErrDirectIO is returned for opens that ask to bypass the cache.
var ErrDirectIO = errors.New("pagecache: direct I/O is not supported")

// CheckOpen rejects open modes the cache cannot serve.
func CheckOpen(mode util.OpenMode) error {
	if mode.IsDirect() {
		return ErrDirectIO
	}
	return nil
}

type State int

const (
	Empty State = iota
	Filling
	UpToDate
	Dirty
	Error
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Filling:
		return "filling"
	case UpToDate:
		return "up-to-date"
	case Dirty:
		return "dirty"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Page is one cached page of an object.
type Page struct {
	index int64
	mu    locker.RWLocker

	// Content is valid when the page is UpToDate or Dirty. Bytes beyond the
	// object's size are zero.
	//
	// GUARDED_BY(mu)
	state State
	data  []byte

	// Set once the page has been removed from its address space. A locker that
	// finds it set must look the index up again.
	//
	// GUARDED_BY(mu)
	detached bool
}

func (p *Page) cached() bool {
	return !p.detached && (p.state == UpToDate || p.state == Dirty)
}

// AddressSpace is the page cache of a single object.
type AddressSpace struct {
	storage  Storage
	pageSize int64
	metrics  common.PageCacheMetricHandle

	// The externally visible size: the engine's size at open, advanced by
	// writes and set by truncation.
	size atomic.Int64

	// Serializes append writes and truncation, which read-modify-write size.
	appendMu sync.Mutex

	mu sync.Mutex

	// GUARDED_BY(mu)
	pages map[int64]*Page
}

// New returns an empty cache for an object whose engine size is size.
// pageSize must be a power of two.
func New(
	storage Storage,
	pageSize int64,
	size int64,
	metrics common.PageCacheMetricHandle) (as *AddressSpace) {
	if metrics == nil {
		metrics = common.NewNoopMetrics()
	}
	as = &AddressSpace{
		storage:  storage,
		pageSize: pageSize,
		metrics:  metrics,
		pages:    make(map[int64]*Page),
	}
	as.size.Store(size)
	return
}

func (as *AddressSpace) PageSize() int64 {
	return as.pageSize
}

// Size returns the externally visible size in a single atomic observation.
func (as *AddressSpace) Size() int64 {
	return as.size.Load()
}

// extend advances the visible size to end if it is larger.
func (as *AddressSpace) extend(end int64) {
	for {
		cur := as.size.Load()
		if end <= cur || as.size.CompareAndSwap(cur, end) {
			return
		}
	}
}

// State reports the state of the page at index, and whether it is resident.
func (as *AddressSpace) State(index int64) (s State, ok bool) {
	p := as.find(index)
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state, !p.detached
}

// Resident returns the sorted indices of the resident pages.
func (as *AddressSpace) Resident() []int64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.sortedIndicesLocked()
}

// LOCKS_REQUIRED(as.mu)
func (as *AddressSpace) sortedIndicesLocked() []int64 {
	out := make([]int64, 0, len(as.pages))
	for idx := range as.pages {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (as *AddressSpace) find(index int64) *Page {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pages[index]
}

// grab returns the page at index with its lock held, creating an Empty page
// if none is resident.
func (as *AddressSpace) grab(index int64) *Page {
	for {
		as.mu.Lock()
		p, ok := as.pages[index]
		if !ok {
			p = &Page{
				index: index,
				mu:    locker.NewRW(fmt.Sprintf("page %d", index), nil),
			}
			p.mu.Lock()
			as.pages[index] = p
			as.mu.Unlock()
			return p
		}
		as.mu.Unlock()

		p.mu.Lock()
		if !p.detached {
			return p
		}
		p.mu.Unlock()
	}
}

// detach removes p from the address space.
//
// LOCKS_REQUIRED(p.mu)
func (as *AddressSpace) detach(p *Page) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.pages[p.index] == p {
		delete(as.pages, p.index)
	}
	p.detached = true
}

// span returns the page index containing off and the number of bytes from
// off to the end of that page.
func (as *AddressSpace) span(off int64) (index int64, inPage int64, avail int64) {
	index = off / as.pageSize
	inPage = off % as.pageSize
	avail = as.pageSize - inPage
	return
}
