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
	"sync"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Table tracks the objects that decoders are currently faulting in, so that
// concurrent decodes of one id share a single engine lookup.
type Table struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	entries map[zpl.ObjectID]*Entry
}

func NewTable() *Table {
	return &Table{entries: make(map[zpl.ObjectID]*Entry)}
}

// Entry is one object being, or already, faulted in.
type Entry struct {
	id zpl.ObjectID

	// GUARDED_BY(Table.mu)
	refs int

	// Closed when the entry leaves the new state. obj and err are immutable
	// afterwards.
	ready    chan struct{}
	initOnce sync.Once
	obj      zpl.Object
	err      error
}

// Acquire pins the entry for id. When isNew is set the caller created it and
// must Fill it; everyone else waits in Result. release unpins the entry and
// may be called any number of times. If the creator releases an entry it
// never filled, the entry leaves the new state with an error so waiters are
// not stranded.
func (t *Table) Acquire(id zpl.ObjectID) (e *Entry, isNew bool, release func()) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		e = &Entry{id: id, ready: make(chan struct{})}
		t.entries[id] = e
		isNew = true
	}
	e.refs++
	t.mu.Unlock()

	release = sync.OnceFunc(func() {
		if isNew {
			e.finish(zpl.Object{}, &LookupFailedError{Code: zpl.EIO})
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		e.refs--
		if e.refs == 0 && t.entries[id] == e {
			delete(t.entries, id)
		}
	})
	return
}

// Len returns the number of pinned entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Refs returns how many callers have id pinned.
func (t *Table) Refs(id zpl.ObjectID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		return e.refs
	}
	return 0
}

// Fill records the outcome of faulting the object in and releases waiters.
// Only the first call has an effect.
func (e *Entry) Fill(obj zpl.Object, err error) {
	e.finish(obj, err)
}

func (e *Entry) finish(obj zpl.Object, err error) {
	e.initOnce.Do(func() {
		e.obj = obj
		e.err = err
		close(e.ready)
	})
}

// Result waits for the entry to leave the new state.
func (e *Entry) Result(ctx context.Context) (zpl.Object, error) {
	select {
	case <-e.ready:
		return e.obj, e.err
	case <-ctx.Done():
		return zpl.Object{}, ctx.Err()
	}
}
