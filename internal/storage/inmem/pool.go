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

// Package inmem is an in-memory storage engine implementing zpl.Engine. It
// keeps datasets, their snapshots, and generation-numbered object slots, and
// is used both by tests and by the lzfs binary when serving a pool image.
package inmem

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

type snapshot struct {
	name    string
	id      zpl.SnapshotID
	created time.Time
	table   *table
}

type dataset struct {
	name  string
	table *table

	// Creation order, which is also the catalogue iteration order.
	snapshots []*snapshot
}

// Pool is a named collection of datasets.
type Pool struct {
	name  string
	clock timeutil.Clock

	mu sync.Mutex

	// GUARDED_BY(mu)
	datasets       map[string]*dataset
	nextSnapshotID zpl.SnapshotID
	injected       map[string]zpl.Errno
	opens          map[string]int
	closes         map[string]int
}

var _ zpl.Engine = &Pool{}

// NewPool returns an empty pool.
func NewPool(name string, clock timeutil.Clock) *Pool {
	return &Pool{
		name:           name,
		clock:          clock,
		datasets:       make(map[string]*dataset),
		nextSnapshotID: 1,
		injected:       make(map[string]zpl.Errno),
		opens:          make(map[string]int),
		closes:         make(map[string]int),
	}
}

func (p *Pool) Name() string {
	return p.name
}

// CreateDataset creates an empty dataset named "pool/fs".
func (p *Pool) CreateDataset(name string) error {
	if !strings.HasPrefix(name, p.name+"/") || strings.Contains(name, "@") {
		return fmt.Errorf("create %q: %w", name, zpl.EINVAL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.datasets[name]; ok {
		return fmt.Errorf("create %q: %w", name, zpl.EEXIST)
	}
	p.datasets[name] = &dataset{name: name, table: newTable(p.clock.Now())}
	return nil
}

// Datasets returns the names of all datasets.
func (p *Pool) Datasets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.datasets))
	for name := range p.datasets {
		names = append(names, name)
	}
	return names
}

// Snapshot records the current state of a dataset under snapName and
// returns its catalogue id.
func (p *Pool) Snapshot(ctx context.Context, dsName, snapName string) (zpl.SnapshotID, error) {
	if snapName == "" || strings.ContainsAny(snapName, "@/") || len(snapName) >= zpl.MaxNameLen {
		return 0, fmt.Errorf("snapshot %q: %w", snapName, zpl.EINVAL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ds, ok := p.datasets[dsName]
	if !ok {
		return 0, fmt.Errorf("snapshot %s: %w", dsName, zpl.ENOENT)
	}
	for _, s := range ds.snapshots {
		if s.name == snapName {
			return 0, fmt.Errorf("snapshot %s@%s: %w", dsName, snapName, zpl.EEXIST)
		}
	}

	s := &snapshot{
		name:    snapName,
		id:      p.nextSnapshotID,
		created: p.clock.Now(),
		table:   ds.table.clone(),
	}
	p.nextSnapshotID++
	ds.snapshots = append(ds.snapshots, s)
	return s.id, nil
}

// DestroySnapshot removes a snapshot from its dataset's catalogue.
func (p *Pool) DestroySnapshot(ctx context.Context, dsName, snapName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ds, ok := p.datasets[dsName]
	if !ok {
		return fmt.Errorf("destroy %s: %w", dsName, zpl.ENOENT)
	}
	for i, s := range ds.snapshots {
		if s.name == snapName {
			ds.snapshots = append(ds.snapshots[:i], ds.snapshots[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("destroy %s@%s: %w", dsName, snapName, zpl.ENOENT)
}

// FailNext makes the next call of the named Dataset method, on any dataset
// of the pool, fail with code.
func (p *Pool) FailNext(method string, code zpl.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected[method] = code
}

// Opens returns how many times the named dataset has been opened.
func (p *Pool) Opens(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens[name]
}

// Closes returns how many times a handle on the named dataset was closed.
func (p *Pool) Closes(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes[name]
}

func (p *Pool) takeInjected(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	code, ok := p.injected[method]
	if !ok {
		return nil
	}
	delete(p.injected, method)
	return code
}

// Open implements zpl.Engine.
func (p *Pool) Open(ctx context.Context, name string, readOnly bool) (zpl.Dataset, error) {
	if err := p.takeInjected("Open"); err != nil {
		return nil, err
	}

	dsName, snapName, isSnap := strings.Cut(name, "@")

	p.mu.Lock()
	defer p.mu.Unlock()

	ds, ok := p.datasets[dsName]
	if !ok {
		return nil, fmt.Errorf("open %q: %w", name, zpl.ENOENT)
	}

	h := &handle{
		pool:     p,
		ds:       ds,
		name:     name,
		t:        ds.table,
		readOnly: readOnly,
	}

	if isSnap {
		var found *snapshot
		for _, s := range ds.snapshots {
			if s.name == snapName {
				found = s
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("open %q: %w", name, zpl.ENOENT)
		}
		h.snap = found
		h.t = found.table
		h.readOnly = true
	}

	p.opens[name]++
	return h, nil
}
