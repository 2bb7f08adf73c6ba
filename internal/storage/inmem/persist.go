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

package inmem

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/internal/storage/image"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Export returns a consistent copy of the pool in image form.
func (p *Pool) Export() *image.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := &image.Pool{
		Name:           p.name,
		NextSnapshotID: uint64(p.nextSnapshotID),
	}

	names := make([]string, 0, len(p.datasets))
	for name := range p.datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ds := p.datasets[name]
		d := image.Dataset{
			Name:  ds.name,
			Table: exportTable(ds.table),
		}
		for _, s := range ds.snapshots {
			d.Snapshots = append(d.Snapshots, image.Snapshot{
				Name:    s.name,
				ID:      uint64(s.id),
				Created: s.created.UnixNano(),
				Table:   exportTable(s.table),
			})
		}
		out.Datasets = append(out.Datasets, d)
	}
	return out
}

func exportTable(t *table) image.Table {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := image.Table{
		Root:   uint64(t.root),
		NextID: uint64(t.nextID),
	}
	for _, s := range t.free {
		out.Free = append(out.Free, image.Slot{ID: uint64(s.id), Gen: uint32(s.gen)})
	}

	ids := make([]zpl.ObjectID, 0, len(t.objects))
	for id := range t.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := t.objects[id]
		io := image.Object{
			ID:     uint64(o.id),
			Gen:    uint32(o.gen),
			Type:   uint8(o.typ),
			Mode:   uint32(o.mode),
			Uid:    o.uid,
			Gid:    o.gid,
			Nlink:  o.nlink,
			Rdev:   o.rdev,
			Atime:  o.atime.UnixNano(),
			Mtime:  o.mtime.UnixNano(),
			Ctime:  o.ctime.UnixNano(),
			Crtime: o.crtime.UnixNano(),
			Parent: uint64(o.parent),
			Target: o.target,
		}
		if len(o.data) > 0 {
			io.Data = append([]byte(nil), o.data...)
		}
		for _, name := range o.sortedNames() {
			io.Entries = append(io.Entries, image.Entry{Name: name, ID: uint64(o.children[name])})
		}
		out.Objects = append(out.Objects, io)
	}
	return out
}

// NewPoolFromImage rebuilds a pool from its image form.
func NewPoolFromImage(in *image.Pool, clock timeutil.Clock) (*Pool, error) {
	p := NewPool(in.Name, clock)
	p.nextSnapshotID = zpl.SnapshotID(in.NextSnapshotID)
	if p.nextSnapshotID == 0 {
		p.nextSnapshotID = 1
	}

	for _, d := range in.Datasets {
		if _, ok := p.datasets[d.Name]; ok {
			return nil, fmt.Errorf("duplicate dataset %q", d.Name)
		}
		t, err := importTable(&d.Table)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		ds := &dataset{name: d.Name, table: t}

		for _, s := range d.Snapshots {
			if zpl.SnapshotID(s.ID) >= p.nextSnapshotID {
				return nil, fmt.Errorf("snapshot %s@%s: id %d not below next id %d", d.Name, s.Name, s.ID, p.nextSnapshotID)
			}
			st, err := importTable(&s.Table)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s@%s: %w", d.Name, s.Name, err)
			}
			ds.snapshots = append(ds.snapshots, &snapshot{
				name:    s.Name,
				id:      zpl.SnapshotID(s.ID),
				created: time.Unix(0, s.Created),
				table:   st,
			})
		}
		p.datasets[d.Name] = ds
	}
	return p, nil
}

func importTable(in *image.Table) (*table, error) {
	t := &table{
		root:    zpl.ObjectID(in.Root),
		nextID:  zpl.ObjectID(in.NextID),
		objects: make(map[zpl.ObjectID]*object, len(in.Objects)),
	}
	for _, s := range in.Free {
		t.free = append(t.free, slot{id: zpl.ObjectID(s.ID), gen: zpl.Generation(s.Gen)})
	}

	for i := range in.Objects {
		io := &in.Objects[i]
		if io.ID == 0 || zpl.ObjectID(io.ID) >= t.nextID {
			return nil, fmt.Errorf("object id %d out of range", io.ID)
		}
		o := &object{
			id:     zpl.ObjectID(io.ID),
			gen:    zpl.Generation(io.Gen),
			typ:    zpl.ObjectType(io.Type),
			mode:   os.FileMode(io.Mode),
			uid:    io.Uid,
			gid:    io.Gid,
			nlink:  io.Nlink,
			rdev:   io.Rdev,
			atime:  time.Unix(0, io.Atime),
			mtime:  time.Unix(0, io.Mtime),
			ctime:  time.Unix(0, io.Ctime),
			crtime: time.Unix(0, io.Crtime),
			parent: zpl.ObjectID(io.Parent),
			data:   io.Data,
			target: io.Target,
		}
		if o.typ == zpl.TypeDirectory {
			o.children = make(map[string]zpl.ObjectID, len(io.Entries))
			for _, e := range io.Entries {
				o.children[e.Name] = zpl.ObjectID(e.ID)
			}
		}
		t.objects[o.id] = o
	}

	root, ok := t.objects[t.root]
	if !ok || root.typ != zpl.TypeDirectory {
		return nil, fmt.Errorf("root object %d missing or not a directory", t.root)
	}
	for _, o := range t.objects {
		for name, id := range o.children {
			if _, ok := t.objects[id]; !ok {
				return nil, fmt.Errorf("entry %q of %d names missing object %d", name, o.id, id)
			}
		}
	}
	return t, nil
}

// LoadImage reads a pool image from disk.
func LoadImage(path string, clock timeutil.Clock) (*Pool, error) {
	in, err := image.Load(path)
	if err != nil {
		return nil, err
	}
	return NewPoolFromImage(in, clock)
}

// SaveImage writes the pool to disk.
func (p *Pool) SaveImage(path string, c image.Compression) error {
	return image.Save(path, p.Export(), c)
}
