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
	"os"
	"sort"
	"sync"
	"time"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

type object struct {
	id     zpl.ObjectID
	gen    zpl.Generation
	typ    zpl.ObjectType
	mode   os.FileMode
	uid    uint32
	gid    uint32
	nlink  uint32
	rdev   uint64
	atime  time.Time
	mtime  time.Time
	ctime  time.Time
	crtime time.Time

	// The directory the object was most recently linked into. Zero for the
	// root.
	parent zpl.ObjectID

	data     []byte
	target   string
	children map[string]zpl.ObjectID
}

func (o *object) clone() *object {
	c := *o
	if o.data != nil {
		c.data = append([]byte(nil), o.data...)
	}
	if o.children != nil {
		c.children = make(map[string]zpl.ObjectID, len(o.children))
		for k, v := range o.children {
			c.children[k] = v
		}
	}
	return &c
}

func (o *object) ref() zpl.Object {
	return zpl.Object{ID: o.id, Gen: o.gen, Type: o.typ}
}

func (o *object) sortedNames() []string {
	names := make([]string, 0, len(o.children))
	for name := range o.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type slot struct {
	id  zpl.ObjectID
	gen zpl.Generation
}

// table is an object table. Slots freed by removal are reused LIFO with a
// bumped generation.
type table struct {
	mu sync.RWMutex

	// GUARDED_BY(mu)
	root    zpl.ObjectID
	nextID  zpl.ObjectID
	objects map[zpl.ObjectID]*object
	free    []slot
}

func newTable(now time.Time) *table {
	t := &table{
		nextID:  1,
		objects: make(map[zpl.ObjectID]*object),
	}
	root := t.alloc(zpl.TypeDirectory, 0755, 0, 0, now)
	root.nlink = 2
	root.children = make(map[string]zpl.ObjectID)
	t.root = root.id
	return t
}

// LOCKS_REQUIRED(t.mu)
func (t *table) alloc(typ zpl.ObjectType, mode os.FileMode, uid, gid uint32, now time.Time) *object {
	var s slot
	if n := len(t.free); n > 0 {
		s = t.free[n-1]
		t.free = t.free[:n-1]
		s.gen++
	} else {
		s = slot{id: t.nextID, gen: 1}
		t.nextID++
	}

	o := &object{
		id:     s.id,
		gen:    s.gen,
		typ:    typ,
		mode:   mode.Perm() | (mode & (os.ModeSetuid | os.ModeSetgid | os.ModeSticky)),
		uid:    uid,
		gid:    gid,
		nlink:  1,
		atime:  now,
		mtime:  now,
		ctime:  now,
		crtime: now,
	}
	if typ == zpl.TypeDirectory {
		o.children = make(map[string]zpl.ObjectID)
	}
	t.objects[o.id] = o
	return o
}

// LOCKS_REQUIRED(t.mu)
func (t *table) release(o *object) {
	delete(t.objects, o.id)
	t.free = append(t.free, slot{id: o.id, gen: o.gen})
}

// LOCKS_REQUIRED(t.mu)
func (t *table) get(id zpl.ObjectID) (*object, error) {
	o, ok := t.objects[id]
	if !ok {
		return nil, zpl.ENOENT
	}
	return o, nil
}

// LOCKS_REQUIRED(t.mu)
func (t *table) dir(id zpl.ObjectID) (*object, error) {
	o, err := t.get(id)
	if err != nil {
		return nil, err
	}
	if o.typ != zpl.TypeDirectory {
		return nil, zpl.ENOTDIR
	}
	return o, nil
}

// LOCKS_REQUIRED(t.mu)
func (t *table) child(dir *object, name string) (*object, error) {
	id, ok := dir.children[name]
	if !ok {
		return nil, zpl.ENOENT
	}
	return t.get(id)
}

// isAncestor reports whether a is d or one of d's ancestors.
//
// LOCKS_REQUIRED(t.mu)
func (t *table) isAncestor(a, d zpl.ObjectID) bool {
	for id := d; id != 0; {
		if id == a {
			return true
		}
		o, ok := t.objects[id]
		if !ok {
			return false
		}
		id = o.parent
	}
	return false
}

func (t *table) clone() *table {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c := &table{
		root:    t.root,
		nextID:  t.nextID,
		objects: make(map[zpl.ObjectID]*object, len(t.objects)),
		free:    append([]slot(nil), t.free...),
	}
	for id, o := range t.objects {
		c.objects[id] = o.clone()
	}
	return c
}
