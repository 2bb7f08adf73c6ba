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

package ctldir

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Mounter mounts a dataset of the engine, by "pool/fs@snap" name, read-only.
type Mounter interface {
	Mount(ctx context.Context, name string) (Mount, error)
}

// Mount is a mounted snapshot.
type Mount interface {
	Name() string

	// Root is the inode number at which the snapshot's root is spliced.
	Root() uint64

	Unmount(ctx context.Context) error
}

// AlreadyMountedError is returned by a Mounter that finds name already
// mounted. The traversal adopts Mount instead of failing.
type AlreadyMountedError struct {
	Mount Mount
}

func (e *AlreadyMountedError) Error() string {
	return fmt.Sprintf("ctldir: %s already mounted", e.Mount.Name())
}

type Options struct {
	// Inode number of the dataset root, the control directory's "..".
	ParentIno uint64

	// Owner of the control directory and the snapshot list.
	Uid uint32
	Gid uint32

	// Whether the control directory is listed in the dataset root.
	Visible bool

	// Bound on snapshot mounts in progress at once. Zero means 4.
	MaxConcurrentMounts int64

	Clock   timeutil.Clock
	Metrics common.SnapshotMetricHandle
}

// Dir is the control directory of one mounted dataset together with the
// snapshot list below it. It owns every snapshot mount made through it.
type Dir struct {
	ds       zpl.Dataset
	mounter  Mounter
	opts     Options
	created  time.Time
	mountSem *semaphore.Weighted

	mu sync.Mutex

	// Snapshot entries materialized by lookup, by inode number.
	//
	// GUARDED_BY(mu)
	entries map[uint64]*Entry

	// GUARDED_BY(mu)
	closed bool
}

// New creates the control directory for ds. Snapshots get none, so
// asking for one is an error that aborts the mount.
func New(ds zpl.Dataset, mounter Mounter, opts Options) (*Dir, error) {
	if ds.IsSnapshot() {
		return nil, fmt.Errorf("ctldir: %s is a snapshot", ds.Name())
	}
	if ds.Name() == "" {
		return nil, errors.New("ctldir: dataset has no name")
	}
	if mounter == nil {
		return nil, errors.New("ctldir: no mounter")
	}

	if opts.MaxConcurrentMounts <= 0 {
		opts.MaxConcurrentMounts = 4
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = common.NewNoopMetrics()
	}

	return &Dir{
		ds:       ds,
		mounter:  mounter,
		opts:     opts,
		created:  opts.Clock.Now(),
		mountSem: semaphore.NewWeighted(opts.MaxConcurrentMounts),
		entries:  make(map[uint64]*Entry),
	}, nil
}

// Visible reports whether the dataset root lists the control directory.
func (d *Dir) Visible() bool {
	return d.opts.Visible
}

func (d *Dir) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Attributes returns the attributes of a pseudo object.
func (d *Dir) Attributes(ino uint64) (zpl.Attributes, bool) {
	switch ino {
	case InoRoot, InoSnapdir:
		nlink := uint32(2)
		if ino == InoRoot {
			nlink = 3
		}
		return d.dirAttributes(0555, d.opts.Uid, d.opts.Gid, nlink, d.created), true
	}

	e, ok := d.Entry(ino)
	if !ok {
		return zpl.Attributes{}, false
	}
	return d.dirAttributes(0700, e.uid, e.gid, 2, e.created), true
}

func (d *Dir) dirAttributes(perm uint32, uid, gid, nlink uint32, t time.Time) zpl.Attributes {
	return zpl.Attributes{
		Type:   zpl.TypeDirectory,
		Mode:   fileMode(perm),
		Uid:    uid,
		Gid:    gid,
		Nlink:  nlink,
		Atime:  t,
		Mtime:  t,
		Ctime:  t,
		Crtime: t,
		Gen:    1,
	}
}

// Lookup resolves name in the pseudo directory parent. ok is false for a
// negative lookup, which is not an error.
func (d *Dir) Lookup(ctx context.Context, cred *zpl.Cred, parent uint64, name string) (ino uint64, ok bool, err error) {
	if len(name) >= zpl.MaxNameLen {
		err = syscall.ENAMETOOLONG
		return
	}
	if d.isClosed() {
		err = ErrClosed
		return
	}

	switch parent {
	case InoRoot:
		switch name {
		case ".":
			return InoRoot, true, nil
		case "..":
			return d.opts.ParentIno, true, nil
		case SnapdirName:
			return InoSnapdir, true, nil
		}
		return 0, false, nil

	case InoSnapdir:
		switch name {
		case ".":
			return InoSnapdir, true, nil
		case "..":
			return InoRoot, true, nil
		}
		return d.lookupSnapshot(ctx, cred, name)
	}

	if _, isEntry := d.Entry(parent); isEntry {
		// Entries are only ever traversed, never looked into.
		err = syscall.EIO
		return
	}
	err = syscall.ENOTDIR
	return
}

func (d *Dir) lookupSnapshot(ctx context.Context, cred *zpl.Cred, name string) (uint64, bool, error) {
	id, err := d.ds.SnapshotID(ctx, name)
	if zpl.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("snapshot id of %q: %w", name, err)
	}

	ino, err := SnapshotIno(id)
	if err != nil {
		logger.Errorf("ctldir: snapshot %s@%s: %v", d.ds.Name(), name, err)
		return 0, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, false, ErrClosed
	}
	if _, ok := d.entries[ino]; !ok {
		d.entries[ino] = newEntry(d, ino, id, name, cred, d.opts.Clock.Now())
	}
	return ino, true, nil
}

// Entry returns the materialized snapshot entry with inode number ino.
func (d *Dir) Entry(ino uint64) (*Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[ino]
	return e, ok
}

// ReadDir lists the pseudo directory ino from offset, returning at most
// limit entries, or all remaining ones when limit is not positive.
func (d *Dir) ReadDir(ctx context.Context, ino uint64, offset uint64, limit int) ([]Dirent, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}

	switch ino {
	case InoRoot:
		all := []Dirent{
			{Offset: 1, Ino: InoRoot, Name: "."},
			{Offset: 2, Ino: d.opts.ParentIno, Name: ".."},
			{Offset: 3, Ino: InoSnapdir, Name: SnapdirName},
		}
		if offset >= uint64(len(all)) {
			return nil, nil
		}
		out := all[offset:]
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil

	case InoSnapdir:
		return d.readSnapdir(ctx, offset, limit)
	}

	if _, ok := d.Entry(ino); ok {
		return []Dirent{
			{Offset: 1, Ino: ino, Name: "."},
			{Offset: 2, Ino: InoSnapdir, Name: ".."},
		}[min(offset, 2):], nil
	}
	return nil, syscall.ENOTDIR
}

// readSnapdir synthesizes "." and ".." at offsets 0 and 1, then streams the
// engine's catalogue in its own order. Offsets past 2 are the catalogue
// cursor plus 2.
func (d *Dir) readSnapdir(ctx context.Context, offset uint64, limit int) (out []Dirent, err error) {
	full := func() bool { return limit > 0 && len(out) >= limit }

	if offset == 0 && !full() {
		out = append(out, Dirent{Offset: 1, Ino: InoSnapdir, Name: "."})
		offset = 1
	}
	if offset == 1 && !full() {
		out = append(out, Dirent{Offset: 2, Ino: InoRoot, Name: ".."})
		offset = 2
	}

	cursor := zpl.Cursor(offset - 2)
	for !full() {
		var s zpl.Snapshot
		s, err = d.ds.NextSnapshot(ctx, &cursor)
		if zpl.IsNotFound(err) {
			err = nil
			break
		}

		var ino uint64
		if err == nil {
			ino, err = SnapshotIno(s.ID)
		}
		if err != nil {
			if len(out) > 0 {
				logger.Warnf("ctldir: listing %s snapshots stopped early: %v", d.ds.Name(), err)
				err = nil
				break
			}
			return nil, fmt.Errorf("listing snapshots of %s: %w", d.ds.Name(), err)
		}

		out = append(out, Dirent{Offset: uint64(cursor) + 2, Ino: ino, Name: s.Name})
	}
	return
}

// Traverse returns the mount spliced at snapshot entry ino, mounting it on
// first use.
func (d *Dir) Traverse(ctx context.Context, ino uint64) (Mount, error) {
	e, ok := d.Entry(ino)
	if !ok {
		if d.isClosed() {
			return nil, ErrClosed
		}
		return nil, syscall.ENOENT
	}
	return e.traverse(ctx)
}

// Mounts returns the snapshot mounts currently spliced in, by name.
func (d *Dir) Mounts() []Mount {
	d.mu.Lock()
	entries := make([]*Entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	var out []Mount
	for _, e := range entries {
		if m := e.Mounted(); m != nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Teardown unmounts every snapshot mounted through d, then releases the
// snapshot entries and the pseudo directories. Lookups and traversals fail
// with ErrClosed afterwards. Every unmount is attempted; the first failure is
// returned.
func (d *Dir) Teardown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	entries := make([]*Entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error { return e.unmount(ctx) })
	}
	err := g.Wait()

	d.mu.Lock()
	clear(d.entries)
	d.mu.Unlock()
	return err
}
