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
	"os"
	"time"

	"github.com/lzfs/lzfs/internal/locker"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

func fileMode(perm uint32) os.FileMode {
	return os.FileMode(perm)
}

// Entry is a materialized snapshot entry. It moves from unmounted to mounted
// once and stays mounted until teardown.
type Entry struct {
	dir     *Dir
	ino     uint64
	id      zpl.SnapshotID
	name    string
	uid     uint32
	gid     uint32
	created time.Time

	// Held across the whole first traversal, so concurrent traversals wait
	// and then follow the winner's mount.
	mu locker.Locker

	// GUARDED_BY(mu)
	mount Mount
}

func newEntry(d *Dir, ino uint64, id zpl.SnapshotID, name string, cred *zpl.Cred, now time.Time) *Entry {
	e := &Entry{
		dir:     d,
		ino:     ino,
		id:      id,
		name:    name,
		created: now,
	}
	if cred != nil {
		e.uid = cred.Uid
		e.gid = cred.Gid
	}
	e.mu = locker.New(fmt.Sprintf("snapshot %s", name), nil)
	return e
}

func (e *Entry) Ino() uint64                { return e.ino }
func (e *Entry) Name() string               { return e.name }
func (e *Entry) SnapshotID() zpl.SnapshotID { return e.id }

// Mounted returns the entry's mount, or nil before the first traversal.
func (e *Entry) Mounted() Mount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mount
}

func (e *Entry) traverse(ctx context.Context) (Mount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mount != nil {
		return e.mount, nil
	}
	if e.dir.isClosed() {
		return nil, ErrClosed
	}

	if err := e.dir.mountSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.dir.mountSem.Release(1)

	target := e.dir.ds.Name() + "@" + e.name
	m, err := e.dir.mounter.Mount(ctx, target)

	var already *AlreadyMountedError
	switch {
	case errors.As(err, &already):
		logger.Debugf("ctldir: following existing mount of %s", target)
		m = already.Mount
	case err != nil:
		return nil, fmt.Errorf("mount %s: %w", target, err)
	default:
		e.dir.opts.Metrics.SnapshotMounts(ctx, 1)
		logger.Infof("ctldir: mounted %s", target)
	}

	e.mount = m
	return m, nil
}

func (e *Entry) unmount(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mount == nil {
		return nil
	}
	if err := e.mount.Unmount(ctx); err != nil {
		return fmt.Errorf("unmount %s: %w", e.mount.Name(), err)
	}
	e.dir.opts.Metrics.SnapshotMounts(ctx, -1)
	e.mount = nil
	return nil
}
