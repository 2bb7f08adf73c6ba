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

package fs

import (
	"context"
	"fmt"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/lzfs/lzfs/internal/ctldir"
	"github.com/lzfs/lzfs/internal/exportfs"
	"github.com/lzfs/lzfs/internal/fs/inode"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/monitor"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// session is one open dataset: the mounted one, or a snapshot mounted below
// its control directory.
type session struct {
	ds       zpl.Dataset
	encoder  *exportfs.Encoder
	resolver *exportfs.Resolver

	// The control directory spliced into the root. Nil for snapshots.
	ctl *ctldir.Dir

	root inode.DirInode
}

// addSession registers ds, with its root at inode rootID. When ctl is non-nil
// the control tree's pseudo directories are registered too.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) addSession(
	ds zpl.Dataset,
	rootID fuseops.InodeID,
	rootObj zpl.Object,
	ctl *ctldir.Dir) (s *session) {
	s = &session{
		ds:       ds,
		encoder:  exportfs.NewEncoder(ds),
		resolver: exportfs.NewResolver(ds),
		ctl:      ctl,
		root:     inode.NewDirInode(rootID, ds, rootObj, nil, ctl, fs),
	}

	// The file system holds one reference to the root for as long as the
	// session lives. The root is not yet published, so taking its lock here
	// cannot deadlock.
	s.root.Lock()
	s.root.IncrementLookupCount()
	s.root.Unlock()

	fs.inodes[rootID] = s.root
	fs.objectInodes[objectKey{ds: ds, id: rootObj.ID}] = s.root.(inode.ObjectInode)
	fs.sessions[ds.Name()] = s

	if ctl != nil {
		for _, ino := range []uint64{ctldir.InoRoot, ctldir.InoSnapdir} {
			fs.inodes[fuseops.InodeID(ino)] = inode.NewPseudoDirInode(ino, ctl)
		}
	}
	return
}

// sessionOf returns the session of the dataset ds, or nil once it has been
// unmounted.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) sessionOf(ds zpl.Dataset) *session {
	s := fs.sessions[ds.Name()]
	if s == nil || s.ds != ds {
		return nil
	}
	return s
}

// Mount opens snapshot name read-only and splices its root into the inode
// space under a fresh inode ID.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) Mount(ctx context.Context, name string) (m ctldir.Mount, err error) {
	if !snapshotName(name) {
		err = fmt.Errorf("mount %q: not a snapshot: %w", name, zpl.EINVAL)
		return
	}

	ctx, span := monitor.StartSpan(ctx, "MountSnapshot")
	defer span.End()

	fs.mu.Lock()
	existing := fs.sessions[name]
	tornDown := fs.tornDown
	fs.mu.Unlock()

	if existing != nil {
		err = &ctldir.AlreadyMountedError{Mount: &snapshotMount{fs: fs, s: existing}}
		return
	}
	if tornDown {
		err = ctldir.ErrClosed
		return
	}

	ds, err := fs.engine.Open(ctx, name, true)
	if err != nil {
		err = fmt.Errorf("open %q: %w", name, err)
		return
	}

	rootObj, err := ds.Root(ctx)
	if err != nil {
		ds.Close()
		err = fmt.Errorf("root of %q: %w", name, err)
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Somebody may have beaten us to it.
	if existing = fs.sessions[name]; existing != nil {
		ds.Close()
		err = &ctldir.AlreadyMountedError{Mount: &snapshotMount{fs: fs, s: existing}}
		return
	}

	id := fs.nextInodeID
	fs.nextInodeID++

	s := fs.addSession(ds, id, rootObj, nil)
	logger.Infof("Mounted snapshot %s at inode %v", name, id)

	m = &snapshotMount{fs: fs, s: s}
	return
}

// snapshotMount is a snapshot session as seen by the control directory.
type snapshotMount struct {
	fs *fileSystem
	s  *session
}

var _ ctldir.Mount = &snapshotMount{}

func (m *snapshotMount) Name() string {
	return m.s.ds.Name()
}

func (m *snapshotMount) Root() uint64 {
	return uint64(m.s.root.ID())
}

// Unmount forgets the snapshot's objects and closes it. Inodes the kernel
// still holds stay registered until it forgets them; their calls into the
// closed dataset fail.
//
// LOCKS_EXCLUDED(m.fs.mu)
func (m *snapshotMount) Unmount(ctx context.Context) error {
	fs := m.fs

	fs.mu.Lock()
	if fs.sessions[m.Name()] != m.s {
		fs.mu.Unlock()
		return nil
	}
	delete(fs.sessions, m.Name())
	for k := range fs.objectInodes {
		if k.ds == m.s.ds {
			delete(fs.objectInodes, k)
		}
	}
	for k := range fs.reserved {
		if k.ds == m.s.ds {
			delete(fs.reserved, k)
		}
	}
	fs.mu.Unlock()

	if err := m.s.ds.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", m.Name(), err)
	}
	logger.Infof("Unmounted snapshot %s", m.Name())
	return nil
}
