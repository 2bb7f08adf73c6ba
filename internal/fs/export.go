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
	"errors"
	"fmt"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/lzfs/lzfs/internal/ctldir"
	"github.com/lzfs/lzfs/internal/exportfs"
	"github.com/lzfs/lzfs/internal/fs/inode"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// exportCred returns the credential export operations act with. They carry
// no caller, so the mount owner acts.
func (fs *fileSystem) exportCred() *zpl.Cred {
	return fs.acquireCred(fuseops.OpContext{Uid: fs.uid})
}

// Handles are issued for objects of the mounted dataset only; they carry no
// dataset identity, so a snapshot object could not be told apart from the
// live object in the same slot.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) EncodeHandle(
	ctx context.Context,
	id fuseops.InodeID,
	connectable bool,
	dst []byte) (n int, kind exportfs.Kind, err error) {
	fs.mu.Lock()
	in, ok := fs.inodes[id]
	fs.mu.Unlock()

	if !ok {
		err = exportfs.ErrStale
		return
	}

	oi, ok := in.(inode.ObjectInode)
	if !ok || oi.Dataset() != fs.primary.ds {
		err = syscall.EOPNOTSUPP
		return
	}

	return fs.primary.encoder.Encode(ctx, oi, connectable, dst)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) DecodeHandle(
	ctx context.Context,
	h []byte,
	kind exportfs.Kind) (id fuseops.InodeID, err error) {
	s := fs.primary
	obj, err := s.resolver.Decode(ctx, h, kind)
	if err != nil {
		return
	}

	cred := fs.exportCred()
	defer fs.releaseCred(cred)

	// Recover the parent link of non-directories so that their handles stay
	// connectable.
	var parent *zpl.Object
	if obj.Type != zpl.TypeDirectory {
		p, perr := s.resolver.GetParent(ctx, cred, obj.ID)
		switch {
		case perr == nil:
			parent = &p
		case !errors.Is(perr, exportfs.ErrNotFound):
			err = perr
			return
		}
	}

	in, err := fs.objectInode(ctx, cred, s.ds, obj, parent)
	if err != nil {
		return
	}
	id = in.ID()
	in.Unlock()
	return
}

// GetParent walks one level up. The control directory sits in the root of
// the mounted dataset, the snapshot list in the control directory, and each
// mounted snapshot root in the snapshot list. exportfs.ErrNotFound reports a
// root with nothing above it.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) GetParent(
	ctx context.Context,
	id fuseops.InodeID) (parentID fuseops.InodeID, err error) {
	switch uint64(id) {
	case ctldir.InoRoot:
		return fs.reference(fuseops.RootInodeID)
	case ctldir.InoSnapdir:
		return fs.reference(fuseops.InodeID(ctldir.InoRoot))
	}

	fs.mu.Lock()
	in, ok := fs.inodes[id]
	var s *session
	if oi, isObj := in.(inode.ObjectInode); isObj {
		s = fs.sessionOf(oi.Dataset())
	}
	fs.mu.Unlock()

	if !ok || s == nil {
		err = exportfs.ErrStale
		return
	}

	if in == s.root && s != fs.primary {
		return fs.reference(fuseops.InodeID(ctldir.InoSnapdir))
	}

	cred := fs.exportCred()
	defer fs.releaseCred(cred)

	child := in.(inode.ObjectInode).Object()
	if child.Type != zpl.TypeDirectory {
		err = fmt.Errorf("inode %v: %w", id, syscall.ENOTDIR)
		return
	}

	parent, err := s.resolver.GetParent(ctx, cred, child.ID)
	if err != nil {
		return
	}

	pin, err := fs.objectInode(ctx, cred, s.ds, parent, nil)
	if err != nil {
		return
	}
	parentID = pin.ID()
	pin.Unlock()
	return
}

// reference increments the lookup count of live inode id.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) reference(id fuseops.InodeID) (fuseops.InodeID, error) {
	in, err := fs.lockLiveInode(id)
	if err != nil {
		return 0, err
	}
	in.Unlock()
	return id, nil
}
