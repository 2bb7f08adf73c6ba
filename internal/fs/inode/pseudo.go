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

package inode

import (
	"context"
	"fmt"
	"os"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/lzfs/lzfs/internal/ctldir"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// pseudoDirInode is a directory of the snapshot control tree: the control
// directory itself or the snapshot list. Its ID is the pseudo inode number
// ctldir assigns, and it lives as long as the control directory does.
type pseudoDirInode struct {
	ino uint64
	ctl *ctldir.Dir

	mu syncutil.InvariantMutex
}

var _ DirInode = &pseudoDirInode{}

// NewPseudoDirInode returns the inode for pseudo directory ino of ctl.
//
// REQUIRES: ino == ctldir.InoRoot || ino == ctldir.InoSnapdir
func NewPseudoDirInode(ino uint64, ctl *ctldir.Dir) DirInode {
	p := &pseudoDirInode{ino: ino, ctl: ctl}
	p.mu = syncutil.NewInvariantMutex(p.checkInvariants)
	return p
}

func (p *pseudoDirInode) checkInvariants() {
	if p.ino != ctldir.InoRoot && p.ino != ctldir.InoSnapdir {
		panic(fmt.Sprintf("pseudo dir inode with number %#x", p.ino))
	}
}

func (p *pseudoDirInode) Lock() {
	p.mu.Lock()
}

func (p *pseudoDirInode) Unlock() {
	p.mu.Unlock()
}

func (p *pseudoDirInode) ID() fuseops.InodeID {
	return fuseops.InodeID(p.ino)
}

// Pseudo directories ignore lookup counts; the file system drops them with
// the control directory.
func (p *pseudoDirInode) IncrementLookupCount() {}

func (p *pseudoDirInode) DecrementLookupCount(n uint64) (destroy bool) {
	return false
}

func (p *pseudoDirInode) Destroy() (err error) {
	return
}

func (p *pseudoDirInode) Attributes(ctx context.Context, cred *zpl.Cred) (fuseops.InodeAttributes, error) {
	a, ok := p.ctl.Attributes(p.ino)
	if !ok {
		return fuseops.InodeAttributes{}, ctldir.ErrClosed
	}
	return ConvertAttributes(&a), nil
}

// LookUpChild resolves name. In the snapshot list a hit mounts the snapshot
// on first traversal, and the result is the root of that mount.
//
// LOCKS_REQUIRED(p)
func (p *pseudoDirInode) LookUpChild(
	ctx context.Context,
	cred *zpl.Cred,
	name string) (result LookUpResult, ok bool, err error) {
	ino, ok, err := p.ctl.Lookup(ctx, cred, p.ino, name)
	if err != nil || !ok {
		return
	}

	if p.ino != ctldir.InoSnapdir || name == "." || name == ".." {
		result.Inode = fuseops.InodeID(ino)
		return
	}

	m, err := p.ctl.Traverse(ctx, ino)
	if err != nil {
		ok = false
		err = fmt.Errorf("traversing snapshot %q: %w", name, err)
		return
	}
	result.Inode = fuseops.InodeID(m.Root())
	return
}

// LOCKS_REQUIRED(p)
func (p *pseudoDirInode) ReadEntries(ctx context.Context, cred *zpl.Cred) (entries []fuseutil.Dirent, err error) {
	ds, err := p.ctl.ReadDir(ctx, p.ino, 0, 0)
	if err != nil {
		return
	}

	entries = make([]fuseutil.Dirent, 0, len(ds))
	for _, d := range ds {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(d.Offset),
			Inode:  fuseops.InodeID(d.Ino),
			Name:   d.Name,
			Type:   fuseutil.DT_Directory,
		})
	}
	return
}

func (p *pseudoDirInode) CreateChild(ctx context.Context, cred *zpl.Cred, req *zpl.CreateRequest) (zpl.Object, error) {
	return zpl.Object{}, zpl.EROFS
}

func (p *pseudoDirInode) CreateChildDir(ctx context.Context, cred *zpl.Cred, name string, mode os.FileMode) (zpl.Object, error) {
	return zpl.Object{}, zpl.EROFS
}

func (p *pseudoDirInode) CreateChildSymlink(ctx context.Context, cred *zpl.Cred, name string, target string) (zpl.Object, error) {
	return zpl.Object{}, zpl.EROFS
}

func (p *pseudoDirInode) CreateLink(ctx context.Context, cred *zpl.Cred, name string, target zpl.Object) error {
	return zpl.EROFS
}

func (p *pseudoDirInode) DeleteChild(ctx context.Context, cred *zpl.Cred, name string) error {
	return zpl.EROFS
}

func (p *pseudoDirInode) DeleteChildDir(ctx context.Context, cred *zpl.Cred, name string) error {
	return zpl.EROFS
}
