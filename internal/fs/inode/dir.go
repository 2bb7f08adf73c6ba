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

type dirInode struct {
	objectCore

	// The control directory spliced into this directory under ctldir.Name.
	// Set only for the root of a dataset that has one.
	ctl *ctldir.Dir

	// Numbers listed entries. When nil, listings report engine object IDs.
	numbers InodeNumbers

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	lc lookupCount
}

var _ DirInode = &dirInode{}
var _ ObjectInode = &dirInode{}

// NewDirInode returns an inode for the engine directory obj. parent is nil
// for the root of a dataset, and ctl is non-nil only for a root that exposes
// the snapshot control directory. numbers assigns the inode numbers of listed
// entries.
//
// REQUIRES: obj.Type == zpl.TypeDirectory
func NewDirInode(
	id fuseops.InodeID,
	ds zpl.Dataset,
	obj zpl.Object,
	parent *zpl.Object,
	ctl *ctldir.Dir,
	numbers InodeNumbers) DirInode {
	d := &dirInode{ctl: ctl, numbers: numbers}
	d.init(id, ds, obj, parent)
	d.lc.Init(id)
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	return d
}

func (d *dirInode) checkInvariants() {
	if d.obj.Type != zpl.TypeDirectory {
		panic(fmt.Sprintf("dir inode %v backed by a %v", d.id, d.obj.Type))
	}
}

func (d *dirInode) Lock() {
	d.mu.Lock()
}

func (d *dirInode) Unlock() {
	d.mu.Unlock()
}

// LOCKS_REQUIRED(d)
func (d *dirInode) IncrementLookupCount() {
	d.lc.Inc()
}

// LOCKS_REQUIRED(d)
func (d *dirInode) DecrementLookupCount(n uint64) (destroy bool) {
	return d.lc.Dec(n)
}

// LOCKS_REQUIRED(d)
func (d *dirInode) Destroy() (err error) {
	return
}

// LOCKS_REQUIRED(d)
func (d *dirInode) Attributes(ctx context.Context, cred *zpl.Cred) (fuseops.InodeAttributes, error) {
	a, err := d.engineAttributes(ctx, cred)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return ConvertAttributes(&a), nil
}

// isControlName reports whether name is the control directory of d.
func (d *dirInode) isControlName(name string) bool {
	return d.ctl != nil && name == ctldir.Name
}

// LOCKS_REQUIRED(d)
func (d *dirInode) LookUpChild(
	ctx context.Context,
	cred *zpl.Cred,
	name string) (result LookUpResult, ok bool, err error) {
	if d.isControlName(name) {
		return LookUpResult{Inode: fuseops.InodeID(ctldir.InoRoot)}, true, nil
	}

	obj, err := d.ds.LookupByName(ctx, cred, d.obj.ID, name)
	if zpl.IsNotFound(err) {
		return LookUpResult{}, false, nil
	}
	if err != nil {
		return LookUpResult{}, false, fmt.Errorf("LookupByName %q: %w", name, err)
	}
	return LookUpResult{Object: obj}, true, nil
}

// LOCKS_REQUIRED(d)
func (d *dirInode) ReadEntries(ctx context.Context, cred *zpl.Cred) (entries []fuseutil.Dirent, err error) {
	var cursor zpl.Cursor
	for {
		var l zpl.Listing
		l, err = d.ds.ReadDir(ctx, cred, d.obj.ID, cursor)
		if err != nil {
			err = fmt.Errorf("ReadDir: %w", err)
			return
		}

		for _, e := range l.Entries {
			ino := fuseops.InodeID(e.ID)
			if d.numbers != nil {
				ino = d.numbers.EntryInode(d.ds, e)
			}
			entries = append(entries, fuseutil.Dirent{
				Offset: fuseops.DirOffset(len(entries) + 1),
				Inode:  ino,
				Name:   e.Name,
				Type:   DirentType(e.Type),
			})
		}

		if l.Next == 0 {
			break
		}
		cursor = l.Next
	}

	if d.ctl != nil && d.ctl.Visible() {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  fuseops.InodeID(ctldir.InoRoot),
			Name:   ctldir.Name,
			Type:   fuseutil.DT_Directory,
		})
	}
	return
}

// LOCKS_REQUIRED(d)
func (d *dirInode) CreateChild(ctx context.Context, cred *zpl.Cred, req *zpl.CreateRequest) (zpl.Object, error) {
	if d.isControlName(req.Name) {
		return zpl.Object{}, zpl.EEXIST
	}
	return d.ds.Create(ctx, cred, d.obj.ID, req)
}

// LOCKS_REQUIRED(d)
func (d *dirInode) CreateChildDir(ctx context.Context, cred *zpl.Cred, name string, mode os.FileMode) (zpl.Object, error) {
	if d.isControlName(name) {
		return zpl.Object{}, zpl.EEXIST
	}
	return d.ds.Mkdir(ctx, cred, d.obj.ID, name, mode)
}

// Symlinks are always created with mode 0777.
//
// LOCKS_REQUIRED(d)
func (d *dirInode) CreateChildSymlink(ctx context.Context, cred *zpl.Cred, name string, target string) (zpl.Object, error) {
	if d.isControlName(name) {
		return zpl.Object{}, zpl.EEXIST
	}
	return d.ds.Symlink(ctx, cred, d.obj.ID, name, target)
}

// LOCKS_REQUIRED(d)
func (d *dirInode) CreateLink(ctx context.Context, cred *zpl.Cred, name string, target zpl.Object) error {
	if d.isControlName(name) {
		return zpl.EEXIST
	}
	return d.ds.Link(ctx, cred, d.obj.ID, name, target.ID)
}

// LOCKS_REQUIRED(d)
func (d *dirInode) DeleteChild(ctx context.Context, cred *zpl.Cred, name string) error {
	if d.isControlName(name) {
		return zpl.EROFS
	}
	return d.ds.Remove(ctx, cred, d.obj.ID, name)
}

// LOCKS_REQUIRED(d)
func (d *dirInode) DeleteChildDir(ctx context.Context, cred *zpl.Cred, name string) error {
	if d.isControlName(name) {
		return zpl.EROFS
	}
	return d.ds.Rmdir(ctx, cred, d.obj.ID, name)
}
