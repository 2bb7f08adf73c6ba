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
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/lzfs/lzfs/internal/exportfs"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

type Inode interface {
	// All methods below require the lock to be held unless otherwise documented.
	sync.Locker

	// Return the ID assigned to the inode.
	//
	// Does not require the lock to be held.
	ID() fuseops.InodeID

	// Increment the lookup count for the inode. For use in fuse operations where
	// the kernel expects us to remember the inode.
	IncrementLookupCount()

	// Return up to date attributes for this inode, as seen by cred.
	Attributes(ctx context.Context, cred *zpl.Cred) (fuseops.InodeAttributes, error)

	// Decrement the lookup count for the inode by the given amount.
	//
	// If this method returns true, the lookup count has hit zero and the
	// Destroy() method should be called to release any local resources, perhaps
	// after releasing locks that should not be held while blocking.
	DecrementLookupCount(n uint64) (destroy bool)

	// Clean up any local resources used by the inode, putting it into an
	// indeterminate state where no method should be called except Unlock.
	//
	// This method may block. Errors are for logging purposes only.
	Destroy() (err error)
}

// ObjectInode is an inode backed by an object of a storage engine dataset.
type ObjectInode interface {
	Inode

	// The directory the object is linked under is read under its own lock,
	// so neither method requires the inode lock.
	exportfs.Node

	// Does not require the lock to be held.
	Dataset() zpl.Dataset

	// Record that the object is now linked under parent. Rename calls this
	// once the engine has moved the object.
	SetParent(parent zpl.Object)

	// Apply the fields of attrs selected by mask.
	SetAttributes(ctx context.Context, cred *zpl.Cred, attrs *zpl.Attributes, mask zpl.AttrMask) error
}

// LookUpResult names the child found by DirInode.LookUpChild. Exactly one of
// the fields is set: Inode for children that already have an inode ID (the
// control directory and snapshot roots), Object for engine objects in the
// directory's own dataset.
type LookUpResult struct {
	Object zpl.Object
	Inode  fuseops.InodeID
}

// InodeNumbers assigns the inode number a directory listing reports for an
// entry. It must agree with the ID of the inode a later lookup of the same
// object generation returns.
type InodeNumbers interface {
	// May be called with a directory inode lock held.
	EntryInode(ds zpl.Dataset, e zpl.DirEntry) fuseops.InodeID
}

// DirInode is the polymorphic directory interface. Engine-backed directories
// and the pseudo directories of the snapshot control tree both implement it.
type DirInode interface {
	Inode

	// Look up the direct child with the given name. ok is false when there is
	// no such child.
	LookUpChild(ctx context.Context, cred *zpl.Cred, name string) (result LookUpResult, ok bool, err error)

	// Read every entry of the directory, with offsets numbered from one.
	ReadEntries(ctx context.Context, cred *zpl.Cred) (entries []fuseutil.Dirent, err error)

	CreateChild(ctx context.Context, cred *zpl.Cred, req *zpl.CreateRequest) (zpl.Object, error)
	CreateChildDir(ctx context.Context, cred *zpl.Cred, name string, mode os.FileMode) (zpl.Object, error)
	CreateChildSymlink(ctx context.Context, cred *zpl.Cred, name string, target string) (zpl.Object, error)
	CreateLink(ctx context.Context, cred *zpl.Cred, name string, target zpl.Object) error
	DeleteChild(ctx context.Context, cred *zpl.Cred, name string) error
	DeleteChildDir(ctx context.Context, cred *zpl.Cred, name string) error
}
