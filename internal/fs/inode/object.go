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
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/lzfs/lzfs/internal/exportfs"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// objectCore is the state shared by the engine-backed inode variants.
type objectCore struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	id  fuseops.InodeID
	ds  zpl.Dataset
	obj zpl.Object

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Structural lock for the parent link. Never held while acquiring any
	// other lock.
	parentMu sync.Mutex

	// GUARDED_BY(parentMu)
	parent    zpl.Object
	hasParent bool
}

func (c *objectCore) init(id fuseops.InodeID, ds zpl.Dataset, obj zpl.Object, parent *zpl.Object) {
	c.id = id
	c.ds = ds
	c.obj = obj
	if parent != nil {
		c.parent = *parent
		c.hasParent = true
	}
}

func (c *objectCore) ID() fuseops.InodeID {
	return c.id
}

func (c *objectCore) Dataset() zpl.Dataset {
	return c.ds
}

func (c *objectCore) Object() zpl.Object {
	return c.obj
}

func (c *objectCore) Parent() (zpl.Object, bool) {
	c.parentMu.Lock()
	defer c.parentMu.Unlock()
	return c.parent, c.hasParent
}

func (c *objectCore) SetParent(parent zpl.Object) {
	c.parentMu.Lock()
	defer c.parentMu.Unlock()
	c.parent = parent
	c.hasParent = true
}

// engineAttributes fetches the object's attributes, failing with
// exportfs.ErrStale once the engine has handed the slot to another object.
func (c *objectCore) engineAttributes(ctx context.Context, cred *zpl.Cred) (zpl.Attributes, error) {
	a, err := c.ds.GetAttributes(ctx, cred, c.obj.ID)
	if err != nil {
		if zpl.IsNotFound(err) {
			return a, exportfs.ErrStale
		}
		return a, err
	}
	if a.Gen != 0 && a.Gen != c.obj.Gen {
		return a, exportfs.ErrStale
	}
	return a, nil
}

func (c *objectCore) SetAttributes(ctx context.Context, cred *zpl.Cred, attrs *zpl.Attributes, mask zpl.AttrMask) error {
	return c.ds.SetAttributes(ctx, cred, c.obj.ID, attrs, mask)
}
