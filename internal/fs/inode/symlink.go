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

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

type SymlinkInode struct {
	objectCore

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	lc lookupCount
}

var _ ObjectInode = &SymlinkInode{}

// NewSymlinkInode returns an inode for the engine symlink obj.
//
// REQUIRES: obj.Type == zpl.TypeSymlink
func NewSymlinkInode(
	id fuseops.InodeID,
	ds zpl.Dataset,
	obj zpl.Object,
	parent *zpl.Object) (s *SymlinkInode) {
	s = &SymlinkInode{}
	s.init(id, ds, obj, parent)
	s.lc.Init(id)
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return
}

func (s *SymlinkInode) checkInvariants() {
	if s.obj.Type != zpl.TypeSymlink {
		panic(fmt.Sprintf("symlink inode %v backed by a %v", s.id, s.obj.Type))
	}
}

func (s *SymlinkInode) Lock() {
	s.mu.Lock()
}

func (s *SymlinkInode) Unlock() {
	s.mu.Unlock()
}

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) IncrementLookupCount() {
	s.lc.Inc()
}

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) DecrementLookupCount(n uint64) (destroy bool) {
	return s.lc.Dec(n)
}

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) Destroy() (err error) {
	return
}

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) Attributes(ctx context.Context, cred *zpl.Cred) (fuseops.InodeAttributes, error) {
	a, err := s.engineAttributes(ctx, cred)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return ConvertAttributes(&a), nil
}

// Target returns the whole link target.
//
// LOCKS_REQUIRED(s)
func (s *SymlinkInode) Target(ctx context.Context, cred *zpl.Cred) (string, error) {
	return s.ds.Readlink(ctx, cred, s.obj.ID)
}
