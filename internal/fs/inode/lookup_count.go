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
	"fmt"

	"github.com/jacobsa/fuse/fuseops"
)

// lookupCount tracks how many references the kernel holds to an inode. It
// panics on misuse and requires external synchronization.
type lookupCount struct {
	id        fuseops.InodeID
	count     uint64
	destroyed bool
}

func (lc *lookupCount) Init(id fuseops.InodeID) {
	lc.id = id
}

func (lc *lookupCount) Inc() {
	if lc.destroyed {
		panic(fmt.Sprintf("inode %v has already been destroyed", lc.id))
	}
	lc.count++
}

// Dec drops n references and reports whether none remain. Once it has
// returned true the inode counts as destroyed.
func (lc *lookupCount) Dec(n uint64) (destroy bool) {
	if lc.destroyed {
		panic(fmt.Sprintf("inode %v has already been destroyed", lc.id))
	}
	if n > lc.count {
		panic(fmt.Sprintf("inode %v: forgetting %v of %v lookups", lc.id, n, lc.count))
	}

	lc.count -= n
	destroy = lc.count == 0
	lc.destroyed = destroy
	return
}

func (lc *lookupCount) Count() uint64 {
	return lc.count
}
