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

package exportfs

import (
	"context"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Node is a live object as seen by the encoder.
type Node interface {
	Object() zpl.Object

	// Parent returns the directory the node is currently linked under, and
	// false when it has none. Implementations read it under the same lock
	// rename holds while changing it.
	Parent() (zpl.Object, bool)
}

// Encoder writes handles for the objects of one dataset.
type Encoder struct {
	ds zpl.Dataset
}

func NewEncoder(ds zpl.Dataset) *Encoder {
	return &Encoder{ds: ds}
}

// Size returns the number of bytes a handle of the given kind occupies.
func (e *Encoder) Size(kind Kind) int {
	if kind == KindSelfWithParent {
		return IdentitySize + e.ds.NativeHandleSize()
	}
	return IdentitySize
}

// Encode writes a handle for n into dst and returns its length and kind.
// Directories, and any node when connectable is false, get a KindSelf
// handle. Other nodes get a KindSelfWithParent handle, finished by the
// engine's native encoding. A *HandleTooLargeError reports the size dst
// needs.
func (e *Encoder) Encode(
	ctx context.Context,
	n Node,
	connectable bool,
	dst []byte) (length int, kind Kind, err error) {
	obj := n.Object()

	var parent zpl.Object
	var ok bool
	if connectable && obj.Type != zpl.TypeDirectory {
		parent, ok = n.Parent()
	}

	if !ok {
		if len(dst) < IdentitySize {
			err = &HandleTooLargeError{Required: IdentitySize}
			return
		}
		putIdentity(dst, obj.ID, obj.Gen)
		return IdentitySize, KindSelf, nil
	}

	required := e.Size(KindSelfWithParent)
	if len(dst) < required {
		err = &HandleTooLargeError{Required: required}
		return
	}
	putIdentity(dst, parent.ID, parent.Gen)

	native, err := e.ds.EncodeNativeHandle(ctx, obj.ID, dst[IdentitySize:required])
	if err != nil {
		if zpl.Code(err) == zpl.ENOSPC {
			err = &HandleTooLargeError{Required: required}
			return
		}
		err = lookupError(err)
		return
	}
	return IdentitySize + native, KindSelfWithParent, nil
}
