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
	"fmt"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Resolver turns handles back into live objects of one dataset.
type Resolver struct {
	ds    zpl.Dataset
	table *Table
}

func NewResolver(ds zpl.Dataset) *Resolver {
	return &Resolver{ds: ds, table: NewTable()}
}

// Decode resolves a handle of the given kind. KindSelf handles resolve to
// the object itself, KindSelfWithParent handles to the recorded parent. It
// fails with ErrNotFound when no live object has the id and ErrStale when the
// object's generation differs from the handle's.
func (r *Resolver) Decode(ctx context.Context, h []byte, kind Kind) (zpl.Object, error) {
	switch kind {
	case KindSelf, KindSelfWithParent:
	default:
		return zpl.Object{}, fmt.Errorf("%w: unknown kind %v", ErrStale, kind)
	}
	if len(h) < IdentitySize {
		return zpl.Object{}, fmt.Errorf("%w: %d byte handle", ErrStale, len(h))
	}

	id, gen := identity(h)

	e, isNew, release := r.table.Acquire(id)
	defer release()

	if isNew {
		obj, err := r.ds.LookupByID(ctx, id)
		if err != nil {
			err = lookupError(err)
		}
		e.Fill(obj, err)
	}

	obj, err := e.Result(ctx)
	if err != nil {
		return zpl.Object{}, err
	}
	if obj.Gen != gen {
		return zpl.Object{}, fmt.Errorf("%w: object %d is generation %d, handle has %d", ErrStale, id, obj.Gen, gen)
	}
	return obj, nil
}

// GetParent resolves the directory containing child through the engine's
// ".." lookup. ErrNotFound means child has no parent, as for the root.
func (r *Resolver) GetParent(ctx context.Context, cred *zpl.Cred, child zpl.ObjectID) (zpl.Object, error) {
	obj, err := r.ds.LookupParent(ctx, cred, child)
	if err != nil {
		return zpl.Object{}, lookupError(err)
	}
	return obj, nil
}

// Pending returns the number of objects being faulted in.
func (r *Resolver) Pending() int {
	return r.table.Len()
}
