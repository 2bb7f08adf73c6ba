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

package pagecache

import (
	"context"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Storage is the engine-side view of one object.
type Storage interface {
	// Read copies bytes at off into dst. A short count marks end of file.
	Read(ctx context.Context, cred *zpl.Cred, off int64, dst []byte) (int, error)
	// Write stores src at off. A short count is not an error.
	Write(ctx context.Context, cred *zpl.Cred, off int64, src []byte, appendMode bool) (int, error)
}

// ObjectStorage returns the Storage of object id in ds.
func ObjectStorage(ds zpl.Dataset, id zpl.ObjectID) Storage {
	return &objectStorage{ds: ds, id: id}
}

type objectStorage struct {
	ds zpl.Dataset
	id zpl.ObjectID
}

func (s *objectStorage) Read(ctx context.Context, cred *zpl.Cred, off int64, dst []byte) (int, error) {
	return s.ds.Read(ctx, cred, s.id, off, dst)
}

func (s *objectStorage) Write(ctx context.Context, cred *zpl.Cred, off int64, src []byte, appendMode bool) (int, error) {
	return s.ds.Write(ctx, cred, s.id, off, src, appendMode)
}
