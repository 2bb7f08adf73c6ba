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

// Package exportfs encodes live objects into fixed-size opaque handles and
// resolves handles back into objects, rejecting handles whose object slot has
// since been reused.
package exportfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Kind identifies the layout of a handle.
type Kind uint8

const (
	// KindSelf handles hold the object's own id and generation.
	KindSelf Kind = 1

	// KindSelfWithParent handles hold the parent directory's id and generation
	// followed by the engine's native handle for the object.
	KindSelfWithParent Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindSelf:
		return "self"
	case KindSelfWithParent:
		return "self-with-parent"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IdentitySize is the encoded size of one id and generation pair.
const IdentitySize = 12

var (
	// ErrNotFound reports that no live object has the handle's id.
	ErrNotFound = errors.New("exportfs: object not found")

	// ErrStale reports a handle whose generation no longer matches the object,
	// or a handle that cannot be parsed.
	ErrStale = errors.New("exportfs: stale file handle")
)

// HandleTooLargeError reports that the caller's buffer cannot hold the
// handle. Required is the size to retry with.
type HandleTooLargeError struct {
	Required int
}

func (e *HandleTooLargeError) Error() string {
	return fmt.Sprintf("exportfs: handle needs %d bytes", e.Required)
}

// LookupFailedError carries an engine failure other than "not found".
type LookupFailedError struct {
	Code zpl.Errno
}

func (e *LookupFailedError) Error() string {
	return fmt.Sprintf("exportfs: lookup failed: %v", e.Code)
}

func (e *LookupFailedError) Unwrap() error {
	return e.Code
}

// lookupError classifies an engine lookup failure.
func lookupError(err error) error {
	if zpl.IsNotFound(err) {
		return ErrNotFound
	}
	return &LookupFailedError{Code: zpl.Code(err)}
}

func putIdentity(dst []byte, id zpl.ObjectID, gen zpl.Generation) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(id))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(gen))
}

func identity(src []byte) (zpl.ObjectID, zpl.Generation) {
	return zpl.ObjectID(binary.LittleEndian.Uint64(src[0:8])),
		zpl.Generation(binary.LittleEndian.Uint32(src[8:12]))
}
