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

// Package zpl defines the object-operation contract of a transactional
// storage engine as consumed by the POSIX adaptation layer.
//
// Every call receives the acting identity and returns either a result or a
// value of type Errno. The layer above never interprets engine state beyond
// what is returned here.
package zpl

import (
	"context"
	"os"
	"time"
)

// ObjectID is the primary id of an object within a dataset.
type ObjectID uint64

// Generation is bumped by the engine whenever an object slot is reused by a
// different logical object.
type Generation uint32

// SnapshotID is the catalogue id of a snapshot within a pool.
type SnapshotID uint64

// Cursor is an opaque, resumable position in an enumeration. The zero value
// starts an enumeration.
type Cursor uint64

// MaxNameLen is the engine's MAXNAMELEN. Component names must be strictly
// shorter.
const MaxNameLen = 256

type ObjectType int

const (
	TypeRegular ObjectType = iota
	TypeDirectory
	TypeSymlink
	TypeCharDevice
	TypeBlockDevice
	TypeFIFO
	TypeSocket
)

func (t ObjectType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeCharDevice:
		return "char-device"
	case TypeBlockDevice:
		return "block-device"
	case TypeFIFO:
		return "fifo"
	case TypeSocket:
		return "socket"
	}
	return "unknown"
}

// Object is a reference to a live object, as returned by lookups.
type Object struct {
	ID   ObjectID
	Gen  Generation
	Type ObjectType
}

// Attributes of an object. Mode holds permission and set-id bits only; the
// type is carried separately.
type Attributes struct {
	Type      ObjectType
	Mode      os.FileMode
	Uid       uint32
	Gid       uint32
	Nlink     uint32
	Rdev      uint64
	Size      uint64
	Blocks    uint64
	BlockSize uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Crtime    time.Time
	Gen       Generation
}

// AttrMask selects the fields applied by SetAttributes.
type AttrMask uint32

const (
	AttrMode AttrMask = 1 << iota
	AttrUid
	AttrGid
	AttrSize
	AttrAtime
	AttrMtime
	AttrCtime
)

// Cred is the acting identity of a call.
type Cred struct {
	Uid uint32
	Gid uint32
	Pid uint32
}

// CreateRequest describes a new non-directory object.
type CreateRequest struct {
	Name string
	Type ObjectType
	Mode os.FileMode
	Rdev uint64
}

// DirEntry is one child produced by ReadDir.
type DirEntry struct {
	Name string
	ID   ObjectID
	Gen  Generation
	Type ObjectType
}

// Listing is one finite batch of a directory enumeration. Next is zero when
// the enumeration is exhausted.
type Listing struct {
	Entries []DirEntry
	Next    Cursor
}

// Snapshot is one entry of a dataset's snapshot catalogue.
type Snapshot struct {
	Name string
	ID   SnapshotID
}

// FSStats mirrors statvfs.
type FSStats struct {
	BlockSize   uint32
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	Files       uint64
	FilesFree   uint64
	NameMax     uint32
}

// Engine opens datasets by name.
type Engine interface {
	// Open returns a filesystem instance for "pool/fs" or "pool/fs@snap".
	// Snapshots are always opened read-only.
	Open(ctx context.Context, name string, readOnly bool) (Dataset, error)
}

// Dataset is one mounted filesystem instance of the engine.
type Dataset interface {
	Name() string
	IsSnapshot() bool
	ReadOnly() bool

	Root(ctx context.Context) (Object, error)

	LookupByName(ctx context.Context, cred *Cred, dir ObjectID, name string) (Object, error)
	LookupByID(ctx context.Context, id ObjectID) (Object, error)
	// LookupParent resolves "..". ENOENT means the child has no parent.
	LookupParent(ctx context.Context, cred *Cred, child ObjectID) (Object, error)

	// Read copies object bytes at off into dst and returns the number of bytes
	// transferred. A short count at end of file is not an error.
	Read(ctx context.Context, cred *Cred, id ObjectID, off int64, dst []byte) (int, error)
	// Write stores src at off, or at the current size when appendMode is set,
	// and returns the number of bytes transferred.
	Write(ctx context.Context, cred *Cred, id ObjectID, off int64, src []byte, appendMode bool) (int, error)

	Create(ctx context.Context, cred *Cred, dir ObjectID, req *CreateRequest) (Object, error)
	Mkdir(ctx context.Context, cred *Cred, dir ObjectID, name string, mode os.FileMode) (Object, error)
	Symlink(ctx context.Context, cred *Cred, dir ObjectID, name string, target string) (Object, error)
	Link(ctx context.Context, cred *Cred, dir ObjectID, name string, target ObjectID) error
	Remove(ctx context.Context, cred *Cred, dir ObjectID, name string) error
	Rmdir(ctx context.Context, cred *Cred, dir ObjectID, name string) error
	Rename(ctx context.Context, cred *Cred, srcDir ObjectID, srcName string, dstDir ObjectID, dstName string) error

	GetAttributes(ctx context.Context, cred *Cred, id ObjectID) (Attributes, error)
	SetAttributes(ctx context.Context, cred *Cred, id ObjectID, attrs *Attributes, mask AttrMask) error
	Readlink(ctx context.Context, cred *Cred, id ObjectID) (string, error)

	ReadDir(ctx context.Context, cred *Cred, dir ObjectID, cursor Cursor) (Listing, error)

	// NextSnapshot returns the snapshot at *cursor and advances it. ENOENT
	// marks the end of the catalogue.
	NextSnapshot(ctx context.Context, cursor *Cursor) (Snapshot, error)
	// SnapshotID translates a snapshot name to its catalogue id.
	SnapshotID(ctx context.Context, name string) (SnapshotID, error)

	Fsync(ctx context.Context, cred *Cred, id ObjectID, dataOnly bool) error

	// EncodeNativeHandle writes the engine's own handle for id into dst and
	// returns its length. ENOSPC reports that dst is too small.
	EncodeNativeHandle(ctx context.Context, id ObjectID, dst []byte) (int, error)
	NativeHandleSize() int

	StatFS(ctx context.Context) (FSStats, error)
	Close() error
}
