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

package image

// Pool is the persisted form of an in-memory engine pool. Field keys are
// fixed integers so that renaming a Go field does not change the format.
type Pool struct {
	Name           string    `cbor:"1,keyasint"`
	NextSnapshotID uint64    `cbor:"2,keyasint"`
	Datasets       []Dataset `cbor:"3,keyasint"`
}

type Dataset struct {
	Name      string     `cbor:"1,keyasint"`
	Table     Table      `cbor:"2,keyasint"`
	Snapshots []Snapshot `cbor:"3,keyasint"`
}

type Snapshot struct {
	Name    string `cbor:"1,keyasint"`
	ID      uint64 `cbor:"2,keyasint"`
	Created int64  `cbor:"3,keyasint"`
	Table   Table  `cbor:"4,keyasint"`
}

// Table is an object table: live objects plus the free slots and their last
// generation.
type Table struct {
	Root    uint64   `cbor:"1,keyasint"`
	NextID  uint64   `cbor:"2,keyasint"`
	Objects []Object `cbor:"3,keyasint"`
	Free    []Slot   `cbor:"4,keyasint,omitempty"`
}

type Slot struct {
	ID  uint64 `cbor:"1,keyasint"`
	Gen uint32 `cbor:"2,keyasint"`
}

type Object struct {
	ID      uint64  `cbor:"1,keyasint"`
	Gen     uint32  `cbor:"2,keyasint"`
	Type    uint8   `cbor:"3,keyasint"`
	Mode    uint32  `cbor:"4,keyasint"`
	Uid     uint32  `cbor:"5,keyasint"`
	Gid     uint32  `cbor:"6,keyasint"`
	Nlink   uint32  `cbor:"7,keyasint"`
	Rdev    uint64  `cbor:"8,keyasint,omitempty"`
	Atime   int64   `cbor:"9,keyasint"`
	Mtime   int64   `cbor:"10,keyasint"`
	Ctime   int64   `cbor:"11,keyasint"`
	Crtime  int64   `cbor:"12,keyasint"`
	Parent  uint64  `cbor:"13,keyasint"`
	Data    []byte  `cbor:"14,keyasint,omitempty"`
	Target  string  `cbor:"15,keyasint,omitempty"`
	Entries []Entry `cbor:"16,keyasint,omitempty"`
}

type Entry struct {
	Name string `cbor:"1,keyasint"`
	ID   uint64 `cbor:"2,keyasint"`
}
