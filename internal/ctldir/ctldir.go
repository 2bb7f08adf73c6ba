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

// Package ctldir implements the snapshot control directory: a pseudo tree,
// .zfs/snapshot/<name>, whose leaves mount the named snapshot read-only the
// first time they are traversed.
//
// Pseudo objects have inode numbers in a reserved range at the top of the
// 48-bit space; no engine object id may fall into it.
package ctldir

import (
	"errors"
	"fmt"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

const (
	// Name is the control directory's entry in the dataset root.
	Name = ".zfs"

	// SnapdirName is the snapshot list's entry in the control directory.
	SnapdirName = "snapshot"
)

const (
	InoRoot    uint64 = 0x0000FFFFFFFFFFFF
	InoSnapdir uint64 = 0x0000FFFFFFFFFFFD

	// SnapshotBase minus a snapshot's catalogue id is the snapshot entry's
	// inode number.
	SnapshotBase uint64 = 0x0000FFFFFFFFFFF0

	// MaxSnapshotID is the largest catalogue id that has a pseudo inode.
	MaxSnapshotID zpl.SnapshotID = 1 << 40

	// FirstReservedIno is the lowest inode number of the pseudo range.
	FirstReservedIno = SnapshotBase - uint64(MaxSnapshotID)
)

var (
	// ErrSnapshotIDOutOfRange reports a catalogue id without a pseudo inode.
	ErrSnapshotIDOutOfRange = fmt.Errorf("ctldir: snapshot id out of range: %w", zpl.EOVERFLOW)

	// ErrClosed is returned once the control directory has been torn down.
	ErrClosed = errors.New("ctldir: control directory torn down")
)

// SnapshotIno returns the inode number of the snapshot entry for id.
func SnapshotIno(id zpl.SnapshotID) (uint64, error) {
	if id < 1 || id > MaxSnapshotID {
		return 0, fmt.Errorf("%w: %d", ErrSnapshotIDOutOfRange, id)
	}
	return SnapshotBase - uint64(id), nil
}

// IsReserved reports whether ino lies in the pseudo range.
func IsReserved(ino uint64) bool {
	return ino >= FirstReservedIno && ino <= InoRoot
}

// Dirent is one entry of a pseudo directory listing. Offset is the position
// to resume after it.
type Dirent struct {
	Offset uint64
	Ino    uint64
	Name   string
}
