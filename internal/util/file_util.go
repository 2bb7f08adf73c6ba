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

package util

import "golang.org/x/sys/unix"

// Available file access modes, corresponding to O_RDONLY, O_WRONLY, O_RDWR.
const (
	ReadOnly int = iota
	WriteOnly
	ReadWrite
)

// Available file flags.
const (
	O_APPEND int = 1 << iota
	O_DIRECT
)

// OpenMode is the access mode plus the behavioural flags of an open file.
type OpenMode struct {
	AccessMode int
	FileFlags  int
}

func NewOpenMode(accessMode int, fileFlags int) OpenMode {
	return OpenMode{AccessMode: accessMode, FileFlags: fileFlags}
}

func (om OpenMode) IsAppend() bool {
	return om.FileFlags&O_APPEND != 0
}

func (om OpenMode) IsDirect() bool {
	return om.FileFlags&O_DIRECT != 0
}

func (om OpenMode) CanWrite() bool {
	return om.AccessMode != ReadOnly
}

// OpenFlagAttributes defines the methods required from the open flags.
type OpenFlagAttributes interface {
	IsReadOnly() bool
	IsWriteOnly() bool
	IsReadWrite() bool
	IsAppend() bool
	IsDirect() bool
}

// RawOpenFlags adapts the flags word of an open(2) call, as delivered by the
// kernel, to OpenFlagAttributes.
type RawOpenFlags uint32

func (f RawOpenFlags) IsReadOnly() bool  { return int(f)&unix.O_ACCMODE == unix.O_RDONLY }
func (f RawOpenFlags) IsWriteOnly() bool { return int(f)&unix.O_ACCMODE == unix.O_WRONLY }
func (f RawOpenFlags) IsReadWrite() bool { return int(f)&unix.O_ACCMODE == unix.O_RDWR }
func (f RawOpenFlags) IsAppend() bool    { return int(f)&unix.O_APPEND != 0 }
func (f RawOpenFlags) IsDirect() bool    { return int(f)&unix.O_DIRECT != 0 }

func getAccessMode(flags OpenFlagAttributes) int {
	switch {
	case flags.IsReadOnly():
		return ReadOnly
	case flags.IsWriteOnly():
		return WriteOnly
	default:
		return ReadWrite
	}
}

func getFileFlags(flags OpenFlagAttributes) int {
	var fileFlags int
	if flags.IsAppend() {
		fileFlags |= O_APPEND
	}
	if flags.IsDirect() {
		fileFlags |= O_DIRECT
	}
	return fileFlags
}

// FileOpenMode analyzes the open flags to determine the file's open mode.
func FileOpenMode(flags OpenFlagAttributes) OpenMode {
	return NewOpenMode(getAccessMode(flags), getFileFlags(flags))
}
