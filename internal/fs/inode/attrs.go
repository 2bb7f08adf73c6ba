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
	"os"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"golang.org/x/sys/unix"
)

const permBits = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// FileMode returns the Go file mode for an object of type t with the given
// permission bits.
func FileMode(t zpl.ObjectType, perm os.FileMode) os.FileMode {
	mode := perm & permBits
	switch t {
	case zpl.TypeDirectory:
		mode |= os.ModeDir
	case zpl.TypeSymlink:
		mode |= os.ModeSymlink
	case zpl.TypeCharDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case zpl.TypeBlockDevice:
		mode |= os.ModeDevice
	case zpl.TypeFIFO:
		mode |= os.ModeNamedPipe
	case zpl.TypeSocket:
		mode |= os.ModeSocket
	}
	return mode
}

// ObjectType is the inverse of FileMode for the type bits.
func ObjectType(mode os.FileMode) zpl.ObjectType {
	switch {
	case mode&os.ModeDir != 0:
		return zpl.TypeDirectory
	case mode&os.ModeSymlink != 0:
		return zpl.TypeSymlink
	case mode&os.ModeCharDevice != 0:
		return zpl.TypeCharDevice
	case mode&os.ModeDevice != 0:
		return zpl.TypeBlockDevice
	case mode&os.ModeNamedPipe != 0:
		return zpl.TypeFIFO
	case mode&os.ModeSocket != 0:
		return zpl.TypeSocket
	}
	return zpl.TypeRegular
}

// DirentType returns the directory entry type for t.
func DirentType(t zpl.ObjectType) fuseutil.DirentType {
	switch t {
	case zpl.TypeRegular:
		return fuseutil.DT_File
	case zpl.TypeDirectory:
		return fuseutil.DT_Directory
	case zpl.TypeSymlink:
		return fuseutil.DT_Link
	case zpl.TypeCharDevice:
		return fuseutil.DT_Char
	case zpl.TypeBlockDevice:
		return fuseutil.DT_Block
	case zpl.TypeFIFO:
		return fuseutil.DT_FIFO
	case zpl.TypeSocket:
		return fuseutil.DT_Socket
	}
	return fuseutil.DT_Unknown
}

// The kernel hands device numbers to FUSE in its 32-bit encoding: eight low
// minor bits, twelve major bits, then the remaining minor bits. The engine
// stores the 64-bit userspace encoding.

// KernelDev converts an engine device number to the FUSE encoding.
func KernelDev(rdev uint64) uint32 {
	major, minor := unix.Major(rdev), unix.Minor(rdev)
	return minor&0xff | (major&0xfff)<<8 | (minor&^0xff)<<12
}

// EngineDev converts a FUSE device number to the engine encoding.
func EngineDev(rdev uint32) uint64 {
	major := (rdev >> 8) & 0xfff
	minor := rdev&0xff | (rdev>>12)&0xfff00
	return unix.Mkdev(major, minor)
}

// ConvertAttributes maps engine attributes field by field.
func ConvertAttributes(a *zpl.Attributes) fuseops.InodeAttributes {
	attrs := fuseops.InodeAttributes{
		Size:   a.Size,
		Nlink:  a.Nlink,
		Mode:   FileMode(a.Type, a.Mode),
		Atime:  a.Atime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
		Crtime: a.Crtime,
		Uid:    a.Uid,
		Gid:    a.Gid,
	}
	if a.Type == zpl.TypeCharDevice || a.Type == zpl.TypeBlockDevice {
		attrs.Rdev = KernelDev(a.Rdev)
	}
	return attrs
}
