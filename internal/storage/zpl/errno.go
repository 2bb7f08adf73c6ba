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

package zpl

import (
	"errors"
	"fmt"
	"syscall"
)

// Errno is the engine's error domain: small positive integers using the
// Linux errno numbering.
type Errno int

const (
	EPERM     = Errno(syscall.EPERM)
	ENOENT    = Errno(syscall.ENOENT)
	EIO       = Errno(syscall.EIO)
	EEXIST    = Errno(syscall.EEXIST)
	EXDEV     = Errno(syscall.EXDEV)
	ENOTDIR   = Errno(syscall.ENOTDIR)
	EISDIR    = Errno(syscall.EISDIR)
	EINVAL    = Errno(syscall.EINVAL)
	ENOSPC    = Errno(syscall.ENOSPC)
	EROFS     = Errno(syscall.EROFS)
	ENOTEMPTY = Errno(syscall.ENOTEMPTY)
	EBUSY     = Errno(syscall.EBUSY)
	EFBIG     = Errno(syscall.EFBIG)
	EOVERFLOW = Errno(syscall.EOVERFLOW)
	EACCES    = Errno(syscall.EACCES)
)

func (e Errno) Error() string {
	return fmt.Sprintf("zpl: %v (%d)", syscall.Errno(e).Error(), int(e))
}

// Is lets errors.Is match an Errno against the syscall.Errno with the same
// number.
func (e Errno) Is(target error) bool {
	var se syscall.Errno
	if errors.As(target, &se) {
		return int(se) == int(e)
	}
	return false
}

// Code extracts the engine code carried by err, or EIO when err does not
// carry one.
func Code(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return EIO
}

// IsNotFound reports whether err is the engine's ENOENT.
func IsNotFound(err error) bool {
	var e Errno
	return errors.As(err, &e) && e == ENOENT
}
