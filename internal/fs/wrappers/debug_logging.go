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

package wrappers

import (
	"context"
	"fmt"
	"log"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/lzfs/lzfs/internal/logger"
)

// WithDebugLogging wraps a FileSystem, logging each request together with
// what it produced: the child inode for entry-creating calls, the handle for
// opens, and the byte count for reads.
func WithDebugLogging(wrapped fuseutil.FileSystem) fuseutil.FileSystem {
	return &debugLogging{
		wrapped: wrapped,
		logger:  logger.NewLegacyLogger(logger.LevelDebug, "debug_fs: "),
	}
}

type debugLogging struct {
	fuseutil.NotImplementedFileSystem
	wrapped fuseutil.FileSystem
	logger  *log.Logger
}

// logOp emits "call -> result" on success and "call: err" on failure.
func (fs *debugLogging) logOp(err error, call string, result func() string) error {
	switch {
	case err != nil:
		fs.logger.Printf("%s: %v", call, err)
	case result != nil:
		fs.logger.Printf("%s -> %s", call, result())
	default:
		fs.logger.Printf("%s: OK", call)
	}
	return err
}

func entry(e *fuseops.ChildInodeEntry) func() string {
	return func() string { return fmt.Sprintf("inode %v", e.Child) }
}

func (fs *debugLogging) Destroy() {
	fs.logger.Printf("Destroy()")
	fs.wrapped.Destroy()
}

func (fs *debugLogging) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	err := fs.wrapped.StatFS(ctx, op)
	return fs.logOp(err, "StatFS()", func() string {
		return fmt.Sprintf("%d/%d blocks free", op.BlocksFree, op.Blocks)
	})
}

func (fs *debugLogging) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	err := fs.wrapped.LookUpInode(ctx, op)
	return fs.logOp(err, fmt.Sprintf("LookUpInode(%v, %q)", op.Parent, op.Name), entry(&op.Entry))
}

func (fs *debugLogging) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	err := fs.wrapped.GetInodeAttributes(ctx, op)
	return fs.logOp(err, fmt.Sprintf("GetInodeAttributes(%v)", op.Inode), func() string {
		return fmt.Sprintf("size %d, mode %v, nlink %d", op.Attributes.Size, op.Attributes.Mode, op.Attributes.Nlink)
	})
}

func (fs *debugLogging) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	err := fs.wrapped.SetInodeAttributes(ctx, op)
	return fs.logOp(err, fmt.Sprintf("SetInodeAttributes(%v)", op.Inode), nil)
}

func (fs *debugLogging) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	err := fs.wrapped.ForgetInode(ctx, op)
	return fs.logOp(err, fmt.Sprintf("ForgetInode(%v, %d)", op.Inode, op.N), nil)
}

func (fs *debugLogging) BatchForget(ctx context.Context, op *fuseops.BatchForgetOp) error {
	err := fs.wrapped.BatchForget(ctx, op)
	return fs.logOp(err, fmt.Sprintf("BatchForget(%d entries)", len(op.Entries)), nil)
}

func (fs *debugLogging) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	err := fs.wrapped.MkDir(ctx, op)
	return fs.logOp(err, fmt.Sprintf("MkDir(%v, %q, %v)", op.Parent, op.Name, op.Mode), entry(&op.Entry))
}

func (fs *debugLogging) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	err := fs.wrapped.MkNode(ctx, op)
	return fs.logOp(err, fmt.Sprintf("MkNode(%v, %q, %v)", op.Parent, op.Name, op.Mode), entry(&op.Entry))
}

func (fs *debugLogging) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	err := fs.wrapped.CreateFile(ctx, op)
	return fs.logOp(err, fmt.Sprintf("CreateFile(%v, %q, %v)", op.Parent, op.Name, op.Mode), func() string {
		return fmt.Sprintf("inode %v, handle %v", op.Entry.Child, op.Handle)
	})
}

func (fs *debugLogging) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	err := fs.wrapped.CreateLink(ctx, op)
	return fs.logOp(err, fmt.Sprintf("CreateLink(%v, %q, %v)", op.Parent, op.Name, op.Target), entry(&op.Entry))
}

func (fs *debugLogging) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	err := fs.wrapped.CreateSymlink(ctx, op)
	return fs.logOp(err, fmt.Sprintf("CreateSymlink(%v, %q, %q)", op.Parent, op.Name, op.Target), entry(&op.Entry))
}

func (fs *debugLogging) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	err := fs.wrapped.Rename(ctx, op)
	return fs.logOp(err, fmt.Sprintf("Rename(%v, %q, %v, %q)", op.OldParent, op.OldName, op.NewParent, op.NewName), nil)
}

func (fs *debugLogging) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	err := fs.wrapped.RmDir(ctx, op)
	return fs.logOp(err, fmt.Sprintf("RmDir(%v, %q)", op.Parent, op.Name), nil)
}

func (fs *debugLogging) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	err := fs.wrapped.Unlink(ctx, op)
	return fs.logOp(err, fmt.Sprintf("Unlink(%v, %q)", op.Parent, op.Name), nil)
}

func (fs *debugLogging) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	err := fs.wrapped.OpenDir(ctx, op)
	return fs.logOp(err, fmt.Sprintf("OpenDir(%v)", op.Inode), func() string {
		return fmt.Sprintf("handle %v", op.Handle)
	})
}

func (fs *debugLogging) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	err := fs.wrapped.ReadDir(ctx, op)
	return fs.logOp(err, fmt.Sprintf("ReadDir(%v, %v, %v)", op.Inode, op.Handle, op.Offset), func() string {
		return fmt.Sprintf("%d bytes", op.BytesRead)
	})
}

func (fs *debugLogging) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	err := fs.wrapped.ReleaseDirHandle(ctx, op)
	return fs.logOp(err, fmt.Sprintf("ReleaseDirHandle(%v)", op.Handle), nil)
}

func (fs *debugLogging) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	err := fs.wrapped.OpenFile(ctx, op)
	return fs.logOp(err, fmt.Sprintf("OpenFile(%v)", op.Inode), func() string {
		return fmt.Sprintf("handle %v, keep cache %t", op.Handle, op.KeepPageCache)
	})
}

func (fs *debugLogging) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	err := fs.wrapped.ReadFile(ctx, op)
	return fs.logOp(err, fmt.Sprintf("ReadFile(%v, %v, %d, %d)", op.Inode, op.Handle, op.Offset, op.Size), func() string {
		return fmt.Sprintf("%d bytes", op.BytesRead)
	})
}

func (fs *debugLogging) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	err := fs.wrapped.WriteFile(ctx, op)
	return fs.logOp(err, fmt.Sprintf("WriteFile(%v, %v, %d, %d)", op.Inode, op.Handle, op.Offset, len(op.Data)), nil)
}

func (fs *debugLogging) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	err := fs.wrapped.SyncFile(ctx, op)
	return fs.logOp(err, fmt.Sprintf("SyncFile(%v, %v)", op.Inode, op.Handle), nil)
}

func (fs *debugLogging) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	err := fs.wrapped.FlushFile(ctx, op)
	return fs.logOp(err, fmt.Sprintf("FlushFile(%v, %v)", op.Inode, op.Handle), nil)
}

func (fs *debugLogging) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	err := fs.wrapped.ReleaseFileHandle(ctx, op)
	return fs.logOp(err, fmt.Sprintf("ReleaseFileHandle(%v)", op.Handle), nil)
}

func (fs *debugLogging) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	err := fs.wrapped.ReadSymlink(ctx, op)
	return fs.logOp(err, fmt.Sprintf("ReadSymlink(%v)", op.Inode), func() string {
		return fmt.Sprintf("%q", op.Target)
	})
}

func (fs *debugLogging) SyncFS(ctx context.Context, op *fuseops.SyncFSOp) error {
	err := fs.wrapped.SyncFS(ctx, op)
	return fs.logOp(err, "SyncFS()", nil)
}
