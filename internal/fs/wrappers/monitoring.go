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
	"errors"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/lzfs/lzfs/common"
)

// categorize maps an error to an error category, keeping the cardinality of
// the error-count attribute small.
func categorize(err error) string {
	if err == nil {
		return ""
	}
	var se syscall.Errno
	if !errors.As(err, &se) {
		se = DefaultFSError
	}
	switch se {
	case syscall.ENOENT:
		return common.ErrCategoryNotFound
	case syscall.EEXIST:
		return common.ErrCategoryExists
	case syscall.EROFS:
		return common.ErrCategoryReadOnly
	case syscall.ESTALE:
		return common.ErrCategoryStale
	case syscall.EINVAL, syscall.ENOTDIR, syscall.EISDIR, syscall.EXDEV, syscall.EOVERFLOW:
		return common.ErrCategoryInvalid
	case syscall.ENAMETOOLONG:
		return common.ErrCategoryNameTooLong
	case syscall.ENOTEMPTY:
		return common.ErrCategoryNotEmpty
	case syscall.EPERM, syscall.EACCES:
		return common.ErrCategoryPermission
	case syscall.EIO, syscall.ENOSPC, syscall.EFBIG:
		return common.ErrCategoryIO
	case syscall.ENOSYS, syscall.ENOTSUP:
		return common.ErrCategoryNotSupported
	}
	return common.ErrCategoryOther
}

// Records file system operation count, failed operation count and the operation latency.
func recordOp(ctx context.Context, metricHandle common.OpsMetricHandle, method string, start time.Time, fsErr error) {
	metricHandle.OpsCount(ctx, 1, method)

	if fsErr != nil {
		metricHandle.OpsErrorCount(ctx, 1, common.FSOpsErrorCategory{
			FSOps:         method,
			ErrorCategory: categorize(fsErr),
		})
	}
	metricHandle.OpsLatency(ctx, time.Since(start), method)
}

// WithMonitoring takes a FileSystem, returns a FileSystem with monitoring
// on the counts of requests per API.
func WithMonitoring(fs fuseutil.FileSystem, metricHandle common.OpsMetricHandle) fuseutil.FileSystem {
	return &monitoring{
		wrapped:      fs,
		metricHandle: metricHandle,
	}
}

type monitoring struct {
	fuseutil.NotImplementedFileSystem
	wrapped      fuseutil.FileSystem
	metricHandle common.OpsMetricHandle
}

func (fs *monitoring) Destroy() {
	fs.wrapped.Destroy()
}

func (fs *monitoring) invokeWrapped(ctx context.Context, opName string, w wrappedCall) error {
	startTime := time.Now()
	err := w(ctx)
	recordOp(ctx, fs.metricHandle, opName, startTime, err)
	return err
}

func (fs *monitoring) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return fs.invokeWrapped(ctx, common.OpStatFS, func(ctx context.Context) error { return fs.wrapped.StatFS(ctx, op) })
}

func (fs *monitoring) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	return fs.invokeWrapped(ctx, common.OpLookUpInode, func(ctx context.Context) error { return fs.wrapped.LookUpInode(ctx, op) })
}

func (fs *monitoring) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	return fs.invokeWrapped(ctx, common.OpGetInodeAttributes, func(ctx context.Context) error { return fs.wrapped.GetInodeAttributes(ctx, op) })
}

func (fs *monitoring) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	return fs.invokeWrapped(ctx, common.OpSetInodeAttributes, func(ctx context.Context) error { return fs.wrapped.SetInodeAttributes(ctx, op) })
}

func (fs *monitoring) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return fs.invokeWrapped(ctx, common.OpForgetInode, func(ctx context.Context) error { return fs.wrapped.ForgetInode(ctx, op) })
}

func (fs *monitoring) BatchForget(ctx context.Context, op *fuseops.BatchForgetOp) error {
	return fs.invokeWrapped(ctx, common.OpBatchForget, func(ctx context.Context) error { return fs.wrapped.BatchForget(ctx, op) })
}

func (fs *monitoring) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return fs.invokeWrapped(ctx, common.OpMkDir, func(ctx context.Context) error { return fs.wrapped.MkDir(ctx, op) })
}

func (fs *monitoring) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	return fs.invokeWrapped(ctx, common.OpMkNode, func(ctx context.Context) error { return fs.wrapped.MkNode(ctx, op) })
}

func (fs *monitoring) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	return fs.invokeWrapped(ctx, common.OpCreateFile, func(ctx context.Context) error { return fs.wrapped.CreateFile(ctx, op) })
}

func (fs *monitoring) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	return fs.invokeWrapped(ctx, common.OpCreateLink, func(ctx context.Context) error { return fs.wrapped.CreateLink(ctx, op) })
}

func (fs *monitoring) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	return fs.invokeWrapped(ctx, common.OpCreateSymlink, func(ctx context.Context) error { return fs.wrapped.CreateSymlink(ctx, op) })
}

func (fs *monitoring) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	return fs.invokeWrapped(ctx, common.OpRename, func(ctx context.Context) error { return fs.wrapped.Rename(ctx, op) })
}

func (fs *monitoring) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return fs.invokeWrapped(ctx, common.OpRmDir, func(ctx context.Context) error { return fs.wrapped.RmDir(ctx, op) })
}

func (fs *monitoring) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return fs.invokeWrapped(ctx, common.OpUnlink, func(ctx context.Context) error { return fs.wrapped.Unlink(ctx, op) })
}

func (fs *monitoring) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return fs.invokeWrapped(ctx, common.OpOpenDir, func(ctx context.Context) error { return fs.wrapped.OpenDir(ctx, op) })
}

func (fs *monitoring) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	return fs.invokeWrapped(ctx, common.OpReadDir, func(ctx context.Context) error { return fs.wrapped.ReadDir(ctx, op) })
}

func (fs *monitoring) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return fs.invokeWrapped(ctx, common.OpReleaseDirHandle, func(ctx context.Context) error { return fs.wrapped.ReleaseDirHandle(ctx, op) })
}

func (fs *monitoring) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return fs.invokeWrapped(ctx, common.OpOpenFile, func(ctx context.Context) error { return fs.wrapped.OpenFile(ctx, op) })
}

func (fs *monitoring) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	return fs.invokeWrapped(ctx, common.OpReadFile, func(ctx context.Context) error { return fs.wrapped.ReadFile(ctx, op) })
}

func (fs *monitoring) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	return fs.invokeWrapped(ctx, common.OpWriteFile, func(ctx context.Context) error { return fs.wrapped.WriteFile(ctx, op) })
}

func (fs *monitoring) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return fs.invokeWrapped(ctx, common.OpSyncFile, func(ctx context.Context) error { return fs.wrapped.SyncFile(ctx, op) })
}

func (fs *monitoring) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return fs.invokeWrapped(ctx, common.OpFlushFile, func(ctx context.Context) error { return fs.wrapped.FlushFile(ctx, op) })
}

func (fs *monitoring) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return fs.invokeWrapped(ctx, common.OpReleaseFileHandle, func(ctx context.Context) error { return fs.wrapped.ReleaseFileHandle(ctx, op) })
}

func (fs *monitoring) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	return fs.invokeWrapped(ctx, common.OpReadSymlink, func(ctx context.Context) error { return fs.wrapped.ReadSymlink(ctx, op) })
}

func (fs *monitoring) SyncFS(ctx context.Context, op *fuseops.SyncFSOp) error {
	return fs.invokeWrapped(ctx, common.OpSyncFS, func(ctx context.Context) error { return fs.wrapped.SyncFS(ctx, op) })
}
