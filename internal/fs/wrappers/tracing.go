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

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/lzfs/lzfs/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const name = "github.com/lzfs/lzfs"

// Span attribute keys.
const (
	attrInode   = attribute.Key("lzfs.inode")
	attrParent  = attribute.Key("lzfs.parent")
	attrName    = attribute.Key("lzfs.name")
	attrHandle  = attribute.Key("lzfs.handle")
	attrOffset  = attribute.Key("lzfs.offset")
	attrSize    = attribute.Key("lzfs.size")
	attrEntries = attribute.Key("lzfs.entries")
)

type wrappedCall func(ctx context.Context) error

type tracing struct {
	fuseutil.NotImplementedFileSystem
	wrapped fuseutil.FileSystem
	tracer  trace.Tracer
}

// WithTracing wraps a FileSystem so that every kernel request runs inside a
// server span carrying the inode and, where the request has them, the entry
// name, handle and byte range.
func WithTracing(wrapped fuseutil.FileSystem) fuseutil.FileSystem {
	return &tracing{
		wrapped: wrapped,
		tracer:  otel.Tracer(name),
	}
}

func (fs *tracing) Destroy() {
	fs.wrapped.Destroy()
}

func (fs *tracing) invokeWrapped(ctx context.Context, opName string, attrs []attribute.KeyValue, w wrappedCall) error {
	ctx, span := fs.tracer.Start(ctx, opName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...))
	defer span.End()

	err := w(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func inodeAttr(id fuseops.InodeID) attribute.KeyValue {
	return attrInode.Int64(int64(id))
}

func handleAttr(h fuseops.HandleID) attribute.KeyValue {
	return attrHandle.Int64(int64(h))
}

func childAttrs(parent fuseops.InodeID, name string) []attribute.KeyValue {
	return []attribute.KeyValue{attrParent.Int64(int64(parent)), attrName.String(name)}
}

func (fs *tracing) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return fs.invokeWrapped(ctx, common.OpStatFS, nil, func(ctx context.Context) error { return fs.wrapped.StatFS(ctx, op) })
}

func (fs *tracing) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	return fs.invokeWrapped(ctx, common.OpLookUpInode, childAttrs(op.Parent, op.Name), func(ctx context.Context) error { return fs.wrapped.LookUpInode(ctx, op) })
}

func (fs *tracing) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode)}
	return fs.invokeWrapped(ctx, common.OpGetInodeAttributes, attrs, func(ctx context.Context) error { return fs.wrapped.GetInodeAttributes(ctx, op) })
}

func (fs *tracing) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode)}
	if op.Size != nil {
		attrs = append(attrs, attrSize.Int64(int64(*op.Size)))
	}
	return fs.invokeWrapped(ctx, common.OpSetInodeAttributes, attrs, func(ctx context.Context) error { return fs.wrapped.SetInodeAttributes(ctx, op) })
}

func (fs *tracing) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode)}
	return fs.invokeWrapped(ctx, common.OpForgetInode, attrs, func(ctx context.Context) error { return fs.wrapped.ForgetInode(ctx, op) })
}

func (fs *tracing) BatchForget(ctx context.Context, op *fuseops.BatchForgetOp) error {
	attrs := []attribute.KeyValue{attrEntries.Int(len(op.Entries))}
	return fs.invokeWrapped(ctx, common.OpBatchForget, attrs, func(ctx context.Context) error { return fs.wrapped.BatchForget(ctx, op) })
}

func (fs *tracing) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return fs.invokeWrapped(ctx, common.OpMkDir, childAttrs(op.Parent, op.Name), func(ctx context.Context) error { return fs.wrapped.MkDir(ctx, op) })
}

func (fs *tracing) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	return fs.invokeWrapped(ctx, common.OpMkNode, childAttrs(op.Parent, op.Name), func(ctx context.Context) error { return fs.wrapped.MkNode(ctx, op) })
}

func (fs *tracing) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	return fs.invokeWrapped(ctx, common.OpCreateFile, childAttrs(op.Parent, op.Name), func(ctx context.Context) error { return fs.wrapped.CreateFile(ctx, op) })
}

func (fs *tracing) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	attrs := append(childAttrs(op.Parent, op.Name), inodeAttr(op.Target))
	return fs.invokeWrapped(ctx, common.OpCreateLink, attrs, func(ctx context.Context) error { return fs.wrapped.CreateLink(ctx, op) })
}

func (fs *tracing) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	return fs.invokeWrapped(ctx, common.OpCreateSymlink, childAttrs(op.Parent, op.Name), func(ctx context.Context) error { return fs.wrapped.CreateSymlink(ctx, op) })
}

func (fs *tracing) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	attrs := append(childAttrs(op.OldParent, op.OldName),
		attribute.Int64("lzfs.new_parent", int64(op.NewParent)),
		attribute.String("lzfs.new_name", op.NewName))
	return fs.invokeWrapped(ctx, common.OpRename, attrs, func(ctx context.Context) error { return fs.wrapped.Rename(ctx, op) })
}

func (fs *tracing) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return fs.invokeWrapped(ctx, common.OpRmDir, childAttrs(op.Parent, op.Name), func(ctx context.Context) error { return fs.wrapped.RmDir(ctx, op) })
}

func (fs *tracing) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return fs.invokeWrapped(ctx, common.OpUnlink, childAttrs(op.Parent, op.Name), func(ctx context.Context) error { return fs.wrapped.Unlink(ctx, op) })
}

func (fs *tracing) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode)}
	return fs.invokeWrapped(ctx, common.OpOpenDir, attrs, func(ctx context.Context) error { return fs.wrapped.OpenDir(ctx, op) })
}

func (fs *tracing) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode), handleAttr(op.Handle), attrOffset.Int64(int64(op.Offset))}
	return fs.invokeWrapped(ctx, common.OpReadDir, attrs, func(ctx context.Context) error { return fs.wrapped.ReadDir(ctx, op) })
}

func (fs *tracing) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	attrs := []attribute.KeyValue{handleAttr(op.Handle)}
	return fs.invokeWrapped(ctx, common.OpReleaseDirHandle, attrs, func(ctx context.Context) error { return fs.wrapped.ReleaseDirHandle(ctx, op) })
}

func (fs *tracing) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode)}
	return fs.invokeWrapped(ctx, common.OpOpenFile, attrs, func(ctx context.Context) error { return fs.wrapped.OpenFile(ctx, op) })
}

func (fs *tracing) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode), handleAttr(op.Handle), attrOffset.Int64(op.Offset), attrSize.Int64(op.Size)}
	return fs.invokeWrapped(ctx, common.OpReadFile, attrs, func(ctx context.Context) error { return fs.wrapped.ReadFile(ctx, op) })
}

func (fs *tracing) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode), handleAttr(op.Handle), attrOffset.Int64(op.Offset), attrSize.Int(len(op.Data))}
	return fs.invokeWrapped(ctx, common.OpWriteFile, attrs, func(ctx context.Context) error { return fs.wrapped.WriteFile(ctx, op) })
}

func (fs *tracing) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode), handleAttr(op.Handle)}
	return fs.invokeWrapped(ctx, common.OpSyncFile, attrs, func(ctx context.Context) error { return fs.wrapped.SyncFile(ctx, op) })
}

func (fs *tracing) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode), handleAttr(op.Handle)}
	return fs.invokeWrapped(ctx, common.OpFlushFile, attrs, func(ctx context.Context) error { return fs.wrapped.FlushFile(ctx, op) })
}

func (fs *tracing) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	attrs := []attribute.KeyValue{handleAttr(op.Handle)}
	return fs.invokeWrapped(ctx, common.OpReleaseFileHandle, attrs, func(ctx context.Context) error { return fs.wrapped.ReleaseFileHandle(ctx, op) })
}

func (fs *tracing) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	attrs := []attribute.KeyValue{inodeAttr(op.Inode)}
	return fs.invokeWrapped(ctx, common.OpReadSymlink, attrs, func(ctx context.Context) error { return fs.wrapped.ReadSymlink(ctx, op) })
}

func (fs *tracing) SyncFS(ctx context.Context, op *fuseops.SyncFSOp) error {
	return fs.invokeWrapped(ctx, common.OpSyncFS, nil, func(ctx context.Context) error { return fs.wrapped.SyncFS(ctx, op) })
}
