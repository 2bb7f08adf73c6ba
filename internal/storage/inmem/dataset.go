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

package inmem

import (
	"context"
	"encoding/binary"
	"os"
	"sync/atomic"

	"github.com/lzfs/lzfs/internal/storage/zpl"
)

const (
	blockSize = 4096

	// Entries returned per ReadDir call.
	readDirBatch = 128

	nativeHandleSize = 12

	// Reported capacity; the table itself is bounded only by memory.
	totalBlocks = 1 << 24
	totalFiles  = 1 << 24

	// Largest file offset accepted by Write.
	maxFileSize = 1 << 40
)

// handle is one open instance of a dataset or snapshot.
type handle struct {
	pool     *Pool
	ds       *dataset
	snap     *snapshot
	name     string
	t        *table
	readOnly bool
	closed   atomic.Bool
}

var _ zpl.Dataset = &handle{}

func (h *handle) Name() string     { return h.name }
func (h *handle) IsSnapshot() bool { return h.snap != nil }
func (h *handle) ReadOnly() bool   { return h.readOnly }

// begin runs the checks shared by every call.
func (h *handle) begin(method string) error {
	if h.closed.Load() {
		return zpl.EIO
	}
	return h.pool.takeInjected(method)
}

func (h *handle) beginWrite(method string) error {
	if err := h.begin(method); err != nil {
		return err
	}
	if h.readOnly {
		return zpl.EROFS
	}
	return nil
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return zpl.EINVAL
	case len(name) >= zpl.MaxNameLen:
		return zpl.EINVAL
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return zpl.EINVAL
		}
	}
	return nil
}

func (h *handle) Root(ctx context.Context) (zpl.Object, error) {
	if err := h.begin("Root"); err != nil {
		return zpl.Object{}, err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	o, err := h.t.get(h.t.root)
	if err != nil {
		return zpl.Object{}, err
	}
	return o.ref(), nil
}

func (h *handle) LookupByName(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string) (zpl.Object, error) {
	if err := h.begin("LookupByName"); err != nil {
		return zpl.Object{}, err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	d, err := h.t.dir(dir)
	if err != nil {
		return zpl.Object{}, err
	}
	switch name {
	case ".":
		return d.ref(), nil
	case "..":
		return h.parentLocked(d)
	}
	o, err := h.t.child(d, name)
	if err != nil {
		return zpl.Object{}, err
	}
	return o.ref(), nil
}

func (h *handle) LookupByID(ctx context.Context, id zpl.ObjectID) (zpl.Object, error) {
	if err := h.begin("LookupByID"); err != nil {
		return zpl.Object{}, err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	o, err := h.t.get(id)
	if err != nil {
		return zpl.Object{}, err
	}
	return o.ref(), nil
}

func (h *handle) LookupParent(ctx context.Context, cred *zpl.Cred, child zpl.ObjectID) (zpl.Object, error) {
	if err := h.begin("LookupParent"); err != nil {
		return zpl.Object{}, err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	o, err := h.t.get(child)
	if err != nil {
		return zpl.Object{}, err
	}
	return h.parentLocked(o)
}

// LOCKS_REQUIRED(h.t.mu)
func (h *handle) parentLocked(o *object) (zpl.Object, error) {
	if o.id == h.t.root || o.parent == 0 {
		return zpl.Object{}, zpl.ENOENT
	}
	p, err := h.t.get(o.parent)
	if err != nil {
		return zpl.Object{}, err
	}
	return p.ref(), nil
}

////////////////////////////////////////////////////////////////////////
// Data
////////////////////////////////////////////////////////////////////////

func (h *handle) Read(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, off int64, dst []byte) (int, error) {
	if err := h.begin("Read"); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, zpl.EINVAL
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	o, err := h.t.get(id)
	if err != nil {
		return 0, err
	}
	if o.typ == zpl.TypeDirectory {
		return 0, zpl.EISDIR
	}
	if off >= int64(len(o.data)) {
		return 0, nil
	}
	return copy(dst, o.data[off:]), nil
}

func (h *handle) Write(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, off int64, src []byte, appendMode bool) (int, error) {
	if err := h.beginWrite("Write"); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, zpl.EINVAL
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	o, err := h.t.get(id)
	if err != nil {
		return 0, err
	}
	if o.typ == zpl.TypeDirectory {
		return 0, zpl.EISDIR
	}
	if appendMode {
		off = int64(len(o.data))
	}
	end := off + int64(len(src))
	if end > maxFileSize {
		return 0, zpl.EFBIG
	}
	if end > int64(len(o.data)) {
		o.data = grow(o.data, int(end))
	}
	n := copy(o.data[off:], src)

	now := h.pool.clock.Now()
	o.mtime = now
	o.ctime = now
	return n, nil
}

func grow(b []byte, n int) []byte {
	if n <= cap(b) {
		return b[:n]
	}
	nb := make([]byte, n, n+n/4)
	copy(nb, b)
	return nb
}

////////////////////////////////////////////////////////////////////////
// Namespace
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(h.t.mu)
func (h *handle) prepareInsert(dir zpl.ObjectID, name string) (*object, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	d, err := h.t.dir(dir)
	if err != nil {
		return nil, err
	}
	if _, ok := d.children[name]; ok {
		return nil, zpl.EEXIST
	}
	return d, nil
}

// LOCKS_REQUIRED(h.t.mu)
func (h *handle) insert(d *object, name string, o *object) {
	d.children[name] = o.id
	o.parent = d.id
	now := h.pool.clock.Now()
	d.mtime = now
	d.ctime = now
}

func (h *handle) Create(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, req *zpl.CreateRequest) (zpl.Object, error) {
	if err := h.beginWrite("Create"); err != nil {
		return zpl.Object{}, err
	}
	if req.Type == zpl.TypeDirectory || req.Type == zpl.TypeSymlink {
		return zpl.Object{}, zpl.EINVAL
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	d, err := h.prepareInsert(dir, req.Name)
	if err != nil {
		return zpl.Object{}, err
	}
	o := h.t.alloc(req.Type, req.Mode, cred.Uid, h.newGid(d, cred), h.pool.clock.Now())
	if req.Type == zpl.TypeCharDevice || req.Type == zpl.TypeBlockDevice {
		o.rdev = req.Rdev
	}
	h.insert(d, req.Name, o)
	return o.ref(), nil
}

// newGid applies set-gid directory inheritance.
func (h *handle) newGid(d *object, cred *zpl.Cred) uint32 {
	if d.mode&os.ModeSetgid != 0 {
		return d.gid
	}
	return cred.Gid
}

func (h *handle) Mkdir(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string, mode os.FileMode) (zpl.Object, error) {
	if err := h.beginWrite("Mkdir"); err != nil {
		return zpl.Object{}, err
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	d, err := h.prepareInsert(dir, name)
	if err != nil {
		return zpl.Object{}, err
	}
	if d.mode&os.ModeSetgid != 0 {
		mode |= os.ModeSetgid
	}
	o := h.t.alloc(zpl.TypeDirectory, mode, cred.Uid, h.newGid(d, cred), h.pool.clock.Now())
	o.nlink = 2
	d.nlink++
	h.insert(d, name, o)
	return o.ref(), nil
}

func (h *handle) Symlink(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string, target string) (zpl.Object, error) {
	if err := h.beginWrite("Symlink"); err != nil {
		return zpl.Object{}, err
	}
	if target == "" {
		return zpl.Object{}, zpl.EINVAL
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	d, err := h.prepareInsert(dir, name)
	if err != nil {
		return zpl.Object{}, err
	}
	o := h.t.alloc(zpl.TypeSymlink, 0777, cred.Uid, h.newGid(d, cred), h.pool.clock.Now())
	o.target = target
	h.insert(d, name, o)
	return o.ref(), nil
}

func (h *handle) Link(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string, target zpl.ObjectID) error {
	if err := h.beginWrite("Link"); err != nil {
		return err
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	d, err := h.prepareInsert(dir, name)
	if err != nil {
		return err
	}
	o, err := h.t.get(target)
	if err != nil {
		return err
	}
	if o.typ == zpl.TypeDirectory {
		return zpl.EPERM
	}
	d.children[name] = o.id
	o.nlink++
	now := h.pool.clock.Now()
	o.ctime = now
	d.mtime = now
	d.ctime = now
	return nil
}

// unlinkLocked drops one link to o from d, releasing o's slot when the last
// link goes away.
//
// LOCKS_REQUIRED(h.t.mu)
func (h *handle) unlinkLocked(d *object, name string, o *object) {
	delete(d.children, name)
	now := h.pool.clock.Now()
	d.mtime = now
	d.ctime = now

	if o.typ == zpl.TypeDirectory {
		d.nlink--
		h.t.release(o)
		return
	}

	o.nlink--
	o.ctime = now
	if o.nlink == 0 {
		h.t.release(o)
		return
	}
	if o.parent == d.id {
		// Point at any remaining directory that still links o.
		o.parent = h.t.findLinkingDir(o.id)
	}
}

// LOCKS_REQUIRED(t.mu)
func (t *table) findLinkingDir(id zpl.ObjectID) zpl.ObjectID {
	for _, o := range t.objects {
		if o.typ != zpl.TypeDirectory {
			continue
		}
		for _, c := range o.children {
			if c == id {
				return o.id
			}
		}
	}
	return 0
}

func (h *handle) Remove(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string) error {
	if err := h.beginWrite("Remove"); err != nil {
		return err
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	d, err := h.t.dir(dir)
	if err != nil {
		return err
	}
	o, err := h.t.child(d, name)
	if err != nil {
		return err
	}
	if o.typ == zpl.TypeDirectory {
		return zpl.EISDIR
	}
	h.unlinkLocked(d, name, o)
	return nil
}

func (h *handle) Rmdir(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, name string) error {
	if err := h.beginWrite("Rmdir"); err != nil {
		return err
	}
	if name == "." {
		return zpl.EINVAL
	}
	if name == ".." {
		return zpl.ENOTEMPTY
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	d, err := h.t.dir(dir)
	if err != nil {
		return err
	}
	o, err := h.t.child(d, name)
	if err != nil {
		return err
	}
	if o.typ != zpl.TypeDirectory {
		return zpl.ENOTDIR
	}
	if len(o.children) != 0 {
		return zpl.ENOTEMPTY
	}
	h.unlinkLocked(d, name, o)
	return nil
}

func (h *handle) Rename(ctx context.Context, cred *zpl.Cred, srcDir zpl.ObjectID, srcName string, dstDir zpl.ObjectID, dstName string) error {
	if err := h.beginWrite("Rename"); err != nil {
		return err
	}
	if err := validName(srcName); err != nil {
		return err
	}
	if err := validName(dstName); err != nil {
		return err
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	sd, err := h.t.dir(srcDir)
	if err != nil {
		return err
	}
	dd, err := h.t.dir(dstDir)
	if err != nil {
		return err
	}
	o, err := h.t.child(sd, srcName)
	if err != nil {
		return err
	}

	// A directory cannot move beneath itself.
	if o.typ == zpl.TypeDirectory && h.t.isAncestor(o.id, dd.id) {
		return zpl.EINVAL
	}

	if existing, err := h.t.child(dd, dstName); err == nil {
		if existing.id == o.id {
			return nil
		}
		switch {
		case o.typ == zpl.TypeDirectory && existing.typ != zpl.TypeDirectory:
			return zpl.ENOTDIR
		case o.typ != zpl.TypeDirectory && existing.typ == zpl.TypeDirectory:
			return zpl.EISDIR
		case existing.typ == zpl.TypeDirectory && len(existing.children) != 0:
			return zpl.ENOTEMPTY
		}
		h.unlinkLocked(dd, dstName, existing)
	}

	delete(sd.children, srcName)
	dd.children[dstName] = o.id
	if o.typ == zpl.TypeDirectory && sd.id != dd.id {
		sd.nlink--
		dd.nlink++
	}
	o.parent = dd.id

	now := h.pool.clock.Now()
	o.ctime = now
	sd.mtime, sd.ctime = now, now
	dd.mtime, dd.ctime = now, now
	return nil
}

////////////////////////////////////////////////////////////////////////
// Attributes
////////////////////////////////////////////////////////////////////////

func (o *object) attributes() zpl.Attributes {
	a := zpl.Attributes{
		Type:      o.typ,
		Mode:      o.mode,
		Uid:       o.uid,
		Gid:       o.gid,
		Nlink:     o.nlink,
		Rdev:      o.rdev,
		BlockSize: blockSize,
		Atime:     o.atime,
		Mtime:     o.mtime,
		Ctime:     o.ctime,
		Crtime:    o.crtime,
		Gen:       o.gen,
	}
	switch o.typ {
	case zpl.TypeDirectory:
		// Entries plus "." and "..".
		a.Size = uint64(len(o.children) + 2)
	case zpl.TypeSymlink:
		a.Size = uint64(len(o.target))
	default:
		a.Size = uint64(len(o.data))
	}
	a.Blocks = (a.Size + 511) / 512
	return a
}

func (h *handle) GetAttributes(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID) (zpl.Attributes, error) {
	if err := h.begin("GetAttributes"); err != nil {
		return zpl.Attributes{}, err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	o, err := h.t.get(id)
	if err != nil {
		return zpl.Attributes{}, err
	}
	return o.attributes(), nil
}

func (h *handle) SetAttributes(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, attrs *zpl.Attributes, mask zpl.AttrMask) error {
	if err := h.beginWrite("SetAttributes"); err != nil {
		return err
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()

	o, err := h.t.get(id)
	if err != nil {
		return err
	}

	if mask&zpl.AttrSize != 0 {
		if o.typ == zpl.TypeDirectory {
			return zpl.EISDIR
		}
		if o.typ != zpl.TypeRegular {
			return zpl.EINVAL
		}
		if attrs.Size > maxFileSize {
			return zpl.EFBIG
		}
		n := int(attrs.Size)
		if n <= len(o.data) {
			clear(o.data[n:])
			o.data = o.data[:n]
		} else {
			o.data = grow(o.data, n)
		}
		o.mtime = h.pool.clock.Now()
	}
	if mask&zpl.AttrMode != 0 {
		o.mode = attrs.Mode.Perm() | (attrs.Mode & (os.ModeSetuid | os.ModeSetgid | os.ModeSticky))
	}
	if mask&zpl.AttrUid != 0 {
		o.uid = attrs.Uid
	}
	if mask&zpl.AttrGid != 0 {
		o.gid = attrs.Gid
	}
	if mask&zpl.AttrAtime != 0 {
		o.atime = attrs.Atime
	}
	if mask&zpl.AttrMtime != 0 {
		o.mtime = attrs.Mtime
	}
	if mask&zpl.AttrCtime != 0 {
		o.ctime = attrs.Ctime
	} else {
		o.ctime = h.pool.clock.Now()
	}
	return nil
}

func (h *handle) Readlink(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID) (string, error) {
	if err := h.begin("Readlink"); err != nil {
		return "", err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	o, err := h.t.get(id)
	if err != nil {
		return "", err
	}
	if o.typ != zpl.TypeSymlink {
		return "", zpl.EINVAL
	}
	return o.target, nil
}

////////////////////////////////////////////////////////////////////////
// Enumeration
////////////////////////////////////////////////////////////////////////

// ReadDir lists entries in name order. The cursor is the index of the next
// name plus one.
func (h *handle) ReadDir(ctx context.Context, cred *zpl.Cred, dir zpl.ObjectID, cursor zpl.Cursor) (zpl.Listing, error) {
	if err := h.begin("ReadDir"); err != nil {
		return zpl.Listing{}, err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	d, err := h.t.dir(dir)
	if err != nil {
		return zpl.Listing{}, err
	}

	names := d.sortedNames()
	start := 0
	if cursor > 0 {
		start = int(cursor - 1)
	}
	if start >= len(names) {
		return zpl.Listing{}, nil
	}

	end := min(start+readDirBatch, len(names))
	var l zpl.Listing
	for _, name := range names[start:end] {
		e := zpl.DirEntry{Name: name, ID: d.children[name], Type: zpl.TypeRegular}
		if o, ok := h.t.objects[e.ID]; ok {
			e.Gen = o.gen
			e.Type = o.typ
		}
		l.Entries = append(l.Entries, e)
	}
	if end < len(names) {
		l.Next = zpl.Cursor(end + 1)
	}
	return l, nil
}

// NextSnapshot iterates the dataset's catalogue in creation order.
func (h *handle) NextSnapshot(ctx context.Context, cursor *zpl.Cursor) (zpl.Snapshot, error) {
	if err := h.begin("NextSnapshot"); err != nil {
		return zpl.Snapshot{}, err
	}
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	i := int(*cursor)
	if i >= len(h.ds.snapshots) {
		return zpl.Snapshot{}, zpl.ENOENT
	}
	s := h.ds.snapshots[i]
	*cursor++
	return zpl.Snapshot{Name: s.name, ID: s.id}, nil
}

func (h *handle) SnapshotID(ctx context.Context, name string) (zpl.SnapshotID, error) {
	if err := h.begin("SnapshotID"); err != nil {
		return 0, err
	}
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	for _, s := range h.ds.snapshots {
		if s.name == name {
			return s.id, nil
		}
	}
	return 0, zpl.ENOENT
}

////////////////////////////////////////////////////////////////////////
// Misc
////////////////////////////////////////////////////////////////////////

// Fsync has nothing to flush; writes are applied to the table immediately.
func (h *handle) Fsync(ctx context.Context, cred *zpl.Cred, id zpl.ObjectID, dataOnly bool) error {
	if err := h.begin("Fsync"); err != nil {
		return err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	_, err := h.t.get(id)
	return err
}

// EncodeNativeHandle writes the object id (8 bytes LE) and generation
// (4 bytes LE).
func (h *handle) EncodeNativeHandle(ctx context.Context, id zpl.ObjectID, dst []byte) (int, error) {
	if err := h.begin("EncodeNativeHandle"); err != nil {
		return 0, err
	}
	if len(dst) < nativeHandleSize {
		return 0, zpl.ENOSPC
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	o, err := h.t.get(id)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint64(dst[0:8], uint64(o.id))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(o.gen))
	return nativeHandleSize, nil
}

func (h *handle) NativeHandleSize() int {
	return nativeHandleSize
}

func (h *handle) StatFS(ctx context.Context) (zpl.FSStats, error) {
	if err := h.begin("StatFS"); err != nil {
		return zpl.FSStats{}, err
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()

	var used uint64
	for _, o := range h.t.objects {
		used += (uint64(len(o.data)) + blockSize - 1) / blockSize
	}
	files := uint64(len(h.t.objects))

	st := zpl.FSStats{
		BlockSize: blockSize,
		Blocks:    totalBlocks,
		Files:     totalFiles,
		NameMax:   zpl.MaxNameLen - 1,
	}
	if used < totalBlocks {
		st.BlocksFree = totalBlocks - used
	}
	st.BlocksAvail = st.BlocksFree
	if files < totalFiles {
		st.FilesFree = totalFiles - files
	}
	return st, nil
}

func (h *handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.pool.mu.Lock()
	h.pool.closes[h.name]++
	h.pool.mu.Unlock()
	return nil
}
