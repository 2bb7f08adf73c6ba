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
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/internal/ctldir"
	"github.com/lzfs/lzfs/internal/exportfs"
	"github.com/lzfs/lzfs/internal/storage/inmem"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

const pageSize = 4096

type snapMount struct {
	name string
	root uint64
}

func (m *snapMount) Name() string                      { return m.name }
func (m *snapMount) Root() uint64                      { return m.root }
func (m *snapMount) Unmount(ctx context.Context) error { return nil }

type countingMounter struct {
	mu    sync.Mutex
	names []string
}

func (c *countingMounter) Mount(ctx context.Context, name string) (ctldir.Mount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	return &snapMount{name: name, root: 7000 + uint64(len(c.names))}, nil
}

type InodeTest struct {
	suite.Suite

	ctx   context.Context
	clock timeutil.SimulatedClock
	pool  *inmem.Pool
	ds    zpl.Dataset
	root  zpl.Object
	cred  *zpl.Cred

	mounter *countingMounter
	ctl     *ctldir.Dir
	dir     DirInode
}

func TestInodeSuite(t *testing.T) {
	suite.Run(t, new(InodeTest))
}

func (t *InodeTest) SetupTest() {
	t.ctx = context.Background()
	t.clock.SetTime(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	t.pool = inmem.NewPool("tank", &t.clock)
	t.cred = &zpl.Cred{Uid: 1000, Gid: 1000, Pid: 1}
	require.NoError(t.T(), t.pool.CreateDataset("tank/fs"))

	var err error
	t.ds, err = t.pool.Open(t.ctx, "tank/fs", false)
	require.NoError(t.T(), err)
	t.root, err = t.ds.Root(t.ctx)
	require.NoError(t.T(), err)

	t.mounter = &countingMounter{}
	t.ctl, err = ctldir.New(t.ds, t.mounter, ctldir.Options{
		ParentIno: uint64(fuseops.RootInodeID),
		Clock:     &t.clock,
	})
	require.NoError(t.T(), err)

	t.dir = NewDirInode(fuseops.RootInodeID, t.ds, t.root, nil, t.ctl, nil)
	t.dir.Lock()
	t.dir.IncrementLookupCount()
	t.dir.Unlock()
}

func (t *InodeTest) createFile(name string) (zpl.Object, *FileInode) {
	t.dir.Lock()
	defer t.dir.Unlock()
	o, err := t.dir.CreateChild(t.ctx, t.cred, &zpl.CreateRequest{Name: name, Type: zpl.TypeRegular, Mode: 0640})
	require.NoError(t.T(), err)
	return o, NewFileInode(fuseops.InodeID(100+o.ID), t.ds, o, &t.root, 0, pageSize, nil)
}

////////////////////////////////////////////////////////////////////////
// Attribute conversion
////////////////////////////////////////////////////////////////////////

func TestFileModeRoundTrip(t *testing.T) {
	types := []zpl.ObjectType{
		zpl.TypeRegular,
		zpl.TypeDirectory,
		zpl.TypeSymlink,
		zpl.TypeCharDevice,
		zpl.TypeBlockDevice,
		zpl.TypeFIFO,
		zpl.TypeSocket,
	}
	for _, typ := range types {
		mode := FileMode(typ, 0754|os.ModeSetgid)
		assert.Equal(t, typ, ObjectType(mode), typ.String())
		assert.Equal(t, os.FileMode(0754), mode.Perm(), typ.String())
		assert.NotZero(t, mode&os.ModeSetgid, typ.String())
	}
}

func TestDeviceNumbers(t *testing.T) {
	testCases := []struct {
		major, minor uint32
		kernel       uint32
	}{
		{major: 8, minor: 1, kernel: 0x801},
		{major: 1, minor: 3, kernel: 0x103},
		{major: 259, minor: 300, kernel: 0x11032c},
	}
	for _, tc := range testCases {
		rdev := EngineDev(tc.kernel)
		assert.Equal(t, tc.major, unix.Major(rdev))
		assert.Equal(t, tc.minor, unix.Minor(rdev))
		assert.Equal(t, tc.kernel, KernelDev(unix.Mkdev(tc.major, tc.minor)))
	}
}

func TestConvertAttributes(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &zpl.Attributes{
		Type:  zpl.TypeRegular,
		Mode:  0644,
		Uid:   1,
		Gid:   2,
		Nlink: 3,
		Size:  4,
		Rdev:  99,
		Atime: now,
		Mtime: now.Add(time.Second),
		Ctime: now.Add(2 * time.Second),
	}

	attrs := ConvertAttributes(a)
	assert.Equal(t, uint64(4), attrs.Size)
	assert.Equal(t, uint32(3), attrs.Nlink)
	assert.Equal(t, os.FileMode(0644), attrs.Mode)
	assert.Equal(t, uint32(1), attrs.Uid)
	assert.Equal(t, uint32(2), attrs.Gid)
	assert.Equal(t, now.Add(time.Second), attrs.Mtime)
	assert.Zero(t, attrs.Rdev)
}

func TestDirentType(t *testing.T) {
	assert.Equal(t, fuseutil.DT_File, DirentType(zpl.TypeRegular))
	assert.Equal(t, fuseutil.DT_Directory, DirentType(zpl.TypeDirectory))
	assert.Equal(t, fuseutil.DT_Link, DirentType(zpl.TypeSymlink))
	assert.Equal(t, fuseutil.DT_Unknown, DirentType(zpl.ObjectType(42)))
}

////////////////////////////////////////////////////////////////////////
// Lookup counts
////////////////////////////////////////////////////////////////////////

func TestLookupCount(t *testing.T) {
	var lc lookupCount
	lc.Init(17)
	lc.Inc()
	lc.Inc()

	assert.False(t, lc.Dec(1))
	assert.True(t, lc.Dec(1))
	assert.Panics(t, func() { lc.Inc() })
}

func TestLookupCountOverDecrement(t *testing.T) {
	var lc lookupCount
	lc.Init(17)
	lc.Inc()
	assert.Panics(t, func() { lc.Dec(2) })
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

func (t *InodeTest) TestLookUpChild() {
	o, _ := t.createFile("taco")

	t.dir.Lock()
	defer t.dir.Unlock()

	result, ok, err := t.dir.LookUpChild(t.ctx, t.cred, "taco")
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	assert.Equal(t.T(), o, result.Object)
	assert.Zero(t.T(), result.Inode)
}

func (t *InodeTest) TestLookUpMissingChild() {
	t.dir.Lock()
	defer t.dir.Unlock()

	_, ok, err := t.dir.LookUpChild(t.ctx, t.cred, "burrito")
	require.NoError(t.T(), err)
	assert.False(t.T(), ok)
}

func (t *InodeTest) TestLookUpPropagatesEngineErrors() {
	t.pool.FailNext("LookupByName", zpl.EIO)

	t.dir.Lock()
	defer t.dir.Unlock()

	_, ok, err := t.dir.LookUpChild(t.ctx, t.cred, "taco")
	assert.False(t.T(), ok)
	assert.ErrorIs(t.T(), err, zpl.EIO)
}

func (t *InodeTest) TestLookUpControlDir() {
	t.dir.Lock()
	defer t.dir.Unlock()

	result, ok, err := t.dir.LookUpChild(t.ctx, t.cred, ctldir.Name)
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	assert.Equal(t.T(), fuseops.InodeID(ctldir.InoRoot), result.Inode)
}

func (t *InodeTest) TestControlDirHiddenFromListing() {
	t.createFile("a")
	t.createFile("b")

	t.dir.Lock()
	defer t.dir.Unlock()

	entries, err := t.dir.ReadEntries(t.ctx, t.cred)
	require.NoError(t.T(), err)
	require.Len(t.T(), entries, 2)
	assert.Equal(t.T(), "a", entries[0].Name)
	assert.Equal(t.T(), fuseops.DirOffset(1), entries[0].Offset)
	assert.Equal(t.T(), "b", entries[1].Name)
	assert.Equal(t.T(), fuseops.DirOffset(2), entries[1].Offset)
	assert.Equal(t.T(), fuseutil.DT_File, entries[1].Type)
}

func (t *InodeTest) TestControlDirVisibleInListing() {
	ctl, err := ctldir.New(t.ds, t.mounter, ctldir.Options{Visible: true, Clock: &t.clock})
	require.NoError(t.T(), err)
	d := NewDirInode(fuseops.RootInodeID, t.ds, t.root, nil, ctl, nil)
	t.createFile("a")

	d.Lock()
	defer d.Unlock()

	entries, err := d.ReadEntries(t.ctx, t.cred)
	require.NoError(t.T(), err)
	require.Len(t.T(), entries, 2)
	assert.Equal(t.T(), ctldir.Name, entries[1].Name)
	assert.Equal(t.T(), fuseops.InodeID(ctldir.InoRoot), entries[1].Inode)
}

type namedNumbers map[string]fuseops.InodeID

func (n namedNumbers) EntryInode(ds zpl.Dataset, e zpl.DirEntry) fuseops.InodeID {
	return n[e.Name]
}

func (t *InodeTest) TestListingUsesAssignedNumbers() {
	d := NewDirInode(fuseops.RootInodeID, t.ds, t.root, nil, nil, namedNumbers{"a": 17, "b": 23})
	t.createFile("a")
	t.createFile("b")

	d.Lock()
	defer d.Unlock()

	entries, err := d.ReadEntries(t.ctx, t.cred)
	require.NoError(t.T(), err)
	require.Len(t.T(), entries, 2)
	assert.Equal(t.T(), fuseops.InodeID(17), entries[0].Inode)
	assert.Equal(t.T(), fuseops.InodeID(23), entries[1].Inode)
}

func (t *InodeTest) TestListingSpansEngineBatches() {
	const n = 300
	t.dir.Lock()
	for i := 0; i < n; i++ {
		_, err := t.dir.CreateChildDir(t.ctx, t.cred, string(rune('a'+i%26))+string(rune('a'+i/26)), 0755)
		require.NoError(t.T(), err)
	}
	entries, err := t.dir.ReadEntries(t.ctx, t.cred)
	t.dir.Unlock()

	require.NoError(t.T(), err)
	require.Len(t.T(), entries, n)
	for i, e := range entries {
		assert.Equal(t.T(), fuseops.DirOffset(i+1), e.Offset)
		assert.Equal(t.T(), fuseutil.DT_Directory, e.Type)
	}
}

func (t *InodeTest) TestControlNameIsReserved() {
	t.dir.Lock()
	defer t.dir.Unlock()

	_, err := t.dir.CreateChild(t.ctx, t.cred, &zpl.CreateRequest{Name: ctldir.Name, Type: zpl.TypeRegular})
	assert.ErrorIs(t.T(), err, zpl.EEXIST)
	_, err = t.dir.CreateChildDir(t.ctx, t.cred, ctldir.Name, 0755)
	assert.ErrorIs(t.T(), err, zpl.EEXIST)
	assert.ErrorIs(t.T(), t.dir.DeleteChildDir(t.ctx, t.cred, ctldir.Name), zpl.EROFS)
}

func (t *InodeTest) TestSubdirectoriesMayUseControlName() {
	t.dir.Lock()
	sub, err := t.dir.CreateChildDir(t.ctx, t.cred, "sub", 0755)
	t.dir.Unlock()
	require.NoError(t.T(), err)

	d := NewDirInode(50, t.ds, sub, &t.root, nil, nil)
	d.Lock()
	defer d.Unlock()

	_, err = d.CreateChildDir(t.ctx, t.cred, ctldir.Name, 0755)
	require.NoError(t.T(), err)
	result, ok, err := d.LookUpChild(t.ctx, t.cred, ctldir.Name)
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	assert.Zero(t.T(), result.Inode)
}

func (t *InodeTest) TestSymlinkAndLink() {
	f, _ := t.createFile("f")

	t.dir.Lock()
	o, err := t.dir.CreateChildSymlink(t.ctx, t.cred, "l", "f")
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.dir.CreateLink(t.ctx, t.cred, "g", f))
	t.dir.Unlock()

	s := NewSymlinkInode(60, t.ds, o, &t.root)
	s.Lock()
	defer s.Unlock()

	target, err := s.Target(t.ctx, t.cred)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "f", target)

	attrs, err := s.Attributes(t.ctx, t.cred)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), os.ModeSymlink|0777, attrs.Mode)
	assert.Equal(t.T(), uint32(1000), attrs.Uid)
}

func (t *InodeTest) TestStaleAfterSlotReuse() {
	o, f := t.createFile("f")

	t.dir.Lock()
	require.NoError(t.T(), t.dir.DeleteChild(t.ctx, t.cred, "f"))
	reused, err := t.dir.CreateChild(t.ctx, t.cred, &zpl.CreateRequest{Name: "g", Type: zpl.TypeRegular, Mode: 0600})
	t.dir.Unlock()
	require.NoError(t.T(), err)
	require.Equal(t.T(), o.ID, reused.ID)

	f.Lock()
	defer f.Unlock()
	_, err = f.Attributes(t.ctx, t.cred)
	assert.ErrorIs(t.T(), err, exportfs.ErrStale)
}

func (t *InodeTest) TestParentLink() {
	o, f := t.createFile("f")

	parent, ok := f.Parent()
	require.True(t.T(), ok)
	assert.Equal(t.T(), t.root, parent)
	assert.Equal(t.T(), o, f.Object())

	other := zpl.Object{ID: 99, Gen: 3, Type: zpl.TypeDirectory}
	f.SetParent(other)
	parent, ok = f.Parent()
	require.True(t.T(), ok)
	assert.Equal(t.T(), other, parent)

	d := t.dir.(ObjectInode)
	_, ok = d.Parent()
	assert.False(t.T(), ok)
}

////////////////////////////////////////////////////////////////////////
// Files
////////////////////////////////////////////////////////////////////////

func (t *InodeTest) TestWriteThenReadWithoutFlush() {
	_, f := t.createFile("f")
	data := make([]byte, pageSize)
	for i := range data {
		data[i] = byte(i * 7)
	}

	n, err := f.Write(t.ctx, t.cred, 0, data, false)
	require.NoError(t.T(), err)
	require.Equal(t.T(), pageSize, n)

	buf := make([]byte, pageSize)
	n, err = f.Read(t.ctx, t.cred, 0, buf)
	require.NoError(t.T(), err)
	require.Equal(t.T(), pageSize, n)
	assert.Equal(t.T(), data, buf)
}

func (t *InodeTest) TestAttributesUseCachedSize() {
	_, f := t.createFile("f")
	m := f.Map(true)

	// Fault the first page in so the store stays in the cache.
	_, err := f.Write(t.ctx, t.cred, 0, []byte("x"), false)
	require.NoError(t.T(), err)
	_, err = m.Store(t.ctx, t.cred, 0, []byte("y"))
	require.NoError(t.T(), err)

	n, err := f.Write(t.ctx, t.cred, 0, []byte("hello world"), true)
	require.NoError(t.T(), err)
	require.Equal(t.T(), 11, n)

	f.Lock()
	attrs, err := f.Attributes(t.ctx, t.cred)
	f.Unlock()
	require.NoError(t.T(), err)
	assert.Equal(t.T(), uint64(12), attrs.Size)
	assert.Equal(t.T(), os.FileMode(0640), attrs.Mode)
}

func (t *InodeTest) TestSyncFlushesPages() {
	o, f := t.createFile("f")
	_, err := f.Write(t.ctx, t.cred, 0, []byte("abc"), false)
	require.NoError(t.T(), err)

	m := f.Map(true)
	_, err = m.Store(t.ctx, t.cred, 1, []byte("Z"))
	require.NoError(t.T(), err)

	require.NoError(t.T(), f.Sync(t.ctx, t.cred, false))

	buf := make([]byte, 3)
	n, err := t.ds.Read(t.ctx, t.cred, o.ID, 0, buf)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "aZc", string(buf[:n]))
}

func (t *InodeTest) TestSyncReportsEngineFailure() {
	_, f := t.createFile("f")
	t.pool.FailNext("Fsync", zpl.EIO)
	assert.ErrorIs(t.T(), f.Sync(t.ctx, t.cred, true), zpl.EIO)
}

func (t *InodeTest) TestTruncate() {
	o, f := t.createFile("f")
	_, err := f.Write(t.ctx, t.cred, 0, []byte("0123456789"), false)
	require.NoError(t.T(), err)

	f.Lock()
	err = f.SetAttributes(t.ctx, t.cred, &zpl.Attributes{Size: 4, Mode: 0600}, zpl.AttrSize|zpl.AttrMode)
	f.Unlock()
	require.NoError(t.T(), err)

	assert.Equal(t.T(), int64(4), f.Size())
	a, err := t.ds.GetAttributes(t.ctx, t.cred, o.ID)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), uint64(4), a.Size)
	assert.Equal(t.T(), os.FileMode(0600), a.Mode)
}

func (t *InodeTest) TestDestroyWritesBack() {
	o, f := t.createFile("f")
	_, err := f.Write(t.ctx, t.cred, 0, []byte("abc"), false)
	require.NoError(t.T(), err)
	_, err = f.Map(true).Store(t.ctx, t.cred, 0, []byte("X"))
	require.NoError(t.T(), err)

	f.Lock()
	f.IncrementLookupCount()
	require.True(t.T(), f.DecrementLookupCount(1))
	require.NoError(t.T(), f.Destroy())
	f.Unlock()

	buf := make([]byte, 3)
	_, err = t.ds.Read(t.ctx, t.cred, o.ID, 0, buf)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "Xbc", string(buf))
}

////////////////////////////////////////////////////////////////////////
// Pseudo directories
////////////////////////////////////////////////////////////////////////

func (t *InodeTest) TestPseudoRoot() {
	p := NewPseudoDirInode(ctldir.InoRoot, t.ctl)
	assert.Equal(t.T(), fuseops.InodeID(ctldir.InoRoot), p.ID())

	p.Lock()
	defer p.Unlock()

	attrs, err := p.Attributes(t.ctx, t.cred)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), os.ModeDir|0555, attrs.Mode)

	result, ok, err := p.LookUpChild(t.ctx, t.cred, ctldir.SnapdirName)
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	assert.Equal(t.T(), fuseops.InodeID(ctldir.InoSnapdir), result.Inode)

	entries, err := p.ReadEntries(t.ctx, t.cred)
	require.NoError(t.T(), err)
	require.Len(t.T(), entries, 3)
	assert.Equal(t.T(), ctldir.SnapdirName, entries[2].Name)
}

func (t *InodeTest) TestPseudoSnapdirTraverses() {
	_, err := t.pool.Snapshot(t.ctx, "tank/fs", "s1")
	require.NoError(t.T(), err)
	p := NewPseudoDirInode(ctldir.InoSnapdir, t.ctl)

	p.Lock()
	defer p.Unlock()

	result, ok, err := p.LookUpChild(t.ctx, t.cred, "s1")
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	assert.Equal(t.T(), fuseops.InodeID(7001), result.Inode)

	result, ok, err = p.LookUpChild(t.ctx, t.cred, "s1")
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	assert.Equal(t.T(), fuseops.InodeID(7001), result.Inode)
	assert.Equal(t.T(), []string{"tank/fs@s1"}, t.mounter.names)

	_, ok, err = p.LookUpChild(t.ctx, t.cred, "s2")
	require.NoError(t.T(), err)
	assert.False(t.T(), ok)
}

func (t *InodeTest) TestPseudoDirsAreReadOnly() {
	p := NewPseudoDirInode(ctldir.InoSnapdir, t.ctl)
	p.Lock()
	defer p.Unlock()

	_, err := p.CreateChildDir(t.ctx, t.cred, "new", 0755)
	assert.ErrorIs(t.T(), err, zpl.EROFS)
	_, err = p.CreateChild(t.ctx, t.cred, &zpl.CreateRequest{Name: "f"})
	assert.ErrorIs(t.T(), err, zpl.EROFS)
	_, err = p.CreateChildSymlink(t.ctx, t.cred, "l", "t")
	assert.ErrorIs(t.T(), err, zpl.EROFS)
	assert.ErrorIs(t.T(), p.CreateLink(t.ctx, t.cred, "l", t.root), zpl.EROFS)
	assert.ErrorIs(t.T(), p.DeleteChild(t.ctx, t.cred, "f"), zpl.EROFS)
	assert.ErrorIs(t.T(), p.DeleteChildDir(t.ctx, t.cred, "d"), zpl.EROFS)
}

func (t *InodeTest) TestPseudoLookupCountsNeverDestroy() {
	p := NewPseudoDirInode(ctldir.InoRoot, t.ctl)
	p.Lock()
	defer p.Unlock()

	p.IncrementLookupCount()
	assert.False(t.T(), p.DecrementLookupCount(1))
	assert.False(t.T(), p.DecrementLookupCount(5))
}

func (t *InodeTest) TestPseudoAfterTeardown() {
	require.NoError(t.T(), t.ctl.Teardown(t.ctx))
	p := NewPseudoDirInode(ctldir.InoRoot, t.ctl)

	p.Lock()
	defer p.Unlock()

	_, err := p.ReadEntries(t.ctx, t.cred)
	assert.ErrorIs(t.T(), err, ctldir.ErrClosed)
	_, _, err = p.LookUpChild(t.ctx, t.cred, ctldir.SnapdirName)
	assert.ErrorIs(t.T(), err, ctldir.ErrClosed)
}
