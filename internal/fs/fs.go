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

// Package fs serves the datasets of a storage engine over FUSE. A mounted
// dataset, and every snapshot of it reached through the control directory,
// share one inode space.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/cfg"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/ctldir"
	"github.com/lzfs/lzfs/internal/exportfs"
	"github.com/lzfs/lzfs/internal/fs/handle"
	"github.com/lzfs/lzfs/internal/fs/inode"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/pagecache"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"github.com/lzfs/lzfs/internal/util"
)

// DefaultPageSize is the page-cache page size used when none is configured.
const DefaultPageSize = 4096

type ServerConfig struct {
	// The engine serving the mounted dataset and its snapshots.
	Engine zpl.Engine

	// The dataset to mount, "pool/fs" or "pool/fs@snap".
	DatasetName string

	// Open the dataset read-only. Snapshots are always read-only.
	ReadOnly bool

	// A clock used for cache expiration. It is *not* used for inode times,
	// which come from the engine.
	CacheClock timeutil.Clock

	// How long to allow the kernel to cache inode attributes and directory
	// entries. Zero disables caching.
	AttrCacheTTL time.Duration

	// Size of a page-cache page. Must be a power of two; zero means
	// DefaultPageSize.
	PageSize int64

	// The owner of the control directory. Gid is also the group acting for
	// every request, since the kernel reports only the caller's uid and pid.
	Uid uint32
	Gid uint32

	// Whether the dataset root lists the control directory.
	SnapdirVisible bool

	// Bound on snapshot mounts in progress at once. Zero means the control
	// directory's default.
	MaxConcurrentSnapshotMounts int64

	MetricHandle common.MetricHandle

	// The full mount configuration, consulted by NewServer for the debug and
	// tracing wrappers. May be nil.
	NewConfig *cfg.Config
}

// FileSystem is the FUSE file system plus the operations the kernel protocol
// does not carry: handle export and memory mapping.
type FileSystem interface {
	fuseutil.FileSystem

	// EncodeHandle writes a handle for inode id into dst. Connectable handles
	// of non-directories also identify the parent directory.
	EncodeHandle(ctx context.Context, id fuseops.InodeID, connectable bool, dst []byte) (n int, kind exportfs.Kind, err error)

	// DecodeHandle returns the inode for a handle of the mounted dataset,
	// with its lookup count incremented. The caller must forget it.
	DecodeHandle(ctx context.Context, h []byte, kind exportfs.Kind) (fuseops.InodeID, error)

	// GetParent returns the directory containing directory id, with its lookup
	// count incremented.
	GetParent(ctx context.Context, id fuseops.InodeID) (fuseops.InodeID, error)

	// MapFile returns a memory mapping over the pages of an open file.
	MapFile(ctx context.Context, h fuseops.HandleID, writable bool) (*pagecache.Mapping, error)

	// Teardown unmounts every snapshot and closes the mounted dataset.
	Teardown(ctx context.Context) error
}

// NewFileSystem opens the configured dataset and returns a file system
// serving it.
func NewFileSystem(ctx context.Context, serverCfg *ServerConfig) (FileSystem, error) {
	if serverCfg.Engine == nil {
		return nil, errors.New("no engine")
	}
	if serverCfg.DatasetName == "" {
		return nil, errors.New("no dataset name")
	}

	pageSize := serverCfg.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("illegal page size: %d", pageSize)
	}

	cacheClock := serverCfg.CacheClock
	if cacheClock == nil {
		cacheClock = timeutil.RealClock()
	}
	metricHandle := serverCfg.MetricHandle
	if metricHandle == nil {
		metricHandle = common.NewNoopMetrics()
	}

	ds, err := serverCfg.Engine.Open(ctx, serverCfg.DatasetName, serverCfg.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", serverCfg.DatasetName, err)
	}
	rootObj, err := ds.Root(ctx)
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("root of %q: %w", serverCfg.DatasetName, err)
	}

	fs := &fileSystem{
		engine:              serverCfg.Engine,
		cacheClock:          cacheClock,
		metricHandle:        metricHandle,
		attrCacheTTL:        serverCfg.AttrCacheTTL,
		pageSize:            pageSize,
		uid:                 serverCfg.Uid,
		gid:                 serverCfg.Gid,
		snapdirVisible:      serverCfg.SnapdirVisible,
		maxConcurrentMounts: serverCfg.MaxConcurrentSnapshotMounts,
		nextInodeID:         fuseops.RootInodeID + 1,
		inodes:              make(map[fuseops.InodeID]inode.Inode),
		objectInodes:        make(map[objectKey]inode.ObjectInode),
		reserved:            make(map[objectKey]reservedNumber),
		sessions:            make(map[string]*session),
		handles:             make(map[fuseops.HandleID]interface{}),
	}
	fs.credPool.New = func() any { return new(zpl.Cred) }

	// Snapshots mounted directly get no control directory.
	var ctl *ctldir.Dir
	if !ds.IsSnapshot() {
		ctl, err = ctldir.New(ds, fs, ctldir.Options{
			ParentIno:           uint64(fuseops.RootInodeID),
			Uid:                 fs.uid,
			Gid:                 fs.gid,
			Visible:             fs.snapdirVisible,
			MaxConcurrentMounts: fs.maxConcurrentMounts,
			Clock:               fs.cacheClock,
			Metrics:             fs.metricHandle,
		})
		if err != nil {
			ds.Close()
			return nil, fmt.Errorf("control directory: %w", err)
		}
	}

	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	fs.mu.Lock()
	fs.primary = fs.addSession(ds, fuseops.RootInodeID, rootObj, ctl)
	fs.mu.Unlock()

	return fs, nil
}

////////////////////////////////////////////////////////////////////////
// fileSystem type
////////////////////////////////////////////////////////////////////////

// LOCK ORDERING
//
// Let FS be the file system lock. Define a strict partial order < as follows:
//
//  1. For any inode lock I, I < FS.
//  2. For any handle lock H and inode lock I, H < I.
//
// We follow the rule "acquire A then B only if A < B".
//
// In other words:
//
//  *  Don't hold multiple handle locks at the same time.
//  *  Don't hold multiple inode locks at the same time.
//  *  Don't acquire inode locks before handle locks.
//  *  Don't acquire file system locks before either.
//
// The only exception is a freshly minted inode, which is locked under FS
// before it is published and so cannot be contended.
//
// Mounting a snapshot acquires FS while the snapshot list's inode lock is
// held, which rule 1 permits.

// objectKey names an engine object of one open dataset.
type objectKey struct {
	ds zpl.Dataset
	id zpl.ObjectID
}

type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	/////////////////////////
	// Dependencies
	/////////////////////////

	engine       zpl.Engine
	cacheClock   timeutil.Clock
	metricHandle common.MetricHandle

	/////////////////////////
	// Constant data
	/////////////////////////

	attrCacheTTL        time.Duration
	pageSize            int64
	uid                 uint32
	gid                 uint32
	snapdirVisible      bool
	maxConcurrentMounts int64

	// Credentials handed to the engine, one per in-flight operation.
	credPool sync.Pool

	// The session of the mounted dataset. Set once before the file system
	// is shared.
	primary *session

	/////////////////////////
	// Mutable state
	/////////////////////////

	// A lock protecting the state of the file system struct itself (distinct
	// from per-inode locks). Make sure to see the notes on lock ordering above.
	mu syncutil.InvariantMutex

	// The next inode ID to hand out to an engine object.
	//
	// INVARIANT: nextInodeID <= ctldir.FirstReservedIno
	//
	// GUARDED_BY(mu)
	nextInodeID fuseops.InodeID

	// The collection of live inodes, keyed by inode ID. Engine objects get IDs
	// counting up from fuseops.RootInodeID; the control tree uses the reserved
	// numbers ctldir assigns.
	//
	// INVARIANT: For all keys k, fuseops.RootInodeID <= k < nextInodeID or
	//            ctldir.IsReserved(k)
	// INVARIANT: For all keys k, inodes[k].ID() == k
	// INVARIANT: inodes[fuseops.RootInodeID] is missing or of type inode.DirInode
	//
	// GUARDED_BY(mu)
	inodes map[fuseops.InodeID]inode.Inode

	// The inode for each engine object the kernel knows about. An entry is
	// replaced when the engine reuses the object's slot for a new generation,
	// and removed when its inode is destroyed.
	//
	// INVARIANT: For all k, v: inodes[v.ID()] == v
	// INVARIANT: For all k, v: v.Object().ID == k.id and v.Dataset() == k.ds
	//
	// GUARDED_BY(mu)
	objectInodes map[objectKey]inode.ObjectInode

	// Inode numbers handed out for objects that currently have no inode of the
	// listed generation: reported by a directory listing before any lookup, or
	// kept after the kernel forgot the inode. The next inode minted for that
	// generation takes the number.
	//
	// INVARIANT: For all v, fuseops.RootInodeID < v.id < nextInodeID
	// INVARIANT: For all v, inodes[v.id] is missing
	//
	// GUARDED_BY(mu)
	reserved map[objectKey]reservedNumber

	// The mounted dataset and its mounted snapshots, by dataset name.
	//
	// INVARIANT: For all k, v: v.ds.Name() == k
	//
	// GUARDED_BY(mu)
	sessions map[string]*session

	// The collection of live handles, keyed by handle ID.
	//
	// INVARIANT: All values are of type *handle.DirHandle or *handle.FileHandle
	//
	// GUARDED_BY(mu)
	handles map[fuseops.HandleID]interface{}

	// The next handle ID to hand out. We assume that this will never overflow.
	//
	// INVARIANT: For all keys k in handles, k < nextHandleID
	//
	// GUARDED_BY(mu)
	nextHandleID fuseops.HandleID

	// Set by Teardown.
	//
	// GUARDED_BY(mu)
	tornDown bool
}

var _ FileSystem = &fileSystem{}
var _ ctldir.Mounter = &fileSystem{}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (fs *fileSystem) checkInvariants() {
	//////////////////////////////////
	// inodes
	//////////////////////////////////

	// INVARIANT: nextInodeID <= ctldir.FirstReservedIno
	if uint64(fs.nextInodeID) > ctldir.FirstReservedIno {
		panic(fmt.Sprintf("Inode IDs exhausted: %v", fs.nextInodeID))
	}

	// INVARIANT: For all keys k, fuseops.RootInodeID <= k < nextInodeID or
	//            ctldir.IsReserved(k)
	for id := range fs.inodes {
		if ctldir.IsReserved(uint64(id)) {
			continue
		}
		if id < fuseops.RootInodeID || id >= fs.nextInodeID {
			panic(fmt.Sprintf("Illegal inode ID: %v", id))
		}
	}

	// INVARIANT: For all keys k, inodes[k].ID() == k
	for id, in := range fs.inodes {
		if in.ID() != id {
			panic(fmt.Sprintf("ID mismatch: %v vs. %v", in.ID(), id))
		}
	}

	// INVARIANT: inodes[fuseops.RootInodeID] is missing or of type inode.DirInode
	switch in := fs.inodes[fuseops.RootInodeID].(type) {
	case nil:
	case inode.DirInode:
	default:
		panic(fmt.Sprintf("Unexpected type for root: %v", reflect.TypeOf(in)))
	}

	//////////////////////////////////
	// objectInodes
	//////////////////////////////////

	for k, in := range fs.objectInodes {
		// INVARIANT: For all k, v: inodes[v.ID()] == v
		if fs.inodes[in.ID()] != in {
			panic(fmt.Sprintf("Object inode %v is not live", in.ID()))
		}

		// INVARIANT: For all k, v: v.Object().ID == k.id and v.Dataset() == k.ds
		if in.Object().ID != k.id || in.Dataset() != k.ds {
			panic(fmt.Sprintf(
				"Object inode %v indexed as %s/%d",
				in.ID(),
				k.ds.Name(),
				k.id))
		}
	}

	//////////////////////////////////
	// reserved
	//////////////////////////////////

	for k, r := range fs.reserved {
		// INVARIANT: For all v, fuseops.RootInodeID < v.id < nextInodeID
		if r.id <= fuseops.RootInodeID || r.id >= fs.nextInodeID {
			panic(fmt.Sprintf("Illegal reserved inode ID %v for %s/%d", r.id, k.ds.Name(), k.id))
		}

		// INVARIANT: For all v, inodes[v.id] is missing
		if _, ok := fs.inodes[r.id]; ok {
			panic(fmt.Sprintf("Reserved inode ID %v is live", r.id))
		}
	}

	//////////////////////////////////
	// sessions
	//////////////////////////////////

	// INVARIANT: For all k, v: v.ds.Name() == k
	for name, s := range fs.sessions {
		if s.ds.Name() != name {
			panic(fmt.Sprintf("Session %q indexed as %q", s.ds.Name(), name))
		}
	}

	//////////////////////////////////
	// handles
	//////////////////////////////////

	// INVARIANT: All values are of type *handle.DirHandle or *handle.FileHandle
	for _, h := range fs.handles {
		switch h.(type) {
		case *handle.DirHandle:
		case *handle.FileHandle:
		default:
			panic(fmt.Sprintf("Unexpected handle type: %T", h))
		}
	}

	// INVARIANT: For all keys k in handles, k < nextHandleID
	for k := range fs.handles {
		if k >= fs.nextHandleID {
			panic(fmt.Sprintf("Illegal handle ID: %v", k))
		}
	}
}

// acquireCred returns the engine credential for the caller of an operation.
// The kernel does not report the caller's group, so the mount's group acts
// for everyone.
func (fs *fileSystem) acquireCred(opCtx fuseops.OpContext) *zpl.Cred {
	cred := fs.credPool.Get().(*zpl.Cred)
	*cred = zpl.Cred{Uid: opCtx.Uid, Gid: fs.gid, Pid: opCtx.Pid}
	return cred
}

func (fs *fileSystem) releaseCred(cred *zpl.Cred) {
	*cred = zpl.Cred{}
	fs.credPool.Put(cred)
}

// checkName rejects component names the engine cannot store.
func checkName(name string) error {
	if len(name) >= zpl.MaxNameLen {
		return syscall.ENAMETOOLONG
	}
	return nil
}

// isControlEntry reports whether name in directory parent is the control
// directory of the mounted dataset.
func (fs *fileSystem) isControlEntry(parent fuseops.InodeID, name string) bool {
	return parent == fuseops.RootInodeID && fs.primary.ctl != nil && name == ctldir.Name
}

// mintObjectInode creates a new inode for obj of dataset ds and registers it
// in fs.inodes. The caller indexes it.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) mintObjectInode(
	ds zpl.Dataset,
	obj zpl.Object,
	parent *zpl.Object,
	size int64) (in inode.ObjectInode) {
	id := fs.takeInodeNumber(objectKey{ds: ds, id: obj.ID}, obj.Gen)

	switch obj.Type {
	case zpl.TypeDirectory:
		in = inode.NewDirInode(id, ds, obj, parent, nil, fs).(inode.ObjectInode)
	case zpl.TypeSymlink:
		in = inode.NewSymlinkInode(id, ds, obj, parent)
	default:
		in = inode.NewFileInode(id, ds, obj, parent, size, fs.pageSize, fs.metricHandle)
	}

	fs.inodes[id] = in
	return
}

// reservedNumber is an inode number set aside for one generation of an
// engine slot.
type reservedNumber struct {
	gen zpl.Generation
	id  fuseops.InodeID
}

// sameGeneration treats zero as an unknown generation that matches any.
func sameGeneration(a, b zpl.Generation) bool {
	return a == 0 || b == 0 || a == b
}

// takeInodeNumber returns the number reserved for generation gen of key, or a
// fresh one.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) takeInodeNumber(key objectKey, gen zpl.Generation) (id fuseops.InodeID) {
	if r, ok := fs.reserved[key]; ok {
		delete(fs.reserved, key)
		if sameGeneration(r.gen, gen) {
			return r.id
		}
	}

	id = fs.nextInodeID
	fs.nextInodeID++
	return
}

// EntryInode reports the inode number of a listed entry: the ID of the live
// inode for the entry's generation if there is one, and otherwise a number
// reserved for that generation.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) EntryInode(ds zpl.Dataset, e zpl.DirEntry) fuseops.InodeID {
	key := objectKey{ds: ds, id: e.ID}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if in, ok := fs.objectInodes[key]; ok && sameGeneration(in.Object().Gen, e.Gen) {
		return in.ID()
	}
	if r, ok := fs.reserved[key]; ok && sameGeneration(r.gen, e.Gen) {
		return r.id
	}

	id := fs.nextInodeID
	fs.nextInodeID++
	fs.reserved[key] = reservedNumber{gen: e.Gen, id: id}
	return id
}

// lookUpOrCreateObjectInode returns the inode for obj, minting one if the
// kernel does not know the object yet or knows only an older generation of
// its slot. It returns nil if an inode for a newer generation already exists,
// in which case obj is stale.
//
// The returned inode is locked and its lookup count has been incremented.
// size is the engine size of obj, used only when minting a file inode.
//
// LOCKS_REQUIRED(fs.mu)
// UNLOCK_FUNCTION(fs.mu)
// LOCK_FUNCTION(in)
func (fs *fileSystem) lookUpOrCreateObjectInode(
	ds zpl.Dataset,
	obj zpl.Object,
	parent *zpl.Object,
	size int64) (in inode.ObjectInode) {
	// Ensure that no matter which inode we return, we increase its lookup count
	// on the way out and then release the file system lock.
	defer func() {
		if in != nil {
			in.IncrementLookupCount()
		}

		fs.mu.Unlock()
	}()

	key := objectKey{ds: ds, id: obj.ID}

	// Retry loop for the case where the index entry changes while we wait for
	// its lock. On entry, we hold fs.mu but no inode lock.
	for {
		existing, ok := fs.objectInodes[key]
		if !ok {
			in = fs.mintObjectInode(ds, obj, parent, size)
			fs.objectInodes[key] = in

			in.Lock()
			return
		}

		// We must not hold the inode lock while acquiring the file system lock,
		// so drop it while acquiring the inode's lock, then reacquire.
		fs.mu.Unlock()
		existing.Lock()
		fs.mu.Lock()

		// The inode may have been destroyed or replaced meanwhile.
		if fs.objectInodes[key] != existing {
			existing.Unlock()
			continue
		}

		gen := existing.Object().Gen
		switch {
		case gen == obj.Gen:
			in = existing
			return

		case gen > obj.Gen:
			existing.Unlock()
			return
		}

		// The slot now holds a different object. The old inode stays live until
		// the kernel forgets it, but no longer answers for the slot.
		existing.Unlock()

		in = fs.mintObjectInode(ds, obj, parent, size)
		fs.objectInodes[key] = in

		in.Lock()
		return
	}
}

// objectInode returns the inode for obj of dataset ds, locked and with its
// lookup count incremented. parent, if known, is the directory obj was found
// in.
//
// LOCKS_EXCLUDED(fs.mu)
// LOCK_FUNCTION(in)
func (fs *fileSystem) objectInode(
	ctx context.Context,
	cred *zpl.Cred,
	ds zpl.Dataset,
	obj zpl.Object,
	parent *zpl.Object) (in inode.ObjectInode, err error) {
	var size int64
	if obj.Type == zpl.TypeRegular {
		var a zpl.Attributes
		a, err = ds.GetAttributes(ctx, cred, obj.ID)
		if err != nil {
			err = fmt.Errorf("GetAttributes: %w", err)
			return
		}
		size = int64(a.Size)
	}

	fs.mu.Lock()
	in = fs.lookUpOrCreateObjectInode(ds, obj, parent, size)
	if in == nil {
		err = fmt.Errorf("object %d generation %d: %w", obj.ID, obj.Gen, exportfs.ErrStale)
	}
	return
}

// objectEntry fills e with the inode for obj, a child of directory parent.
//
// LOCKS_EXCLUDED(fs.mu)
// LOCKS_EXCLUDED(parent)
func (fs *fileSystem) objectEntry(
	ctx context.Context,
	cred *zpl.Cred,
	parent inode.ObjectInode,
	obj zpl.Object,
	e *fuseops.ChildInodeEntry) (err error) {
	p := parent.Object()
	in, err := fs.objectInode(ctx, cred, parent.Dataset(), obj, &p)
	if err != nil {
		return
	}
	defer fs.unlockAndMaybeDisposeOfInode(in, &err)

	e.Child = in.ID()
	e.Attributes, e.AttributesExpiration, err = fs.getAttributes(ctx, cred, in)
	e.EntryExpiration = e.AttributesExpiration
	return
}

// existingEntry fills e with inode id, which must already be live: a pseudo
// directory, or the root of a mounted snapshot.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) existingEntry(
	ctx context.Context,
	cred *zpl.Cred,
	id fuseops.InodeID,
	e *fuseops.ChildInodeEntry) (err error) {
	in, err := fs.lockLiveInode(id)
	if err != nil {
		return
	}
	defer fs.unlockAndMaybeDisposeOfInode(in, &err)

	e.Child = in.ID()
	e.Attributes, e.AttributesExpiration, err = fs.getAttributes(ctx, cred, in)
	e.EntryExpiration = e.AttributesExpiration
	return
}

// lockLiveInode locks inode id and increments its lookup count. It fails with
// exportfs.ErrStale if the inode is gone.
//
// LOCKS_EXCLUDED(fs.mu)
// LOCK_FUNCTION(in)
func (fs *fileSystem) lockLiveInode(id fuseops.InodeID) (in inode.Inode, err error) {
	fs.mu.Lock()
	in, ok := fs.inodes[id]
	fs.mu.Unlock()
	if !ok {
		err = exportfs.ErrStale
		return
	}

	in.Lock()
	fs.mu.Lock()
	if fs.inodes[id] != in {
		fs.mu.Unlock()
		in.Unlock()
		in = nil
		err = exportfs.ErrStale
		return
	}
	in.IncrementLookupCount()
	fs.mu.Unlock()
	return
}

// Decrement the supplied inode's lookup count, destroying it if the inode says
// that it has hit zero.
//
// We require the file system lock to exclude concurrent lookups, which might
// otherwise find an inode whose lookup count has gone to zero.
//
// UNLOCK_FUNCTION(fs.mu)
// UNLOCK_FUNCTION(in)
func (fs *fileSystem) unlockAndDecrementLookupCount(in inode.Inode, n uint64) {
	shouldDestroy := in.DecrementLookupCount(n)

	// Update file system state, orphaning the inode if we're going to destroy it
	// below.
	if shouldDestroy {
		delete(fs.inodes, in.ID())

		if oi, ok := in.(inode.ObjectInode); ok {
			key := objectKey{ds: oi.Dataset(), id: oi.Object().ID}
			if fs.objectInodes[key] == oi {
				delete(fs.objectInodes, key)

				// Keep the number in case the object is listed or looked up again.
				if _, ok := fs.reserved[key]; !ok && oi.ID() != fuseops.RootInodeID {
					fs.reserved[key] = reservedNumber{gen: oi.Object().Gen, id: oi.ID()}
				}
			}
		}
	}

	// We are done with the file system.
	fs.mu.Unlock()

	// Now we can destroy the inode if necessary.
	if shouldDestroy {
		if err := in.Destroy(); err != nil {
			logger.Warnf("Error destroying inode %v: %v", in.ID(), err)
		}
	}

	in.Unlock()
}

// A helper function for use after incrementing an inode's lookup count.
// Ensures that the lookup count is decremented again if the caller is going to
// return in error (in which case the kernel and the file system would
// otherwise disagree about the lookup count for the inode's ID), so that the
// inode isn't leaked.
//
// LOCKS_EXCLUDED(fs.mu)
// UNLOCK_FUNCTION(in)
func (fs *fileSystem) unlockAndMaybeDisposeOfInode(in inode.Inode, err *error) {
	// If there is no error, just unlock.
	if *err == nil {
		in.Unlock()
		return
	}

	// Otherwise, go through the decrement helper, which requires the file system
	// lock.
	fs.mu.Lock()
	fs.unlockAndDecrementLookupCount(in, 1)
}

// Fetch attributes for the supplied inode and fill in an appropriate
// expiration time for them.
//
// LOCKS_REQUIRED(in)
func (fs *fileSystem) getAttributes(
	ctx context.Context,
	cred *zpl.Cred,
	in inode.Inode) (
	attr fuseops.InodeAttributes,
	expiration time.Time,
	err error) {
	attr, err = in.Attributes(ctx, cred)
	if err != nil {
		return
	}

	if fs.attrCacheTTL > 0 {
		expiration = fs.cacheClock.Now().Add(fs.attrCacheTTL)
	}

	return
}

// inodeOrDie returns the inode with the given ID, panicking with a helpful
// error message if it doesn't exist.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) inodeOrDie(id fuseops.InodeID) (in inode.Inode) {
	in = fs.inodes[id]
	if in == nil {
		panic(fmt.Sprintf("inode %d doesn't exist", id))
	}

	return
}

// dirInodeOrDie returns the directory inode with the given ID, panicking with
// a helpful error message if it doesn't exist or is the wrong type.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) dirInodeOrDie(id fuseops.InodeID) (in inode.DirInode) {
	tmp := fs.inodes[id]
	in, ok := tmp.(inode.DirInode)
	if !ok {
		panic(fmt.Sprintf("inode %d is %T, wanted inode.DirInode", id, tmp))
	}

	return
}

// fileInodeOrDie returns the file inode with the given ID, panicking with a
// helpful error message if it doesn't exist or is the wrong type.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) fileInodeOrDie(id fuseops.InodeID) (in *inode.FileInode) {
	tmp := fs.inodes[id]
	in, ok := tmp.(*inode.FileInode)
	if !ok {
		panic(fmt.Sprintf("inode %d is %T, wanted *inode.FileInode", id, tmp))
	}

	return
}

// symlinkInodeOrDie returns the symlink inode with the given ID, panicking
// with a helpful error message if it doesn't exist or is the wrong type.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *fileSystem) symlinkInodeOrDie(id fuseops.InodeID) (in *inode.SymlinkInode) {
	tmp := fs.inodes[id]
	in, ok := tmp.(*inode.SymlinkInode)
	if !ok {
		panic(fmt.Sprintf("inode %d is %T, wanted *inode.SymlinkInode", id, tmp))
	}

	return
}

// objectDir returns directory id and its engine-backed view. The directories
// of the control tree refuse every change with EROFS.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) objectDir(id fuseops.InodeID) (inode.DirInode, inode.ObjectInode, error) {
	fs.mu.Lock()
	d := fs.dirInodeOrDie(id)
	fs.mu.Unlock()

	o, ok := d.(inode.ObjectInode)
	if !ok {
		return nil, nil, syscall.EROFS
	}
	return d, o, nil
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

// Destroy tears the file system down when the kernel unmounts it.
func (fs *fileSystem) Destroy() {
	if err := fs.Teardown(context.Background()); err != nil {
		logger.Errorf("Tearing down %s: %v", fs.primary.ds.Name(), err)
	}
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) (err error) {
	st, err := fs.primary.ds.StatFS(ctx)
	if err != nil {
		err = fmt.Errorf("StatFS: %w", err)
		return
	}

	op.BlockSize = st.BlockSize
	op.Blocks = st.Blocks
	op.BlocksFree = st.BlocksFree
	op.BlocksAvailable = st.BlocksAvail
	op.IoSize = uint32(fs.pageSize)
	op.Inodes = st.Files
	op.InodesFree = st.FilesFree
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	// Find the parent directory in question.
	fs.mu.Lock()
	parent := fs.dirInodeOrDie(op.Parent)
	fs.mu.Unlock()

	// Find the child within the parent.
	parent.Lock()
	result, ok, err := parent.LookUpChild(ctx, cred, op.Name)
	parent.Unlock()

	if err != nil {
		return
	}
	if !ok {
		err = fuse.ENOENT
		return
	}

	if result.Inode != 0 {
		err = fs.existingEntry(ctx, cred, result.Inode, &op.Entry)
		return
	}

	err = fs.objectEntry(ctx, cred, parent.(inode.ObjectInode), result.Object, &op.Entry)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	// Find the inode.
	fs.mu.Lock()
	in := fs.inodeOrDie(op.Inode)
	fs.mu.Unlock()

	in.Lock()
	defer in.Unlock()

	// Grab its attributes.
	op.Attributes, op.AttributesExpiration, err = fs.getAttributes(ctx, cred, in)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	// Find the inode.
	fs.mu.Lock()
	in := fs.inodeOrDie(op.Inode)
	fs.mu.Unlock()

	oi, ok := in.(inode.ObjectInode)
	if !ok {
		err = syscall.EROFS
		return
	}

	var attrs zpl.Attributes
	var mask zpl.AttrMask
	if op.Mode != nil {
		attrs.Mode = *op.Mode & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
		mask |= zpl.AttrMode
	}
	if op.Uid != nil {
		attrs.Uid = *op.Uid
		mask |= zpl.AttrUid
	}
	if op.Gid != nil {
		attrs.Gid = *op.Gid
		mask |= zpl.AttrGid
	}
	if op.Size != nil {
		attrs.Size = *op.Size
		mask |= zpl.AttrSize
	}
	if op.Atime != nil {
		attrs.Atime = *op.Atime
		mask |= zpl.AttrAtime
	}
	if op.Mtime != nil {
		attrs.Mtime = *op.Mtime
		mask |= zpl.AttrMtime
	}

	in.Lock()
	defer in.Unlock()

	if mask != 0 {
		if err = oi.SetAttributes(ctx, cred, &attrs, mask); err != nil {
			err = fmt.Errorf("SetAttributes: %w", err)
			return
		}
	}

	// Fill in the response.
	op.Attributes, op.AttributesExpiration, err = fs.getAttributes(ctx, cred, in)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) (err error) {
	fs.forget(op.Inode, op.N)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) BatchForget(
	ctx context.Context,
	op *fuseops.BatchForgetOp) (err error) {
	for _, e := range op.Entries {
		fs.forget(e.Inode, e.N)
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) forget(id fuseops.InodeID, n uint64) {
	// Find the inode.
	fs.mu.Lock()
	in := fs.inodeOrDie(id)
	fs.mu.Unlock()

	// Acquire both locks in the correct order.
	in.Lock()
	fs.mu.Lock()

	// Decrement and unlock.
	fs.unlockAndDecrementLookupCount(in, n)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}
	if fs.isControlEntry(op.Parent, op.Name) {
		err = syscall.EEXIST
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	parent, parentObj, err := fs.objectDir(op.Parent)
	if err != nil {
		return
	}

	parent.Lock()
	child, err := parent.CreateChildDir(ctx, cred, op.Name, op.Mode)
	parent.Unlock()

	if err != nil {
		err = fmt.Errorf("CreateChildDir: %w", err)
		return
	}

	err = fs.objectEntry(ctx, cred, parentObj, child, &op.Entry)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) MkNode(
	ctx context.Context,
	op *fuseops.MkNodeOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}
	if fs.isControlEntry(op.Parent, op.Name) {
		err = syscall.EEXIST
		return
	}

	t := inode.ObjectType(op.Mode)
	if t == zpl.TypeDirectory || t == zpl.TypeSymlink {
		err = syscall.EINVAL
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	err = fs.createFile(ctx, cred, op.Parent, &zpl.CreateRequest{
		Name: op.Name,
		Type: t,
		Mode: op.Mode.Perm() | (op.Mode & (os.ModeSetuid | os.ModeSetgid | os.ModeSticky)),
		Rdev: inode.EngineDev(op.Rdev),
	}, &op.Entry)
	return
}

// createFile creates a non-directory child and fills e with its inode.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) createFile(
	ctx context.Context,
	cred *zpl.Cred,
	parentID fuseops.InodeID,
	req *zpl.CreateRequest,
	e *fuseops.ChildInodeEntry) (err error) {
	parent, parentObj, err := fs.objectDir(parentID)
	if err != nil {
		return
	}

	parent.Lock()
	child, err := parent.CreateChild(ctx, cred, req)
	parent.Unlock()

	if err != nil {
		err = fmt.Errorf("CreateChild: %w", err)
		return
	}

	err = fs.objectEntry(ctx, cred, parentObj, child, e)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}
	if fs.isControlEntry(op.Parent, op.Name) {
		err = syscall.EEXIST
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	err = fs.createFile(ctx, cred, op.Parent, &zpl.CreateRequest{
		Name: op.Name,
		Type: zpl.TypeRegular,
		Mode: op.Mode.Perm() | (op.Mode & (os.ModeSetuid | os.ModeSetgid | os.ModeSticky)),
	}, &op.Entry)
	if err != nil {
		return
	}

	// Allocate a handle. The kernel does not pass the open flags of a create,
	// so the handle may read and write.
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.fileInodeOrDie(op.Entry.Child)
	fh, err := handle.NewFileHandle(in, util.NewOpenMode(util.ReadWrite, 0))
	if err != nil {
		return
	}

	handleID := fs.nextHandleID
	fs.nextHandleID++

	fs.handles[handleID] = fh
	op.Handle = handleID
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) CreateSymlink(
	ctx context.Context,
	op *fuseops.CreateSymlinkOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}
	if fs.isControlEntry(op.Parent, op.Name) {
		err = syscall.EEXIST
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	parent, parentObj, err := fs.objectDir(op.Parent)
	if err != nil {
		return
	}

	parent.Lock()
	child, err := parent.CreateChildSymlink(ctx, cred, op.Name, op.Target)
	parent.Unlock()

	if err != nil {
		err = fmt.Errorf("CreateChildSymlink: %w", err)
		return
	}

	err = fs.objectEntry(ctx, cred, parentObj, child, &op.Entry)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) CreateLink(
	ctx context.Context,
	op *fuseops.CreateLinkOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}
	if fs.isControlEntry(op.Parent, op.Name) {
		err = syscall.EEXIST
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	parent, parentObj, err := fs.objectDir(op.Parent)
	if err != nil {
		return
	}

	fs.mu.Lock()
	target, ok := fs.inodeOrDie(op.Target).(inode.ObjectInode)
	fs.mu.Unlock()

	if !ok {
		err = syscall.EROFS
		return
	}
	if target.Dataset() != parentObj.Dataset() {
		err = syscall.EXDEV
		return
	}

	parent.Lock()
	err = parent.CreateLink(ctx, cred, op.Name, target.Object())
	parent.Unlock()

	if err != nil {
		err = fmt.Errorf("CreateLink: %w", err)
		return
	}

	// The kernel holds a reference to the target, so it cannot be destroyed
	// under us.
	target.Lock()
	target.IncrementLookupCount()
	defer fs.unlockAndMaybeDisposeOfInode(target, &err)

	op.Entry.Child = target.ID()
	op.Entry.Attributes, op.Entry.AttributesExpiration, err = fs.getAttributes(ctx, cred, target)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) (err error) {
	if err = checkName(op.OldName); err != nil {
		return
	}
	if err = checkName(op.NewName); err != nil {
		return
	}
	if fs.isControlEntry(op.OldParent, op.OldName) {
		err = syscall.EROFS
		return
	}
	if fs.isControlEntry(op.NewParent, op.NewName) {
		err = syscall.EEXIST
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	_, oldParent, err := fs.objectDir(op.OldParent)
	if err != nil {
		return
	}
	_, newParent, err := fs.objectDir(op.NewParent)
	if err != nil {
		return
	}

	ds := oldParent.Dataset()
	if newParent.Dataset() != ds {
		err = syscall.EXDEV
		return
	}

	dst := newParent.Object()
	err = ds.Rename(ctx, cred, oldParent.Object().ID, op.OldName, dst.ID, op.NewName)
	if err != nil {
		err = fmt.Errorf("Rename: %w", err)
		return
	}

	// Move the parent link of the renamed object's inode, if there is one.
	moved, err := ds.LookupByName(ctx, cred, dst.ID, op.NewName)
	if err != nil {
		err = fmt.Errorf("LookupByName after rename: %w", err)
		return
	}

	fs.mu.Lock()
	in, ok := fs.objectInodes[objectKey{ds: ds, id: moved.ID}]
	fs.mu.Unlock()

	if ok && in.Object().Gen == moved.Gen {
		in.SetParent(dst)
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) RmDir(
	ctx context.Context,
	op *fuseops.RmDirOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	fs.mu.Lock()
	parent := fs.dirInodeOrDie(op.Parent)
	fs.mu.Unlock()

	parent.Lock()
	err = parent.DeleteChildDir(ctx, cred, op.Name)
	parent.Unlock()

	if err != nil {
		err = fmt.Errorf("DeleteChildDir: %w", err)
		return
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) (err error) {
	if err = checkName(op.Name); err != nil {
		return
	}

	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	fs.mu.Lock()
	parent := fs.dirInodeOrDie(op.Parent)
	fs.mu.Unlock()

	parent.Lock()
	err = parent.DeleteChild(ctx, cred, op.Name)
	parent.Unlock()

	if err != nil {
		err = fmt.Errorf("DeleteChild: %w", err)
		return
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) (err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Make sure the inode still exists and is a directory. If not, something has
	// screwed up because the VFS layer shouldn't have let us forget the inode
	// before opening it.
	in := fs.dirInodeOrDie(op.Inode)

	// Allocate a handle.
	handleID := fs.nextHandleID
	fs.nextHandleID++

	fs.handles[handleID] = handle.NewDirHandle(in)
	op.Handle = handleID

	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	// Find the handle.
	fs.mu.Lock()
	dh := fs.handles[op.Handle].(*handle.DirHandle)
	fs.mu.Unlock()

	dh.Mu.Lock()
	defer dh.Mu.Unlock()

	// Serve the request.
	err = dh.ReadDir(ctx, cred, op)

	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) (err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Sanity check that this handle exists and is of the correct type.
	_ = fs.handles[op.Handle].(*handle.DirHandle)

	// Clear the entry from the map.
	delete(fs.handles, op.Handle)

	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) (err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Find the inode.
	in := fs.fileInodeOrDie(op.Inode)

	openMode := util.FileOpenMode(util.RawOpenFlags(op.OpenFlags))
	if openMode.CanWrite() && in.Dataset().ReadOnly() {
		err = syscall.EROFS
		return
	}

	fh, err := handle.NewFileHandle(in, openMode)
	if err != nil {
		return
	}

	// Allocate a handle.
	handleID := fs.nextHandleID
	fs.nextHandleID++

	fs.handles[handleID] = fh
	op.Handle = handleID

	// Every change to the file goes through this file system, so the kernel's
	// cached pages stay valid across opens.
	op.KeepPageCache = true

	return
}

// fileHandle returns the open file handle with the given ID.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) fileHandle(id fuseops.HandleID) *handle.FileHandle {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.handles[id].(*handle.FileHandle)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	fh := fs.fileHandle(op.Handle)

	// Serve the read. A short count is end of file.
	op.BytesRead, err = fh.Read(ctx, cred, op.Dst, op.Offset)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	fh := fs.fileHandle(op.Handle)

	_, err = fh.Write(ctx, cred, op.Data, op.Offset)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	fs.mu.Lock()
	in := fs.fileInodeOrDie(op.Inode)
	fs.mu.Unlock()

	if in.Dataset().ReadOnly() {
		return
	}

	err = in.Sync(ctx, cred, false)
	return
}

// FlushFile writes dirty pages back on close(2) without forcing the engine
// to make them durable.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	fh := fs.fileHandle(op.Handle)
	if !fh.OpenMode().CanWrite() {
		return
	}

	err = fh.Inode().Flush(ctx, cred)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) (err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Destroy the handle.
	fs.handles[op.Handle].(*handle.FileHandle).Destroy()

	// Update the map.
	delete(fs.handles, op.Handle)

	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReadSymlink(
	ctx context.Context,
	op *fuseops.ReadSymlinkOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	// Find the inode.
	fs.mu.Lock()
	in := fs.symlinkInodeOrDie(op.Inode)
	fs.mu.Unlock()

	in.Lock()
	defer in.Unlock()

	// Serve the request.
	op.Target, err = in.Target(ctx, cred)
	return
}

// SyncFS flushes the dirty pages of every file and syncs the dataset root.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) SyncFS(
	ctx context.Context,
	op *fuseops.SyncFSOp) (err error) {
	cred := fs.acquireCred(op.OpContext)
	defer fs.releaseCred(cred)

	for _, f := range fs.writableFiles() {
		if ferr := f.Flush(ctx, cred); ferr != nil && err == nil {
			err = fmt.Errorf("flushing inode %v: %w", f.ID(), ferr)
		}
	}
	if err != nil {
		return
	}

	ds := fs.primary.ds
	if ds.ReadOnly() {
		return
	}
	root, err := ds.Root(ctx)
	if err != nil {
		return
	}
	err = ds.Fsync(ctx, cred, root.ID, false)
	return
}

// MapFile returns a memory mapping of an open file. A writable mapping needs
// a handle open for writing.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) MapFile(
	ctx context.Context,
	h fuseops.HandleID,
	writable bool) (*pagecache.Mapping, error) {
	fs.mu.Lock()
	fh, ok := fs.handles[h].(*handle.FileHandle)
	fs.mu.Unlock()

	if !ok {
		return nil, syscall.EBADF
	}
	return fh.Map(writable)
}

// Teardown unmounts every snapshot, in parallel, and then closes the mounted
// dataset. Later calls do nothing.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) Teardown(ctx context.Context) (err error) {
	fs.mu.Lock()
	if fs.tornDown {
		fs.mu.Unlock()
		return
	}
	fs.tornDown = true
	fs.mu.Unlock()

	// Dirty pages go back before the engine handle closes. Unlinked objects
	// have nowhere to go.
	cred := fs.exportCred()
	for _, f := range fs.writableFiles() {
		if ferr := f.Flush(ctx, cred); ferr != nil && !zpl.IsNotFound(ferr) && err == nil {
			err = fmt.Errorf("flushing inode %v: %w", f.ID(), ferr)
		}
	}
	fs.releaseCred(cred)

	s := fs.primary
	if s.ctl != nil {
		if terr := s.ctl.Teardown(ctx); terr != nil && err == nil {
			err = fmt.Errorf("unmounting snapshots: %w", terr)
		}

		fs.mu.Lock()
		delete(fs.inodes, fuseops.InodeID(ctldir.InoRoot))
		delete(fs.inodes, fuseops.InodeID(ctldir.InoSnapdir))
		fs.mu.Unlock()
	}

	if cerr := s.ds.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing %s: %w", s.ds.Name(), cerr)
	}

	fs.mu.Lock()
	delete(fs.sessions, s.ds.Name())
	fs.mu.Unlock()

	return
}

// writableFiles returns the live file inodes of writable datasets.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) writableFiles() (files []*inode.FileInode) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, in := range fs.inodes {
		if f, ok := in.(*inode.FileInode); ok && !f.Dataset().ReadOnly() {
			files = append(files, f)
		}
	}
	return
}

// snapshotName reports whether name is a "pool/fs@snap" dataset name.
func snapshotName(name string) bool {
	return strings.Contains(name, "@")
}
