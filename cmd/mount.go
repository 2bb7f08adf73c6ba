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

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/cfg"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/fs"
	"github.com/lzfs/lzfs/internal/locker"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// Mount the dataset, returning a fuse.MountedFileSystem that can be joined
// to wait for unmounting.
func mountWithEngine(
	ctx context.Context,
	dataset string,
	mountPoint string,
	newConfig *cfg.Config,
	engine zpl.Engine,
	metricHandle common.MetricHandle) (mfs *fuse.MountedFileSystem, err error) {
	// Enable invariant checking if requested.
	if newConfig.Debug.ExitOnInvariantViolation {
		locker.EnableInvariantsCheck()
	}
	if newConfig.Debug.LogMutex {
		locker.EnableDebugMessages()
	}

	// Owners of the control directory. Rationalize has already replaced
	// unset values with the ids of this process.
	uid := uint32(newConfig.FileSystem.Uid)
	gid := uint32(newConfig.FileSystem.Gid)
	if uid == 0 && os.Getuid() == 0 {
		logger.Warnf("lzfs invoked as root; the control directory will be owned by root.")
	}

	serverCfg := &fs.ServerConfig{
		Engine:         engine,
		DatasetName:    dataset,
		ReadOnly:       newConfig.FileSystem.ReadOnly,
		CacheClock:     timeutil.RealClock(),
		AttrCacheTTL:   newConfig.FileSystem.AttrCacheTtl,
		PageSize:       newConfig.FileSystem.PageSize,
		Uid:            uid,
		Gid:            gid,
		SnapdirVisible: newConfig.FileSystem.Snapdir == cfg.SnapdirVisible,
		MetricHandle:   metricHandle,
		NewConfig:      newConfig,
	}

	logger.Infof("Creating a new server...\n")
	server, err := fs.NewServer(ctx, serverCfg)
	if err != nil {
		err = fmt.Errorf("fs.NewServer: %w", err)
		return
	}

	logger.Infof("Mounting file system %q...", dataset)
	mfs, err = fuse.Mount(mountPoint, server, getFuseMountConfig(dataset, newConfig))
	if err != nil {
		err = fmt.Errorf("mount: %w", err)
		return
	}

	logger.Infof("File system has been successfully mounted (%s).", cfg.ShowOptions(newConfig))
	return
}

func getFuseMountConfig(dataset string, newConfig *cfg.Config) *fuse.MountConfig {
	mountCfg := &fuse.MountConfig{
		FSName:      dataset,
		Subtype:     "lzfs",
		ReadOnly:    newConfig.FileSystem.ReadOnly,
		Options:     cfg.MountOptions(newConfig),
		ErrorLogger: logger.NewLegacyLogger(logger.LevelError, "fuse: "),

		// Every write goes through the file system's page cache.
		DisableWritebackCaching: true,
	}

	if newConfig.Debug.Fuse {
		mountCfg.DebugLogger = logger.NewLegacyLogger(logger.LevelTrace, "fuse_debug: ")
	}
	return mountCfg
}
