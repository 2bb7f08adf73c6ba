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
	"os/signal"

	"github.com/google/uuid"
	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/kardianos/osext"
	"github.com/lzfs/lzfs/cfg"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/monitor"
	"github.com/lzfs/lzfs/internal/util"
	"golang.org/x/sys/unix"
)

const (
	SuccessfulMountMessage         = "File system has been successfully mounted."
	UnsuccessfulMountMessagePrefix = "Error while mounting lzfs"

	// Set in the environment of the daemonized child.
	InBackgroundModeEnv = "LZFS_IN_BACKGROUND_MODE"
)

func registerTerminatingSignalHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, unix.SIGTERM)

	// Unmount when a signal arrives. Teardown of snapshot mounts follows from
	// the kernel's destroy request.
	go func() {
		for {
			sig := <-signalChan
			sigName := "SIGINT"
			if sig == unix.SIGTERM {
				sigName = "SIGTERM"
			}
			logger.Infof("Received %s, attempting to unmount...", sigName)

			err := fuse.Unmount(mountPoint)
			if err != nil {
				logger.Errorf("Failed to unmount in response to %s: %v", sigName, err)
			} else {
				logger.Infof("Successfully unmounted in response to %s.", sigName)
				return
			}
		}
	}()
}

// runDaemon re-executes lzfs in the foreground as a daemon and waits for it
// to report the outcome of the mount.
func runDaemon(newConfig *cfg.Config, mountPoint string) (err error) {
	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("osext.Executable: %w", err)
	}

	// Be sure to use foreground mode, and to send along the canonical mount
	// point.
	args := append([]string{"--foreground"}, os.Args[1:]...)
	args[len(args)-1] = mountPoint

	// Pass along PATH so that the daemon can find fusermount.
	env := []string{
		fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
		fmt.Sprintf("%s=true", InBackgroundModeEnv),
	}
	if wd, err := os.Getwd(); err == nil {
		env = append(env, fmt.Sprintf("%s=%s", util.ParentProcessDirEnv, wd))
	}
	if home, err := os.UserHomeDir(); err == nil {
		env = append(env, fmt.Sprintf("HOME=%s", home))
	}

	// Capture the daemon's stderr next to its log file.
	var stderrFile *os.File
	if newConfig.Logging.FilePath != "" {
		name := string(newConfig.Logging.FilePath) + ".stderr"
		if stderrFile, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644); err != nil {
			return err
		}
		defer stderrFile.Close()
	}

	if err = daemonize.Run(path, args, env, os.Stdout, stderrFile); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof(SuccessfulMountMessage)
	return nil
}

// Mount serves dataset at mountPoint until it is unmounted. Unless running
// in the foreground it daemonizes first.
func Mount(newConfig *cfg.Config, dataset, mountPoint string) (err error) {
	logger.SetLogFormat(newConfig.Logging.Format)

	if newConfig.Foreground {
		if err = logger.InitLogFile(newConfig.Logging); err != nil {
			return fmt.Errorf("init log file: %w", err)
		}
	}

	if !newConfig.Foreground {
		return runDaemon(newConfig, mountPoint)
	}

	mountID := uuid.NewString()
	logger.SetMountID(mountID)
	logger.Infof("Start lzfs/%s for app %q using mount point: %s\n", common.GetVersion(), newConfig.AppName, mountPoint)
	if s, err := cfg.Stringify(newConfig); err == nil {
		logger.Info("lzfs config", "config", s)
	}

	ctx := context.Background()
	metricHandle := common.NewNoopMetrics()
	var metricShutdownFn common.ShutdownFn
	if cfg.IsMetricsEnabled(newConfig) {
		metricShutdownFn = monitor.SetupOTelMetricExporters(ctx, newConfig)
		if h, err := common.NewOTelMetrics(); err != nil {
			logger.Errorf("Creating metric instruments: %v", err)
		} else {
			metricHandle = h
		}
	}
	shutdownFn := common.JoinShutdownFunc(metricShutdownFn, monitor.SetupTracing(ctx, newConfig, mountID))

	// Tell the parent process about the outcome.
	signalOutcome := func(err error) {
		if err2 := daemonize.SignalOutcome(err); err2 != nil {
			logger.Errorf("Failed to signal outcome to parent process: %v", err2)
		}
	}

	pool, err := openPool(ctx, newConfig, dataset, timeutil.RealClock())
	if err != nil {
		logger.Errorf("%s: %v\n", UnsuccessfulMountMessagePrefix, err)
		signalOutcome(fmt.Errorf("%s: %w", UnsuccessfulMountMessagePrefix, err))
		return err
	}

	engine, err := newEngine(newConfig, pool)
	if err != nil {
		signalOutcome(fmt.Errorf("%s: %w", UnsuccessfulMountMessagePrefix, err))
		return err
	}

	mfs, err := mountWithEngine(ctx, dataset, mountPoint, newConfig, engine, metricHandle)
	if err != nil {
		logger.Errorf("%s: %v\n", UnsuccessfulMountMessagePrefix, err)
		signalOutcome(fmt.Errorf("%s: mountWithEngine: %w", UnsuccessfulMountMessagePrefix, err))
		return err
	}
	logger.Info(SuccessfulMountMessage)
	signalOutcome(nil)

	registerTerminatingSignalHandler(mfs.Dir())

	// Wait for the file system to be unmounted.
	if err = mfs.Join(ctx); err != nil {
		err = fmt.Errorf("MountedFileSystem.Join: %w", err)
	}

	if saveErr := savePool(newConfig, dataset, pool); saveErr != nil {
		logger.Errorf("%v", saveErr)
		if err == nil {
			err = saveErr
		}
	}

	if shutdownFn != nil {
		if shutdownErr := shutdownFn(ctx); shutdownErr != nil {
			logger.Errorf("Error while shutting down exporters: %v", shutdownErr)
		}
	}
	return err
}
