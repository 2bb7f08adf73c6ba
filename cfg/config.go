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

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Engine EngineConfig `yaml:"engine"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Foreground bool `yaml:"foreground"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	Fuse bool `yaml:"fuse"`

	LogMutex bool `yaml:"log-mutex"`
}

type EngineConfig struct {
	CreateDataset bool `yaml:"create-dataset"`

	Image ResolvedPath `yaml:"image"`

	ImageCompression Compression `yaml:"image-compression"`

	OpsPerSec float64 `yaml:"ops-per-sec"`

	ReadBytesPerSec float64 `yaml:"read-bytes-per-sec"`
}

type FileSystemConfig struct {
	Atime bool `yaml:"atime"`

	AttrCacheTtl time.Duration `yaml:"attr-cache-ttl"`

	Devices bool `yaml:"devices"`

	DirMode Octal `yaml:"dir-mode"`

	Exec bool `yaml:"exec"`

	FuseOptions []string `yaml:"fuse-options"`

	Gid int64 `yaml:"gid"`

	PageSize int64 `yaml:"page-size"`

	ReadOnly bool `yaml:"read-only"`

	Snapdir SnapdirVisibility `yaml:"snapdir"`

	Suid bool `yaml:"suid"`

	Uid int64 `yaml:"uid"`
}

type LogRotateLoggingConfig struct {
	BackupFileCount int64 `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`

	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`
}

type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Severity LogSeverity `yaml:"severity"`
}

type MetricsConfig struct {
	PrometheusPort int64 `yaml:"prometheus-port"`
}

type MonitoringConfig struct {
	ExperimentalTracingMode string `yaml:"experimental-tracing-mode"`
}

func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name of this mount.")

	err = v.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.BoolP("atime", "", true, "Update access times on read. Disable with -o noatime.")

	err = v.BindPFlag("file-system.atime", flagSet.Lookup("atime"))
	if err != nil {
		return err
	}

	flagSet.DurationP("attr-cache-ttl", "", time.Second, "How long the kernel may cache inode attributes and directory entries.")

	err = v.BindPFlag("file-system.attr-cache-ttl", flagSet.Lookup("attr-cache-ttl"))
	if err != nil {
		return err
	}

	flagSet.BoolP("create-dataset", "", false, "Create the dataset in the pool image if it does not exist.")

	err = v.BindPFlag("engine.create-dataset", flagSet.Lookup("create-dataset"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_fuse", "", false, "Enables debug logs for every FUSE operation.")

	err = v.BindPFlag("debug.fuse", flagSet.Lookup("debug_fuse"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = v.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = v.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.BoolP("devices", "", true, "Interpret character and block special devices. Disable with -o nodev.")

	err = v.BindPFlag("file-system.devices", flagSet.Lookup("devices"))
	if err != nil {
		return err
	}

	flagSet.StringP("dir-mode", "", "0755", "Permission bits of the root directory of a dataset created by lzfs, in octal.")

	err = v.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode"))
	if err != nil {
		return err
	}

	flagSet.BoolP("exec", "", true, "Permit execution of binaries. Disable with -o noexec.")

	err = v.BindPFlag("file-system.exec", flagSet.Lookup("exec"))
	if err != nil {
		return err
	}

	flagSet.StringP("experimental-tracing-mode", "", "", "Experimental: specify tracing mode. Value can be '' (disabled) or 'stdout'.")

	err = v.BindPFlag("monitoring.experimental-tracing-mode", flagSet.Lookup("experimental-tracing-mode"))
	if err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Stay in the foreground after mounting.")

	err = v.BindPFlag("foreground", flagSet.Lookup("foreground"))
	if err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID reported for requests that carry none. -1 means the gid of the mounting process.")

	err = v.BindPFlag("file-system.gid", flagSet.Lookup("gid"))
	if err != nil {
		return err
	}

	flagSet.StringP("image", "", "", "Path of the pool image backing the engine.")

	err = v.BindPFlag("engine.image", flagSet.Lookup("image"))
	if err != nil {
		return err
	}

	flagSet.StringP("image-compression", "", "zstd", "Compression used when the pool image is saved. Value can be 'none', 'lz4' or 'zstd'.")

	err = v.BindPFlag("engine.image-compression", flagSet.Lookup("image-compression"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs. When not provided, logs are printed to stdout.")

	err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "The format of the log file: 'text' or 'json'.")

	err = v.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "The maximum number of backup log files to retain after they have been rotated. 0 retains all.")

	err = v.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count"))
	if err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Compress rotated log files using gzip.")

	err = v.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "The maximum size in megabytes that a log file can reach before it is rotated.")

	err = v.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")

	err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.StringSliceP("o", "o", []string{}, "Additional system-specific mount options. Multiple options can be passed as comma separated.")

	err = v.BindPFlag("file-system.fuse-options", flagSet.Lookup("o"))
	if err != nil {
		return err
	}

	flagSet.Float64P("ops-per-sec", "", -1, "Operations per second limit on engine calls. -1 means no limit.")

	err = v.BindPFlag("engine.ops-per-sec", flagSet.Lookup("ops-per-sec"))
	if err != nil {
		return err
	}

	flagSet.IntP("page-size", "", 4096, "Size in bytes of a page-cache page.")

	err = v.BindPFlag("file-system.page-size", flagSet.Lookup("page-size"))
	if err != nil {
		return err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics endpoint on this port and a path of /metrics. 0 disables.")

	err = v.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port"))
	if err != nil {
		return err
	}

	flagSet.Float64P("read-bytes-per-sec", "", -1, "Bandwidth limit for engine reads, in bytes per second. -1 means no limit.")

	err = v.BindPFlag("engine.read-bytes-per-sec", flagSet.Lookup("read-bytes-per-sec"))
	if err != nil {
		return err
	}

	flagSet.BoolP("read-only", "", false, "Mount the dataset read-only.")

	err = v.BindPFlag("file-system.read-only", flagSet.Lookup("read-only"))
	if err != nil {
		return err
	}

	flagSet.StringP("snapdir", "", "hidden", "Visibility of the .zfs control directory in the root: 'hidden' or 'visible'.")

	err = v.BindPFlag("file-system.snapdir", flagSet.Lookup("snapdir"))
	if err != nil {
		return err
	}

	flagSet.BoolP("suid", "", true, "Honour set-user-id and set-group-id bits. Disable with -o nosuid.")

	err = v.BindPFlag("file-system.suid", flagSet.Lookup("suid"))
	if err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID reported for requests that carry none. -1 means the uid of the mounting process.")

	err = v.BindPFlag("file-system.uid", flagSet.Lookup("uid"))
	if err != nil {
		return err
	}

	return nil
}
