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
	"fmt"
	"os"
	"path"

	"github.com/lzfs/lzfs/cfg"
	"github.com/lzfs/lzfs/common"
	"github.com/lzfs/lzfs/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// MountFn mounts a dataset once the configuration has been resolved.
type MountFn func(c *cfg.Config, dataset, mountPoint string) error

// NewRootCmd returns the lzfs command. Running it with a dataset and a mount
// point calls m; the image sub-commands manage pool images offline.
func NewRootCmd(m MountFn) (*cobra.Command, error) {
	var configFile string
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "lzfs [flags] dataset mount_point",
		Short: "Mount a dataset of an lzfs pool",
		Long: `lzfs serves one dataset of a pool image through FUSE with POSIX
semantics. Snapshots of the dataset are reachable read-only below
.zfs/snapshot in its root directory.`,
		Version:      common.GetVersion(),
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}
			dataset, mountPoint, err := populateArgs(args)
			if err != nil {
				return err
			}
			return m(c, dataset, mountPoint)
		},
	}

	rootCmd.Flags().StringVar(&configFile, "config-file", "", "Path of a YAML config file. Flags take precedence over its values.")
	if err := cfg.BindFlags(v, rootCmd.Flags()); err != nil {
		return nil, fmt.Errorf("error while binding flags: %w", err)
	}

	rootCmd.AddCommand(newImageCmd())
	return rootCmd, nil
}

func loadConfig(v *viper.Viper, configFile string) (*cfg.Config, error) {
	if configFile != "" {
		path, err := util.GetResolvedPath(configFile)
		if err != nil {
			return nil, fmt.Errorf("resolving config file: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err = v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error while reading the config file: %w", err)
		}
	}
	return cfg.Load(v)
}

func populateArgs(args []string) (dataset, mountPoint string, err error) {
	if len(args) != 2 {
		err = fmt.Errorf(
			"%s takes exactly two arguments. Run `%s --help` for more info",
			path.Base(os.Args[0]),
			path.Base(os.Args[0]))
		return
	}
	dataset = args[0]

	// Make the mount point absolute. The daemon changes its working directory
	// before mounting.
	mountPoint, err = util.GetResolvedPath(args[1])
	if err != nil {
		err = fmt.Errorf("canonicalizing mount point: %w", err)
		return
	}
	return
}
