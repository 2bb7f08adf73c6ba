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
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/internal/storage/image"
	"github.com/lzfs/lzfs/internal/storage/inmem"
	"github.com/lzfs/lzfs/internal/storage/zpl"
	"github.com/lzfs/lzfs/internal/util"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type imageFlags struct {
	path        string
	compression string
	dirMode     uint32
}

func (f *imageFlags) resolve() (path string, c image.Compression, err error) {
	if path, err = util.GetResolvedPath(f.path); err != nil {
		return
	}
	c, err = image.ParseCompression(f.compression)
	return
}

func newImageCmd() *cobra.Command {
	flags := &imageFlags{}

	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Manage pool images offline",
	}
	imageCmd.PersistentFlags().StringVar(&flags.path, "image", "", "Path of the pool image.")
	imageCmd.PersistentFlags().StringVar(&flags.compression, "image-compression", "zstd", "Compression used when the image is written: 'none', 'lz4' or 'zstd'.")
	_ = imageCmd.MarkPersistentFlagRequired("image")

	initCmd := &cobra.Command{
		Use:   "init pool [dataset...]",
		Short: "Create an image holding an empty pool and the named datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return initImage(cmd.Context(), flags, args[0], args[1:])
		},
	}
	initCmd.Flags().Uint32Var(&flags.dirMode, "dir-mode", 0755, "Permission bits of each dataset's root directory.")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot dataset@name",
		Short: "Record the current state of a dataset as a named snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateImage(cmd.Context(), flags, func(ctx context.Context, p *inmem.Pool) error {
				ds, snap, err := splitSnapshotName(args[0])
				if err != nil {
					return err
				}
				_, err = p.Snapshot(ctx, ds, snap)
				return err
			})
		},
	}

	destroyCmd := &cobra.Command{
		Use:   "destroy dataset@name",
		Short: "Remove a snapshot from its dataset's catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateImage(cmd.Context(), flags, func(ctx context.Context, p *inmem.Pool) error {
				ds, snap, err := splitSnapshotName(args[0])
				if err != nil {
					return err
				}
				return p.DestroySnapshot(ctx, ds, snap)
			})
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List the datasets of an image, each followed by its snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _, err := flags.resolve()
			if err != nil {
				return err
			}
			p, err := inmem.LoadImage(path, timeutil.RealClock())
			if err != nil {
				return fmt.Errorf("loading image %q: %w", path, err)
			}
			return listPool(cmd.Context(), p, cmd.OutOrStdout())
		},
	}

	imageCmd.AddCommand(initCmd, snapshotCmd, destroyCmd, lsCmd)
	return imageCmd
}

func splitSnapshotName(name string) (dataset, snapshot string, err error) {
	dataset, snapshot, ok := strings.Cut(name, "@")
	if !ok || dataset == "" || snapshot == "" {
		err = fmt.Errorf("%q is not of the form dataset@name", name)
	}
	return
}

func initImage(ctx context.Context, flags *imageFlags, pool string, datasets []string) error {
	path, compression, err := flags.resolve()
	if err != nil {
		return err
	}
	if _, err = os.Stat(path); err == nil {
		return fmt.Errorf("image %q already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	p := inmem.NewPool(pool, timeutil.RealClock())
	for _, name := range datasets {
		if !strings.Contains(name, "/") {
			name = pool + "/" + name
		}
		if err = createDataset(ctx, p, name, os.FileMode(flags.dirMode)); err != nil {
			return fmt.Errorf("creating dataset %q: %w", name, err)
		}
	}
	return p.SaveImage(path, compression)
}

// updateImage loads the image, applies f and writes the result back.
func updateImage(ctx context.Context, flags *imageFlags, f func(context.Context, *inmem.Pool) error) error {
	path, compression, err := flags.resolve()
	if err != nil {
		return err
	}

	p, err := inmem.LoadImage(path, timeutil.RealClock())
	if err != nil {
		return fmt.Errorf("loading image %q: %w", path, err)
	}
	if err = f(ctx, p); err != nil {
		return err
	}
	return p.SaveImage(path, compression)
}

// listPool writes each dataset name followed by the full names of its
// snapshots in creation order. Catalogues are read concurrently.
func listPool(ctx context.Context, p *inmem.Pool, w io.Writer) error {
	names := p.Datasets()
	sort.Strings(names)

	catalogues := make([][]string, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() (err error) {
			catalogues[i], err = snapshotNames(ctx, p, name)
			return
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, name := range names {
		fmt.Fprintln(w, name)
		for _, snap := range catalogues[i] {
			fmt.Fprintf(w, "%s@%s\n", name, snap)
		}
	}
	return nil
}

func snapshotNames(ctx context.Context, p *inmem.Pool, dataset string) (names []string, err error) {
	ds, err := p.Open(ctx, dataset, true)
	if err != nil {
		return
	}
	defer ds.Close()

	var cursor zpl.Cursor
	for {
		var s zpl.Snapshot
		s, err = ds.NextSnapshot(ctx, &cursor)
		if errors.Is(err, zpl.ENOENT) {
			err = nil
			return
		}
		if err != nil {
			return
		}
		names = append(names, s.Name)
	}
}
