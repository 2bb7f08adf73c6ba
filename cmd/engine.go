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
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/lzfs/lzfs/cfg"
	"github.com/lzfs/lzfs/internal/logger"
	"github.com/lzfs/lzfs/internal/ratelimit"
	"github.com/lzfs/lzfs/internal/storage/image"
	"github.com/lzfs/lzfs/internal/storage/inmem"
	"github.com/lzfs/lzfs/internal/storage/zpl"
)

// The window over which engine rate limits are enforced.
const throttleWindow = 8 * time.Hour

// poolName returns the pool part of a name like "tank/home@monday".
func poolName(dataset string) string {
	name, _, _ := strings.Cut(dataset, "@")
	name, _, _ = strings.Cut(name, "/")
	return name
}

// openPool loads the configured pool image. With dataset creation enabled, a
// missing image (or none configured) starts an empty pool and the dataset is
// created in it.
func openPool(ctx context.Context, c *cfg.Config, dataset string, clock timeutil.Clock) (p *inmem.Pool, err error) {
	imagePath := string(c.Engine.Image)

	switch {
	case imagePath == "" && !c.Engine.CreateDataset:
		err = fmt.Errorf("no pool image configured; pass --image or --create-dataset")
		return

	case imagePath == "":
		p = inmem.NewPool(poolName(dataset), clock)

	default:
		p, err = inmem.LoadImage(imagePath, clock)
		if errors.Is(err, fs.ErrNotExist) && c.Engine.CreateDataset {
			logger.Infof("Image %q does not exist; starting an empty pool.", imagePath)
			p, err = inmem.NewPool(poolName(dataset), clock), nil
		}
		if err != nil {
			err = fmt.Errorf("loading image %q: %w", imagePath, err)
			return
		}
	}

	if p.Name() != poolName(dataset) {
		err = fmt.Errorf("dataset %q does not belong to pool %q", dataset, p.Name())
		return
	}

	if c.Engine.CreateDataset {
		base, _, _ := strings.Cut(dataset, "@")
		err = createDataset(ctx, p, base, os.FileMode(c.FileSystem.DirMode))
		switch {
		case errors.Is(err, zpl.EEXIST):
			err = nil
		case err != nil:
			err = fmt.Errorf("creating dataset %q: %w", base, err)
			return
		default:
			logger.Infof("Created dataset %q.", base)
		}
	}
	return
}

// createDataset adds an empty dataset whose root directory has the given
// permission bits.
func createDataset(ctx context.Context, p *inmem.Pool, name string, perm os.FileMode) (err error) {
	if err = p.CreateDataset(name); err != nil {
		return
	}

	ds, err := p.Open(ctx, name, false)
	if err != nil {
		return
	}
	defer ds.Close()

	root, err := ds.Root(ctx)
	if err != nil {
		return
	}
	return ds.SetAttributes(ctx, &zpl.Cred{}, root.ID, &zpl.Attributes{Mode: perm.Perm()}, zpl.AttrMode)
}

// newEngine wraps the pool with the configured rate limits, if any.
func newEngine(c *cfg.Config, p zpl.Engine) (zpl.Engine, error) {
	var opThrottle, readThrottle ratelimit.Throttle

	if c.Engine.OpsPerSec > 0 {
		capacity, err := ratelimit.ChooseLimiterCapacity(c.Engine.OpsPerSec, throttleWindow)
		if err != nil {
			return nil, fmt.Errorf("choosing operation throttle capacity: %w", err)
		}
		opThrottle = ratelimit.NewThrottle(c.Engine.OpsPerSec, capacity)
	}

	if c.Engine.ReadBytesPerSec > 0 {
		capacity, err := ratelimit.ChooseLimiterCapacity(c.Engine.ReadBytesPerSec, throttleWindow)
		if err != nil {
			return nil, fmt.Errorf("choosing read throttle capacity: %w", err)
		}
		readThrottle = ratelimit.NewThrottle(c.Engine.ReadBytesPerSec, capacity)
	}

	if opThrottle == nil && readThrottle == nil {
		return p, nil
	}
	return ratelimit.NewThrottledEngine(opThrottle, readThrottle, p), nil
}

// savePool writes the pool back to its image after a writable mount.
func savePool(c *cfg.Config, dataset string, p *inmem.Pool) error {
	if c.Engine.Image == "" || c.FileSystem.ReadOnly || strings.Contains(dataset, "@") {
		return nil
	}

	compression, err := image.ParseCompression(string(c.Engine.ImageCompression))
	if err != nil {
		return err
	}
	if err = p.SaveImage(string(c.Engine.Image), compression); err != nil {
		return fmt.Errorf("saving image %q: %w", c.Engine.Image, err)
	}
	logger.Infof("Saved pool %q to %q.", p.Name(), c.Engine.Image)
	return nil
}
