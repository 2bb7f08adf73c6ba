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
	"bytes"
	"path/filepath"
	"testing"

	"github.com/lzfs/lzfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runImageCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd, err := NewRootCmd(func(*cfg.Config, string, string) error { return nil })
	require.NoError(t, err)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"image"}, args...))

	err = cmd.Execute()
	return out.String(), err
}

func TestImageLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tank.img")

	_, err := runImageCmd(t, "init", "--image", path, "tank", "home", "tank/logs")
	require.NoError(t, err)
	_, err = runImageCmd(t, "snapshot", "--image", path, "tank/home@monday")
	require.NoError(t, err)
	_, err = runImageCmd(t, "snapshot", "--image", path, "--image-compression", "lz4", "tank/home@tuesday")
	require.NoError(t, err)

	out, err := runImageCmd(t, "ls", "--image", path)
	require.NoError(t, err)
	assert.Equal(t, "tank/home\ntank/home@monday\ntank/home@tuesday\ntank/logs\n", out)

	_, err = runImageCmd(t, "destroy", "--image", path, "tank/home@monday")
	require.NoError(t, err)

	out, err = runImageCmd(t, "ls", "--image", path)
	require.NoError(t, err)
	assert.Equal(t, "tank/home\ntank/home@tuesday\ntank/logs\n", out)
}

func TestImageInitRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tank.img")
	_, err := runImageCmd(t, "init", "--image", path, "tank")
	require.NoError(t, err)

	_, err = runImageCmd(t, "init", "--image", path, "tank")

	assert.Error(t, err)
}

func TestImageSnapshotErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tank.img")
	_, err := runImageCmd(t, "init", "--image", path, "tank", "home")
	require.NoError(t, err)

	for _, name := range []string{"tank/home", "tank/home@", "@monday", "tank/nope@monday"} {
		_, err = runImageCmd(t, "snapshot", "--image", path, name)
		assert.Error(t, err, "name %q", name)
	}

	_, err = runImageCmd(t, "snapshot", "--image", path, "tank/home@monday")
	require.NoError(t, err)
	_, err = runImageCmd(t, "snapshot", "--image", path, "tank/home@monday")
	assert.Error(t, err)
}

func TestImageRequiresPath(t *testing.T) {
	_, err := runImageCmd(t, "ls")

	assert.Error(t, err)
}

func TestSplitSnapshotName(t *testing.T) {
	ds, snap, err := splitSnapshotName("tank/home@monday")

	require.NoError(t, err)
	assert.Equal(t, "tank/home", ds)
	assert.Equal(t, "monday", snap)
}
