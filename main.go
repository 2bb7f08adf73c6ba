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

// lzfs serves a dataset of a pool image as a POSIX file system over FUSE.
//
// Usage:
//
//	lzfs [flags] dataset mount_point
//	lzfs image init|snapshot|destroy|ls --image path ...
package main

import (
	"context"
	"log"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/lzfs/lzfs/cmd"
)

func main() {
	// Make logging output better.
	log.SetFlags(log.Lmicroseconds | log.Lshortfile)

	rootCmd, err := cmd.NewRootCmd(cmd.Mount)
	if err != nil {
		log.Fatalf("Error occurred while creating the root command: %v", err)
	}

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
