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

// Package locker provides named mutexes that can optionally check invariants
// on every transition and report locks held for suspiciously long.
package locker

import (
	"runtime"
	"sync"
	"time"

	"github.com/lzfs/lzfs/internal/logger"
)

var (
	gEnableInvariantsCheck bool
	gEnableDebugMessages   bool
)

// How long a lock may be held before debug mode reports it.
const heldTooLong = 5 * time.Second

// EnableInvariantsCheck makes lockers created afterwards run their check
// function on every lock and unlock.
func EnableInvariantsCheck() {
	gEnableInvariantsCheck = true
}

// EnableDebugMessages makes lockers created afterwards log when held for
// more than a few seconds.
func EnableDebugMessages() {
	gEnableDebugMessages = true
}

// Locker is a mutex that also supports a non-blocking attempt.
type Locker interface {
	sync.Locker
	TryLock() bool
}

// New returns a locker with potential capability for debugging. check may be
// nil.
func New(name string, check func()) Locker {
	var l Locker = &sync.Mutex{}

	if gEnableInvariantsCheck && check != nil {
		l = &checker{
			locker: l,
			check:  check,
		}
	}

	if gEnableDebugMessages {
		l = &debugger{
			locker: l,
			name:   name,
		}
	}

	return l
}

type checker struct {
	locker Locker
	check  func()
}

func (c *checker) Lock() {
	c.locker.Lock()
	c.check()
}

func (c *checker) TryLock() bool {
	if !c.locker.TryLock() {
		return false
	}
	c.check()
	return true
}

func (c *checker) Unlock() {
	c.check()
	c.locker.Unlock()
}

type debugger struct {
	locker Locker
	name   string
	holder string
	timer  *time.Timer
}

func (d *debugger) acquired() {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false /* all */)
	d.holder = string(buf[:n])

	d.timer = time.AfterFunc(heldTooLong, func() {
		logger.Tracef("debug_mutex: Potential dead lock detected for a lock %q held by: %v\n", d.name, d.holder)
	})
}

func (d *debugger) Lock() {
	d.locker.Lock()
	d.acquired()
}

func (d *debugger) TryLock() bool {
	if !d.locker.TryLock() {
		return false
	}
	d.acquired()
	return true
}

func (d *debugger) Unlock() {
	d.holder = ""
	d.timer.Stop()
	d.timer = nil

	d.locker.Unlock()
}
