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

package locker

import (
	"runtime"
	"sync"
	"time"

	"github.com/lzfs/lzfs/internal/logger"
)

type RWLocker interface {
	sync.Locker
	TryLock() bool
	RLock()
	RUnlock()
}

// NewRW returns a RW locker with potential capability for debugging. check
// may be nil.
//
// Note: The deadlock detection is done only for writer lock and not for reader
// lock.
func NewRW(name string, check func()) RWLocker {
	var l RWLocker = &sync.RWMutex{}

	if gEnableInvariantsCheck && check != nil {
		l = &rwChecker{
			locker: l,
			check:  check,
		}
	}

	if gEnableDebugMessages {
		l = &rwDebugger{
			locker: l,
			name:   name,
		}
	}

	return l
}

type rwChecker struct {
	locker RWLocker
	check  func()
}

func (c *rwChecker) Lock() {
	c.locker.Lock()
	c.check()
}

func (c *rwChecker) Unlock() {
	c.check()
	c.locker.Unlock()
}

func (c *rwChecker) TryLock() bool {
	if !c.locker.TryLock() {
		return false
	}
	c.check()
	return true
}

func (c *rwChecker) RLock() {
	c.locker.RLock()
	c.check()
}

func (c *rwChecker) RUnlock() {
	c.check()
	c.locker.RUnlock()
}

// Note: rwDebugger doesn't check potential deadlock in case of read only lock as
// doing that is not straight forward because multiple readers can acquire locks
// at the same time and that needs keeping track of every different lock.
type rwDebugger struct {
	locker RWLocker
	name   string
	holder string
	timer  *time.Timer
}

func (d *rwDebugger) Lock() {
	d.locker.Lock()
	d.acquired()
}

func (d *rwDebugger) TryLock() bool {
	if !d.locker.TryLock() {
		return false
	}
	d.acquired()
	return true
}

func (d *rwDebugger) acquired() {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false /* all */)
	d.holder = string(buf[:n])

	d.timer = time.AfterFunc(heldTooLong, func() {
		logger.Tracef("debug_mutex: Potential dead lock detected for a lock %q held by: %v\n", d.name, d.holder)
	})
}

func (d *rwDebugger) Unlock() {
	d.holder = ""
	d.timer.Stop()
	d.timer = nil

	d.locker.Unlock()
}

func (d *rwDebugger) RLock() {
	d.locker.RLock()
}

func (d *rwDebugger) RUnlock() {
	d.locker.RUnlock()
}
