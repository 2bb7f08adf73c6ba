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

// Package ratelimit throttles the calls an adaptation layer makes into a
// storage engine.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// A simple interface for limiting the rate of some event. Unlike TokenBucket,
// does not allow the user control over what time means.
//
// Safe for concurrent access.
type Throttle interface {
	// Return the maximum number of tokens that can be requested in a call to
	// Wait.
	Capacity() (c uint64)

	// Acquire the given number of tokens from the underlying token bucket, then
	// sleep until when it says to wake. If the context is cancelled before then,
	// return early with an error.
	//
	// REQUIRES: tokens <= capacity
	Wait(ctx context.Context, tokens uint64) (err error)
}

type limiter struct {
	*rate.Limiter
}

func NewThrottle(
	rateHz float64,
	capacity int) (t Throttle) {
	typed := &limiter{rate.NewLimiter(rate.Limit(rateHz), capacity)}
	t = typed
	return
}

func (l *limiter) Capacity() (c uint64) {
	return uint64(l.Burst())
}

func (l *limiter) Wait(
	ctx context.Context,
	tokens uint64) (err error) {
	return l.WaitN(ctx, int(tokens))
}

// ChooseLimiterCapacity returns a token bucket capacity that keeps the
// observed rate within 2% of rateHz over any window of the given size.
func ChooseLimiterCapacity(
	rateHz float64,
	window time.Duration) (capacity int, err error) {
	if rateHz <= 0 || math.IsInf(rateHz, 0) || rateHz >= math.MaxFloat64 {
		err = fmt.Errorf("Illegal rate: %f", rateHz)
		return
	}

	if window <= 0 {
		err = fmt.Errorf("Illegal window: %v", window)
		return
	}

	// Allowing C <= W*B/N tokens to accumulate bounds the overshoot within any
	// window W to a factor of (N+1)/N.
	const N = 50

	w := float64(window) / float64(time.Second)
	capacityFloat := math.Floor(w * rateHz / N)
	if !(capacityFloat >= 1 && capacityFloat < float64(math.MaxInt32)) {
		err = fmt.Errorf(
			"Can't use a token bucket to limit to %f Hz over a window of %v (result is a capacity of %f)",
			rateHz,
			window,
			capacityFloat)
		return
	}

	capacity = int(capacityFloat)
	return
}
