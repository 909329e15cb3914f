// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package executor

import (
	"context"
	"time"

	"taskmesh/pkg/types"
)

// Delay computes the wait before retry number attempt (0-based: the delay
// before the first retry is attempt 0).
//
//	exponential: initial * 2^attempt
//	linear:      initial * (attempt + 1)
//	constant:    initial
//
// A positive maxDelay caps the result.
func Delay(strategy types.BackoffStrategy, initial, maxDelay time.Duration, attempt int) time.Duration {
	var d time.Duration
	switch strategy {
	case types.BackoffExponential:
		d = initial << uint(attempt)
	case types.BackoffLinear:
		d = initial * time.Duration(attempt+1)
	default:
		d = initial
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// wait blocks for d or until the context is done, whichever comes first.
// The wait holds no locks; it is a pure suspension point.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
