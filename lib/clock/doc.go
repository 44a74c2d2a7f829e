// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that deadline
// and retry logic can be tested without sleeping.
//
// Production code holds a [Clock] obtained from [Real]. Tests use
// [Fake], whose time only moves when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go waitForServer(c)
//	c.WaitForTimers(1)          // the goroutine has armed its deadline
//	c.Advance(10 * time.Second) // fire it
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it. Stopped timers do not count as
// pending, so a goroutine that stops one timer and arms another can be
// followed precisely.
package clock
