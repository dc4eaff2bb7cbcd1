// Copyright 2023 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ddltimer provides [DeadlineTimer], the deadline bookkeeping behind the SetDeadline family of methods of
// connections that are not backed by a socket.
package ddltimer

import (
	"sync"
	"time"
)

// DeadlineTimer tracks one adjustable deadline. Any number of goroutines can wait on [DeadlineTimer.Timeout] while
// another goroutine moves the deadline.
//
// DeadlineTimer is safe for concurrent use by multiple goroutines.
type DeadlineTimer struct {
	mu sync.Mutex

	ddl   time.Time
	timer *time.Timer
	// expired is closed when ddl passes. It is replaced only after it has been closed, so waiters on a pending
	// channel are carried over to the new deadline.
	expired chan struct{}
}

// New creates a DeadlineTimer with no deadline.
func New() *DeadlineTimer {
	return &DeadlineTimer{expired: make(chan struct{})}
}

// Timeout returns a channel that is closed once the current deadline passes. It blocks forever if no deadline is set.
func (d *DeadlineTimer) Timeout() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}

// Expired reports whether the current deadline has passed.
func (d *DeadlineTimer) Expired() bool {
	select {
	case <-d.Timeout():
		return true
	default:
		return false
	}
}

// SetDeadline moves the deadline to t. A zero t clears it; a t in the past expires the timer immediately.
func (d *DeadlineTimer) SetDeadline(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disarmLocked()
	d.ddl = t
	if t.IsZero() {
		return
	}
	wait := time.Until(t)
	if wait <= 0 {
		close(d.expired)
		return
	}
	// Capture the channel: the callback may run after a later SetDeadline has already replaced it.
	ch := d.expired
	d.timer = time.AfterFunc(wait, func() { close(ch) })
}

// disarmLocked cancels the pending timer and makes sure d.expired is open.
func (d *DeadlineTimer) disarmLocked() {
	if d.timer != nil {
		if !d.timer.Stop() {
			// The callback already ran or is running, so the channel is or will be closed.
			d.expired = make(chan struct{})
		}
		d.timer = nil
		return
	}
	select {
	case <-d.expired:
		d.expired = make(chan struct{})
	default:
	}
}

// Stop clears the deadline. It is equivalent to SetDeadline(time.Time{}).
func (d *DeadlineTimer) Stop() {
	d.SetDeadline(time.Time{})
}

// Deadline returns the current deadline, or the zero time if there is none.
func (d *DeadlineTimer) Deadline() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ddl
}
