// Copyright 2024 The Tessera authors. All Rights Reserved.
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

// Package synccoalescer batches concurrent Sync requests arriving
// within a configured window into a single underlying fsync, so that
// a burst of committers each paying for durability doesn't also each
// pay for a separate disk barrier.
package synccoalescer

import (
	"context"
	"sync"
	"time"

	"github.com/globocom/go-buffer"
)

// SyncFunc performs the real, expensive sync. It is called at most
// once per coalesced window's worth of waiters.
type SyncFunc func(ctx context.Context) error

// Coalescer merges concurrent Sync calls that land within the same
// window into one call to the underlying SyncFunc.
type Coalescer struct {
	buf  *buffer.Buffer
	work chan []*waiter
	sync SyncFunc
}

// New starts a Coalescer that flushes whenever window has elapsed
// since the oldest pending waiter, or maxWaiters have piled up,
// whichever comes first. It runs until ctx is done.
func New(ctx context.Context, window time.Duration, maxWaiters uint, sync SyncFunc) *Coalescer {
	c := &Coalescer{
		work: make(chan []*waiter, 1),
		sync: sync,
	}

	toWork := func(items []interface{}) {
		waiters := make([]*waiter, len(items))
		for i, item := range items {
			waiters[i] = item.(*waiter)
		}
		c.work <- waiters
	}

	c.buf = buffer.New(
		buffer.WithSize(maxWaiters),
		buffer.WithFlushInterval(window),
		buffer.WithFlusher(buffer.FlusherFunc(toWork)),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case waiters := <-c.work:
				c.doFlush(ctx, waiters)
			}
		}
	}()

	return c
}

// Run enqueues a Sync request and blocks until the window it lands in
// has been flushed, returning that flush's result.
func (c *Coalescer) Run(ctx context.Context) error {
	w := newWaiter()
	if err := c.buf.Push(w); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-w.done:
		return err
	}
}

func (c *Coalescer) doFlush(ctx context.Context, waiters []*waiter) {
	err := c.sync(ctx)
	for _, w := range waiters {
		w.assign(err)
	}
}

// waiter is one caller's pending Sync request.
type waiter struct {
	done chan error
	once sync.Once
}

func newWaiter() *waiter {
	return &waiter{done: make(chan error, 1)}
}

func (w *waiter) assign(err error) {
	w.once.Do(func() {
		w.done <- err
	})
}
