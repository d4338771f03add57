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

package logbackend

import (
	"context"
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"
)

// defaultHandleCacheSize bounds the number of open file descriptors
// per direction (append, read) that the worker keeps warm.
const defaultHandleCacheSize = 64

// FileWorker serializes all file I/O for a database onto one
// dedicated goroutine, so the File backend's append/read_at/sync
// contract stays non-blocking from the caller's point of view: every
// call is handed to the worker over a channel and the caller suspends
// on a per-call completion signal. Append and read handles are cached
// per path (an LRU, so a long-lived process with many trees doesn't
// accumulate descriptors without bound) to avoid reopening files on
// every call.
type FileWorker struct {
	jobs chan func()
	done chan struct{}
	wg   sync.WaitGroup

	appendHandles *lru.Cache[string, *os.File]
	readHandles   *lru.Cache[string, *os.File]
}

// NewFileWorker starts the dedicated I/O goroutine.
func NewFileWorker() (*FileWorker, error) {
	w := &FileWorker{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}

	evict := func(path string, f *os.File) {
		if err := f.Sync(); err != nil {
			klog.Errorf("blocksy3: evicting handle for %q: sync: %v", path, err)
		}
		if err := f.Close(); err != nil {
			klog.Errorf("blocksy3: evicting handle for %q: close: %v", path, err)
		}
	}
	ah, err := lru.NewWithEvict(defaultHandleCacheSize, evict)
	if err != nil {
		return nil, fmt.Errorf("blocksy3: creating append handle cache: %w", err)
	}
	rh, err := lru.NewWithEvict(defaultHandleCacheSize, evict)
	if err != nil {
		return nil, fmt.Errorf("blocksy3: creating read handle cache: %w", err)
	}
	w.appendHandles = ah
	w.readHandles = rh

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for job := range w.jobs {
			job()
		}
		close(w.done)
	}()
	return w, nil
}

// run submits f to the worker goroutine and blocks until it has executed.
func (w *FileWorker) run(ctx context.Context, f func()) error {
	signal := make(chan struct{})
	select {
	case w.jobs <- func() { f(); close(signal) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *FileWorker) openAppend(path string) (*os.File, error) {
	if f, ok := w.appendHandles.Get(path); ok {
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %q for append: %w", path, err)
	}
	w.appendHandles.Add(path, f)
	return f, nil
}

func (w *FileWorker) openRead(path string) (*os.File, error) {
	if f, ok := w.readHandles.Get(path); ok {
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %q for read: %w", path, err)
	}
	w.readHandles.Add(path, f)
	return f, nil
}

// Close flushes and closes every cached handle and stops the worker
// goroutine. Called on process shutdown.
func (w *FileWorker) Close() error {
	var firstErr error
	done := make(chan struct{})
	w.jobs <- func() {
		for _, path := range w.appendHandles.Keys() {
			f, ok := w.appendHandles.Peek(path)
			if !ok {
				continue
			}
			if err := f.Sync(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing append handle %q: %w", path, err)
			}
			_ = f.Close()
		}
		for _, path := range w.readHandles.Keys() {
			f, ok := w.readHandles.Peek(path)
			if !ok {
				continue
			}
			_ = f.Close()
		}
		w.appendHandles.Purge()
		w.readHandles.Purge()
		close(done)
	}
	<-done
	close(w.jobs)
	w.wg.Wait()
	return firstErr
}
