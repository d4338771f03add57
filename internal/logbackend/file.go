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

	"github.com/brson/blocksy3/internal/frame"
	"github.com/brson/blocksy3/internal/types"
)

// File is a Backend persisting frames to a single append-only file.
// All actual I/O for a given File runs on its worker's dedicated
// goroutine; the worker may be shared across many Files so that one
// process has one I/O goroutine regardless of tree count.
type File struct {
	worker *FileWorker
	path   string

	mu   sync.Mutex
	size int64 // cached length of the file, the next append offset
}

// OpenFile opens (creating if necessary) the frame log at path, using
// worker for all underlying I/O. size is recovered from the existing
// file so append offsets continue correctly across a restart.
func OpenFile(ctx context.Context, worker *FileWorker, path string) (*File, error) {
	f := &File{worker: worker, path: path}
	var statErr error
	err := worker.run(ctx, func() {
		af, err := worker.openAppend(path)
		if err != nil {
			statErr = err
			return
		}
		fi, err := af.Stat()
		if err != nil {
			statErr = fmt.Errorf("stat %q: %w", path, err)
			return
		}
		f.size = fi.Size()
	})
	if err != nil {
		return nil, err
	}
	if statErr != nil {
		return nil, statErr
	}
	return f, nil
}

func (f *File) IsEmpty(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size == 0, nil
}

func (f *File) Append(ctx context.Context, body []byte) (types.Address, error) {
	encoded := frame.Encode(body)

	f.mu.Lock()
	defer f.mu.Unlock()

	offset := f.size
	var writeErr error
	err := f.worker.run(ctx, func() {
		af, err := f.worker.openAppend(f.path)
		if err != nil {
			writeErr = err
			return
		}
		if _, err := af.Write(encoded); err != nil {
			writeErr = fmt.Errorf("appending to %q: %w", f.path, err)
			return
		}
	})
	if err != nil {
		return 0, err
	}
	if writeErr != nil {
		return 0, writeErr
	}
	f.size += int64(len(encoded))
	return types.Address(offset), nil
}

func (f *File) ReadAt(ctx context.Context, addr types.Address) (body []byte, next types.Address, ok bool, err error) {
	f.mu.Lock()
	size := f.size
	f.mu.Unlock()

	var (
		gotBody []byte
		gotNext int64
		gotOK   bool
		gotErr  error
	)
	runErr := f.worker.run(ctx, func() {
		rf, e := f.worker.openRead(f.path)
		if e != nil {
			gotErr = e
			return
		}
		gotBody, gotNext, gotOK, gotErr = frame.Decode(rf, int64(addr), size)
	})
	if runErr != nil {
		return nil, addr, false, runErr
	}
	if gotErr != nil {
		return nil, addr, false, gotErr
	}
	return gotBody, types.Address(gotNext), gotOK, nil
}

func (f *File) Sync(ctx context.Context) error {
	var syncErr error
	err := f.worker.run(ctx, func() {
		af, e := f.worker.openAppend(f.path)
		if e != nil {
			syncErr = e
			return
		}
		if e := af.Sync(); e != nil {
			syncErr = fmt.Errorf("syncing %q: %w", f.path, e)
		}
	})
	if err != nil {
		return err
	}
	return syncErr
}

// Close evicts this file's cached handles, syncing and closing them.
// The FileWorker itself keeps running: other trees may still be using
// it. Shutting down the worker goroutine is FileWorker.Close's job.
func (f *File) Close(ctx context.Context) error {
	return f.worker.run(ctx, func() {
		f.worker.appendHandles.Remove(f.path)
		f.worker.readHandles.Remove(f.path)
	})
}

// RemoveFile deletes the file at path from disk, succeeding if path
// does not exist.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", path, err)
	}
	return nil
}
