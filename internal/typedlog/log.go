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

// Package typedlog layers typed records over a logbackend.Backend: the
// generic record type is (de)serialized with caller-supplied codecs,
// and replay is exposed as a range-over-func iterator so both the
// commit log (consumed straight through) and per-tree logs (consumed
// incrementally, interleaved with other state) can share one
// implementation.
package typedlog

import (
	"context"
	"fmt"
	"iter"

	"github.com/brson/blocksy3/internal/logbackend"
	"github.com/brson/blocksy3/internal/types"
)

// Log is an append-only sequence of C records, persisted through a
// logbackend.Backend.
type Log[C any] struct {
	backend logbackend.Backend
	encode  func(C) ([]byte, error)
	decode  func([]byte) (C, error)
}

// New wraps backend with the given record codec.
func New[C any](backend logbackend.Backend, encode func(C) ([]byte, error), decode func([]byte) (C, error)) *Log[C] {
	return &Log[C]{backend: backend, encode: encode, decode: decode}
}

func (l *Log[C]) IsEmpty(ctx context.Context) (bool, error) {
	return l.backend.IsEmpty(ctx)
}

// Append encodes and appends one record, returning its address.
func (l *Log[C]) Append(ctx context.Context, rec C) (types.Address, error) {
	body, err := l.encode(rec)
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	addr, err := l.backend.Append(ctx, body)
	if err != nil {
		return 0, fmt.Errorf("appending record: %w", err)
	}
	return addr, nil
}

// ReadAt decodes the record at addr and the address of the one after it.
func (l *Log[C]) ReadAt(ctx context.Context, addr types.Address) (rec C, next types.Address, ok bool, err error) {
	body, next, ok, err := l.backend.ReadAt(ctx, addr)
	if err != nil || !ok {
		var zero C
		return zero, next, ok, err
	}
	rec, err = l.decode(body)
	if err != nil {
		var zero C
		return zero, addr, false, fmt.Errorf("decoding record at %d: %w", addr, err)
	}
	return rec, next, true, nil
}

func (l *Log[C]) Sync(ctx context.Context) error {
	return l.backend.Sync(ctx)
}

func (l *Log[C]) Close(ctx context.Context) error {
	return l.backend.Close(ctx)
}

// Entry is one record produced by Replay, paired with its address and
// the address of the record following it.
type Entry[C any] struct {
	Addr types.Address
	Next types.Address
	Rec  C
}

// Replay walks every record in the log from the start, in order. The
// sequence stops, yielding a final error, on the first decode or I/O
// failure; it stops cleanly, with no further yields, at a clean or
// crash-truncated end of log.
func (l *Log[C]) Replay(ctx context.Context) iter.Seq2[Entry[C], error] {
	return func(yield func(Entry[C], error) bool) {
		var addr types.Address
		for {
			rec, next, ok, err := l.ReadAt(ctx, addr)
			if err != nil {
				yield(Entry[C]{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(Entry[C]{Addr: addr, Next: next, Rec: rec}, nil) {
				return
			}
			addr = next
		}
	}
}

// Puller is a resumable handle on a Replay sequence, for callers that
// need to interleave log consumption with other work (per-tree replay
// during recovery, which must stop as soon as a batch's commit
// terminator is found and resume later for the next batch).
type Puller[C any] struct {
	next func() (Entry[C], error, bool)
	stop func()
}

// NewPuller starts a pull-based replay over l.
func NewPuller[C any](ctx context.Context, l *Log[C]) *Puller[C] {
	next, stop := iter.Pull2(l.Replay(ctx))
	return &Puller[C]{next: next, stop: stop}
}

// Next returns the next entry, or ok=false at end of log. err is set
// only when the underlying replay failed; in that case ok is also
// false.
func (p *Puller[C]) Next() (entry Entry[C], err error, ok bool) {
	e, err, ok := p.next()
	if !ok {
		return Entry[C]{}, nil, false
	}
	if err != nil {
		return Entry[C]{}, err, false
	}
	return e, nil, true
}

// Stop releases the resources held by the underlying iterator. Safe
// to call more than once.
func (p *Puller[C]) Stop() {
	p.stop()
}
