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

// Package logbackend provides the append-only record store abstraction
// that a typed log is built on, plus the two required implementations:
// an in-memory backend and a file-backed one.
package logbackend

import (
	"context"

	"github.com/brson/blocksy3/internal/types"
)

// Backend is an append-only, value-typed record store parametrized
// by an opaque, already-serialised record body.
type Backend interface {
	// IsEmpty reports whether the backend holds any records.
	IsEmpty(ctx context.Context) (bool, error)

	// Append atomically writes one framed record and returns its address.
	Append(ctx context.Context, body []byte) (types.Address, error)

	// ReadAt returns the record at addr and the address immediately
	// following it. ok is false, with err nil, when addr names no
	// record (clean or crash-truncated end of log).
	ReadAt(ctx context.Context, addr types.Address) (body []byte, next types.Address, ok bool, err error)

	// Sync is a durability barrier: once it returns, every record
	// appended so far is persistent.
	Sync(ctx context.Context) error

	// Close releases any resources (file handles, goroutines) the
	// backend holds. It does not delete durable data.
	Close(ctx context.Context) error
}
