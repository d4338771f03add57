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

// Package types holds the dense identifier and byte-string types shared
// across every layer of blocksy3, kept dependency-free so that every
// other internal package can import it without risk of a cycle.
package types

// Batch identifies an open write batch. Allocated on batch creation.
type Batch uint64

// BatchCommit identifies a single commit attempt of a batch.
type BatchCommit uint64

// Commit is the database-wide monotonic commit clock.
type Commit uint64

// Address is an opaque position in a log backend, produced by Append
// and consumed by ReadAt. Its meaning (byte offset, slice index, ...)
// is private to the backend that produced it.
type Address uint64

// Key is an opaque, totally (unsigned-lexicographically) ordered byte string.
type Key []byte

// Value is an opaque byte string.
type Value []byte

// Clone returns a copy of k that does not alias the caller's backing array.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// Clone returns a copy of v that does not alias the caller's backing array.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	c := make(Value, len(v))
	copy(c, v)
	return c
}

// Less reports whether k sorts before o under unsigned byte-lexicographic order.
func (k Key) Less(o Key) bool {
	return string(k) < string(o)
}
