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

package blocksy3

import (
	"context"
	"errors"

	"github.com/brson/blocksy3/internal/tree"
	"github.com/brson/blocksy3/internal/types"
)

// WriteTree issues writes against one tree within an open WriteBatch.
type WriteTree struct {
	wb *WriteBatch
	w  *tree.BatchWriter
}

// Write records that key maps to value as of this batch's eventual
// commit.
func (wt *WriteTree) Write(ctx context.Context, key, value []byte) error {
	if err := wt.wb.checkUsable(); err != nil {
		return err
	}
	if err := wt.w.Write(ctx, types.Key(key), types.Value(value)); err != nil {
		wt.wb.poisoned = err
		return err
	}
	return nil
}

// Delete records that key has no value as of this batch's eventual
// commit.
func (wt *WriteTree) Delete(ctx context.Context, key []byte) error {
	if err := wt.wb.checkUsable(); err != nil {
		return err
	}
	if err := wt.w.Delete(ctx, types.Key(key)); err != nil {
		wt.wb.poisoned = err
		return err
	}
	return nil
}

// DeleteRange records that every key in the half-open range
// [start, end) has no value as of this batch's eventual commit. It
// returns ErrInvalidRange if end sorts before start.
func (wt *WriteTree) DeleteRange(ctx context.Context, start, end []byte) error {
	if err := wt.wb.checkUsable(); err != nil {
		return err
	}
	if err := wt.w.DeleteRange(ctx, types.Key(start), types.Key(end)); err != nil {
		if !errors.Is(err, ErrInvalidRange) {
			wt.wb.poisoned = err
		}
		return err
	}
	return nil
}

// ReadView is a snapshot of every tree as of a fixed point in the
// commit sequence, captured by Db.ReadView.
type ReadView struct {
	db          *Db
	commitLimit types.Commit
}

// Tree returns a handle for reading the named tree as of this view's
// commit limit.
func (rv *ReadView) Tree(name string) (*ReadTree, error) {
	t, err := rv.db.tree(name)
	if err != nil {
		return nil, err
	}
	return &ReadTree{rv: rv, tree: t}, nil
}

// ReadTree reads one tree as of its ReadView's commit limit.
type ReadTree struct {
	rv   *ReadView
	tree *tree.Tree
}

// Read returns key's value as of the view's commit limit, or
// ok == false if key has no value then.
func (rt *ReadTree) Read(ctx context.Context, key []byte) (value []byte, ok bool, err error) {
	v, ok, err := rt.tree.Read(ctx, rt.rv.commitLimit, types.Key(key))
	if err != nil || !ok {
		return nil, ok, err
	}
	return []byte(v), true, nil
}

// Cursor returns a new, unpositioned cursor over this tree as of the
// view's commit limit.
func (rt *ReadTree) Cursor(ctx context.Context) *Cursor {
	return &Cursor{inner: rt.tree.Cursor(ctx, rt.rv.commitLimit)}
}

// Cursor walks a tree's committed keys in order, as of a fixed commit
// limit.
type Cursor struct {
	inner *tree.Cursor
}

// Valid reports whether the cursor is positioned on a key.
func (c *Cursor) Valid() bool { return c.inner.Valid() }

// Key returns the current position's key. Valid must be true.
func (c *Cursor) Key() []byte { return []byte(c.inner.Key()) }

// Value returns the current position's value, read from the log on
// first access after a move.
func (c *Cursor) Value() ([]byte, error) {
	v, err := c.inner.Value()
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

// SeekFirst positions the cursor at the smallest committed key.
func (c *Cursor) SeekFirst() { c.inner.SeekFirst() }

// SeekLast positions the cursor at the largest committed key.
func (c *Cursor) SeekLast() { c.inner.SeekLast() }

// SeekKey positions the cursor at the smallest committed key >= key.
func (c *Cursor) SeekKey(key []byte) { c.inner.SeekKey(types.Key(key)) }

// SeekKeyRev positions the cursor at the largest committed key <= key.
func (c *Cursor) SeekKeyRev(key []byte) { c.inner.SeekKeyRev(types.Key(key)) }

// Next advances the cursor to the next larger committed key.
func (c *Cursor) Next() { c.inner.Next() }

// Prev moves the cursor to the next smaller committed key.
func (c *Cursor) Prev() { c.inner.Prev() }
