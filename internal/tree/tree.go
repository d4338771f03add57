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

// Package tree binds one typed log, one batch player, and one index
// into the unit the database commits across: a named, independently
// ordered key-value map sharing the database's commit clock.
package tree

import (
	"context"
	"fmt"

	"github.com/brson/blocksy3/internal/batchplayer"
	"github.com/brson/blocksy3/internal/command"
	"github.com/brson/blocksy3/internal/index"
	"github.com/brson/blocksy3/internal/logbackend"
	"github.com/brson/blocksy3/internal/typedlog"
	"github.com/brson/blocksy3/internal/types"
	"github.com/brson/blocksy3/internal/xerrors"
	"k8s.io/klog/v2"
)

// Tree is one independently ordered key-value map sharing the
// database's commit clock with its siblings.
type Tree struct {
	Name   string
	log    *typedlog.Log[command.Command]
	player *batchplayer.Player
	index  *index.Index
}

// Open wraps backend as a tree's typed log and builds its (initially
// empty) in-memory batch player and index. Populating the index from
// prior log contents is the loader's job (see package loader), not
// this constructor's.
func Open(name string, backend logbackend.Backend) *Tree {
	return &Tree{
		Name:   name,
		log:    typedlog.New(backend, command.Encode, command.Decode),
		player: batchplayer.New(),
		index:  index.New(),
	}
}

func (t *Tree) Sync(ctx context.Context) error {
	return t.log.Sync(ctx)
}

func (t *Tree) Close(ctx context.Context) error {
	return t.log.Close(ctx)
}

// appendAndRecord appends cmd to the log and mirrors it into the
// batch player, in that order: record only ever sees commands that
// are already durable-enough to be found again by a later read_at.
func (t *Tree) appendAndRecord(ctx context.Context, cmd command.Command) error {
	addr, err := t.log.Append(ctx, cmd)
	if err != nil {
		return fmt.Errorf("tree %q: appending %v: %w", t.Name, cmd.Kind, err)
	}
	if err := t.player.Record(cmd, addr); err != nil {
		return fmt.Errorf("tree %q: recording %v: %w", t.Name, cmd.Kind, err)
	}
	return nil
}

// BatchWriter issues commands for one batch into this tree.
type BatchWriter struct {
	tree  *Tree
	batch types.Batch
}

// Batch opens a writer for batch against this tree, appending its
// Open record.
func (t *Tree) Batch(ctx context.Context, batch types.Batch) (*BatchWriter, error) {
	bw := &BatchWriter{tree: t, batch: batch}
	if err := t.appendAndRecord(ctx, command.Command{Kind: command.Open, Batch: batch}); err != nil {
		return nil, err
	}
	return bw, nil
}

func (w *BatchWriter) Write(ctx context.Context, key types.Key, value types.Value) error {
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.Write, Batch: w.batch, Key: key, Value: value})
}

func (w *BatchWriter) Delete(ctx context.Context, key types.Key) error {
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.Delete, Batch: w.batch, Key: key})
}

func (w *BatchWriter) DeleteRange(ctx context.Context, start, end types.Key) error {
	if end.Less(start) {
		return fmt.Errorf("tree %q: delete_range(%q, %q): %w", w.tree.Name, start, end, xerrors.ErrInvalidRange)
	}
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.DeleteRange, Batch: w.batch, StartKey: start, EndKey: end})
}

func (w *BatchWriter) PushSavePoint(ctx context.Context) error {
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.PushSavePoint, Batch: w.batch})
}

func (w *BatchWriter) PopSavePoint(ctx context.Context) error {
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.PopSavePoint, Batch: w.batch})
}

func (w *BatchWriter) RollbackSavePoint(ctx context.Context) error {
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.RollbackSavePoint, Batch: w.batch})
}

// ReadyCommit appends this batch's commit terminator, declaring it
// ready to be promoted into the index under a commit number the
// database has not yet allocated.
func (w *BatchWriter) ReadyCommit(ctx context.Context, bc types.BatchCommit) error {
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.ReadyCommit, Batch: w.batch, BatchCommit: bc})
}

// AbortCommit appends this batch's abort terminator. No index
// promotion follows.
func (w *BatchWriter) AbortCommit(ctx context.Context, bc types.BatchCommit) error {
	return w.tree.appendAndRecord(ctx, command.Command{Kind: command.AbortCommit, Batch: w.batch, BatchCommit: bc})
}

// Close appends this batch's Close record. Failures are logged, never
// propagated; the caller that wants to guarantee the in-memory
// recording is gone regardless should also call EmergencyClose.
func (w *BatchWriter) Close(ctx context.Context) {
	if err := w.tree.appendAndRecord(ctx, command.Command{Kind: command.Close, Batch: w.batch}); err != nil {
		klog.Errorf("tree %q: closing batch %d: %v", w.tree.Name, w.batch, err)
	}
}

// EmergencyClose drops this batch's in-memory recording without
// appending a Close record, for use when an earlier append already
// failed and a normal Close cannot be trusted to succeed either.
func (w *BatchWriter) EmergencyClose() {
	w.tree.player.EmergencyClose(w.batch)
}

// CommitToIndex is the infallible in-memory step that promotes bc's
// recorded writes into the index under commit. It must only be called
// while holding the database's commit lock, after the master commit
// log record for (batch, bc, commit) is durable.
func (w *BatchWriter) CommitToIndex(ctx context.Context, bc types.BatchCommit, commit types.Commit) {
	w.tree.commitToIndex(w.batch, bc, commit)
}

func (t *Tree) commitToIndex(batch types.Batch, bc types.BatchCommit, commit types.Commit) {
	ops, err := t.player.Replay(batch, bc)
	if err != nil {
		// The commit protocol guarantees ready_commit was recorded
		// before this call; a missing terminator here is a logic
		// error in the caller, not a recoverable condition.
		panic(fmt.Errorf("tree %q: commit_to_index(%d, %d): %w", t.Name, batch, commit, err))
	}

	w := t.index.Writer(commit)
	defer w.Close()
	for i, op := range ops {
		idx := index.BatchIndex(i)
		switch op.Kind {
		case batchplayer.OpWrite:
			w.Write(op.Key, op.Addr, idx)
		case batchplayer.OpDelete:
			w.Delete(op.Key, op.Addr, idx)
		case batchplayer.OpDeleteRange:
			w.DeleteRange(op.StartKey, op.EndKey, idx)
		}
	}
}

// Read resolves key as of commitLimit: an index hit names a log
// address, which must hold a Write record.
func (t *Tree) Read(ctx context.Context, commitLimit types.Commit, key types.Key) (types.Value, bool, error) {
	addr, ok := t.index.Read(commitLimit, key)
	if !ok {
		return nil, false, nil
	}
	return t.readValueAt(ctx, addr)
}

func (t *Tree) readValueAt(ctx context.Context, addr types.Address) (types.Value, bool, error) {
	cmd, _, ok, err := t.log.ReadAt(ctx, addr)
	if err != nil {
		return nil, false, fmt.Errorf("tree %q: reading log at %d: %w", t.Name, addr, err)
	}
	if !ok {
		return nil, false, xerrors.WrapCorrupt(xerrors.ErrNoRecord, "tree %q: index names address %d, which holds no record", t.Name, addr)
	}
	if cmd.Kind != command.Write {
		return nil, false, xerrors.WrapCorrupt(nil, "tree %q: index names address %d, which holds a %v record, not Write", t.Name, addr, cmd.Kind)
	}
	return cmd.Value, true, nil
}

// Cursor is a positioned, movable view over the tree's keys as of a
// fixed commit_limit, with the current key's value loaded lazily and
// cached until the cursor moves.
type Cursor struct {
	tree        *Tree
	ctx         context.Context
	inner       *index.Cursor
	cachedValue types.Value
	haveValue   bool
}

// Cursor returns a new, unpositioned cursor bound to commitLimit.
func (t *Tree) Cursor(ctx context.Context, commitLimit types.Commit) *Cursor {
	return &Cursor{tree: t, ctx: ctx, inner: t.index.Cursor(commitLimit)}
}

func (c *Cursor) Valid() bool { return c.inner.Valid() }

func (c *Cursor) Key() types.Key { return c.inner.Key() }

// Value returns the current position's value, reading the log on
// first access after a move and caching the result until the cursor
// moves again.
func (c *Cursor) Value() (types.Value, error) {
	if c.haveValue {
		return c.cachedValue, nil
	}
	v, ok, err := c.tree.readValueAt(c.ctx, c.inner.Address())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.WrapCorrupt(xerrors.ErrNoRecord, "tree %q: cursor address %d holds no record", c.tree.Name, c.inner.Address())
	}
	c.cachedValue = v
	c.haveValue = true
	return v, nil
}

func (c *Cursor) clearCache() {
	c.cachedValue = nil
	c.haveValue = false
}

func (c *Cursor) SeekFirst() {
	c.inner.SeekFirst()
	c.clearCache()
}

func (c *Cursor) SeekLast() {
	c.inner.SeekLast()
	c.clearCache()
}

func (c *Cursor) SeekKey(key types.Key) {
	c.inner.SeekKey(key)
	c.clearCache()
}

func (c *Cursor) SeekKeyRev(key types.Key) {
	c.inner.SeekKeyRev(key)
	c.clearCache()
}

func (c *Cursor) Next() {
	c.inner.Next()
	c.clearCache()
}

func (c *Cursor) Prev() {
	c.inner.Prev()
	c.clearCache()
}
