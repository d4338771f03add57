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
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/brson/blocksy3/internal/tree"
	"github.com/brson/blocksy3/internal/types"
)

// WriteBatch accumulates writes against any subset of the Db's trees
// and commits them atomically across all trees it touched, or not at
// all. A WriteBatch is not safe for concurrent use; the trees within
// it may be written from multiple goroutines only if the caller
// serializes access itself.
type WriteBatch struct {
	db      *Db
	batch   types.Batch
	writers map[string]*tree.BatchWriter

	done     bool // Commit, Abort, or Close already ran
	closed   bool // Close already ran
	poisoned error
}

// Tree returns a handle for issuing writes against the named tree
// within this batch.
func (wb *WriteBatch) Tree(name string) (*WriteTree, error) {
	w, ok := wb.writers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTree, name)
	}
	return &WriteTree{wb: wb, w: w}, nil
}

func (wb *WriteBatch) checkUsable() error {
	if wb.poisoned != nil {
		return wb.poisoned
	}
	if wb.done {
		return ErrBatchClosed
	}
	return nil
}

// fanOutSequential runs f against every tree in the batch's fixed
// iteration order, stopping at the first failure: no tree may be left
// out of step with another on a batch-wide operation like a
// save-point push, so a mid-iteration failure poisons the whole
// batch rather than being retried or skipped.
func (wb *WriteBatch) fanOutSequential(f func(w *tree.BatchWriter) error) error {
	for _, name := range wb.db.treeOrder {
		if err := f(wb.writers[name]); err != nil {
			wb.poisoned = fmt.Errorf("blocksy3: batch %d: tree %q: %w", wb.batch, name, err)
			return wb.poisoned
		}
	}
	return nil
}

// PushSavePoint opens a new save point on every tree in the batch.
func (wb *WriteBatch) PushSavePoint(ctx context.Context) error {
	if err := wb.checkUsable(); err != nil {
		return err
	}
	return wb.fanOutSequential(func(w *tree.BatchWriter) error { return w.PushSavePoint(ctx) })
}

// PopSavePoint discards the innermost save point on every tree,
// keeping the ops recorded since it was opened.
func (wb *WriteBatch) PopSavePoint(ctx context.Context) error {
	if err := wb.checkUsable(); err != nil {
		return err
	}
	return wb.fanOutSequential(func(w *tree.BatchWriter) error { return w.PopSavePoint(ctx) })
}

// RollbackSavePoint discards the ops recorded since the innermost
// save point was opened, on every tree, then closes that save point.
func (wb *WriteBatch) RollbackSavePoint(ctx context.Context) error {
	if err := wb.checkUsable(); err != nil {
		return err
	}
	return wb.fanOutSequential(func(w *tree.BatchWriter) error { return w.RollbackSavePoint(ctx) })
}

// Commit runs the cross-tree two-phase commit protocol: every tree
// of the Db appends a ready_commit terminator, a single commit
// number is allocated and recorded in the master commit log, and only
// then is each tree's recording promoted into its index. A failure
// before the master commit log record leaves the batch uncommitted
// (and, on the live path, every tree best-effort aborted); a failure
// after it is unreachable, since the remaining steps are infallible.
func (wb *WriteBatch) Commit(ctx context.Context) error {
	if err := wb.checkUsable(); err != nil {
		return err
	}

	bc := types.BatchCommit(wb.db.nextBatchCommit.Add(1) - 1)

	var g errgroup.Group
	for _, name := range wb.db.treeOrder {
		name, w := name, wb.writers[name]
		g.Go(func() error {
			if err := w.ReadyCommit(ctx, bc); err != nil {
				return fmt.Errorf("tree %q: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		abortAllBestEffort(ctx, wb.db.treeOrder, wb.writers, bc)
		wb.done = true
		return fmt.Errorf("blocksy3: batch %d: ready_commit(%d): %w", wb.batch, bc, err)
	}

	wb.db.commitLock.Lock()
	defer wb.db.commitLock.Unlock()

	commit := types.Commit(wb.db.nextCommit)

	if err := wb.db.commitLog.Commit(ctx, wb.batch, bc, commit); err != nil {
		wb.done = true
		return fmt.Errorf("blocksy3: batch %d: recording commit %d: %w", wb.batch, commit, err)
	}
	wb.db.nextCommit++

	for _, name := range wb.db.treeOrder {
		wb.writers[name].CommitToIndex(ctx, bc, commit)
	}

	newLimit := uint64(commit) + 1
	if old := wb.db.viewCommitLimit.Swap(newLimit); old >= newLimit {
		panic(fmt.Errorf("blocksy3: view_commit_limit regressed: %d -> %d", old, newLimit))
	}

	wb.done = true
	return nil
}

// Abort discards this batch's recording on every tree without
// promoting anything into an index. It is safe to call even if the
// batch is poisoned by a prior save-point failure.
func (wb *WriteBatch) Abort(ctx context.Context) error {
	if wb.done {
		return ErrBatchClosed
	}
	bc := types.BatchCommit(wb.db.nextBatchCommit.Add(1) - 1)
	wb.done = true
	abortAllBestEffort(ctx, wb.db.treeOrder, wb.writers, bc)
	return nil
}

// Close appends a Close record to every tree's log, best-effort:
// failures are logged, never returned. Close should follow a call to
// Commit or Abort; calling it on a batch that did neither discards
// the batch's uncommitted writes just as Abort would, but without
// recording an abort terminator.
func (wb *WriteBatch) Close(ctx context.Context) {
	if wb.closed {
		return
	}
	wb.closed = true
	wb.done = true
	for _, name := range wb.db.treeOrder {
		w := wb.writers[name]
		w.Close(ctx)
		klog.V(2).Infof("blocksy3: batch %d: closed tree %q", wb.batch, name)
	}
}
