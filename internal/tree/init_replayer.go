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

package tree

import (
	"context"

	"github.com/brson/blocksy3/internal/command"
	"github.com/brson/blocksy3/internal/typedlog"
	"github.com/brson/blocksy3/internal/types"
	"github.com/brson/blocksy3/internal/xerrors"
)

type batchCommitKey struct {
	batch types.Batch
	bc    types.BatchCommit
}

// InitReplayer drives this tree's log stream forward, under the
// master commit log's direction, to reconstruct the tree's batch
// player and index state on startup.
type InitReplayer struct {
	tree   *Tree
	puller *typedlog.Puller[command.Command]

	haveMaxBatch   bool
	maxBatch       types.Batch
	haveMaxBC      bool
	maxBatchCommit types.BatchCommit

	// terminators recorded for a (batch, batch_commit) whose matching
	// CommitRecord has not yet been reached by the loader.
	seen map[batchCommitKey]bool // value: true => ReadyCommit, false => AbortCommit
}

// InitReplayer starts a pull-based replay over t's log.
func (t *Tree) InitReplayer(ctx context.Context) *InitReplayer {
	return &InitReplayer{
		tree:   t,
		puller: typedlog.NewPuller(ctx, t.log),
		seen:   make(map[batchCommitKey]bool),
	}
}

func (r *InitReplayer) observe(cmd command.Command) {
	if cmd.Batch > r.maxBatch || !r.haveMaxBatch {
		r.maxBatch = cmd.Batch
		r.haveMaxBatch = true
	}
	if cmd.Kind == command.ReadyCommit || cmd.Kind == command.AbortCommit {
		if cmd.BatchCommit > r.maxBatchCommit || !r.haveMaxBC {
			r.maxBatchCommit = cmd.BatchCommit
			r.haveMaxBC = true
		}
	}
}

// ReplayCommit processes one master commit record against this tree:
// it either resolves an already-seen terminator, or pulls further log
// records until it finds the terminator matching (batch, bc),
// stashing any mismatched terminators it passes along the way for a
// later commit record to resolve.
func (r *InitReplayer) ReplayCommit(ctx context.Context, batch types.Batch, bc types.BatchCommit, commit types.Commit) error {
	target := batchCommitKey{batch: batch, bc: bc}

	if ready, ok := r.seen[target]; ok {
		delete(r.seen, target)
		if ready {
			r.tree.commitToIndex(batch, bc, commit)
		}
		return nil
	}

	for {
		entry, err, ok := r.puller.Next()
		if err != nil {
			return xerrors.WrapCorrupt(err, "tree %q: replaying log during recovery", r.tree.Name)
		}
		if !ok {
			return xerrors.WrapCorrupt(xerrors.ErrUnterminatedReplay, "tree %q: no terminator found for batch %d, batch_commit %d", r.tree.Name, batch, bc)
		}

		cmd := entry.Rec
		r.observe(cmd)
		if err := r.tree.player.Record(cmd, entry.Addr); err != nil {
			return xerrors.WrapCorrupt(err, "tree %q: replaying command %v during recovery", r.tree.Name, cmd.Kind)
		}

		if cmd.Kind != command.ReadyCommit && cmd.Kind != command.AbortCommit {
			continue
		}

		key := batchCommitKey{batch: cmd.Batch, bc: cmd.BatchCommit}
		if key != target {
			if _, dup := r.seen[key]; dup {
				return xerrors.Corruptf("tree %q: duplicate commit terminator for batch %d, batch_commit %d", r.tree.Name, cmd.Batch, cmd.BatchCommit)
			}
			r.seen[key] = cmd.Kind == command.ReadyCommit
			continue
		}

		if cmd.Kind == command.ReadyCommit {
			r.tree.commitToIndex(batch, bc, commit)
		}
		return nil
	}
}

// DrainRest consumes whatever remains of the tree's log after the
// master commit log has been exhausted, so max_batch/max_batch_commit
// reflect every record on disk. Any batches left open, or terminators
// left unresolved in the seen set, are benign: they describe writes
// that never reached a durable commit record.
func (r *InitReplayer) DrainRest(ctx context.Context) error {
	for {
		entry, err, ok := r.puller.Next()
		if err != nil {
			return xerrors.WrapCorrupt(err, "tree %q: draining log during recovery", r.tree.Name)
		}
		if !ok {
			return nil
		}
		cmd := entry.Rec
		r.observe(cmd)
		if err := r.tree.player.Record(cmd, entry.Addr); err != nil {
			return xerrors.WrapCorrupt(err, "tree %q: draining command %v during recovery", r.tree.Name, cmd.Kind)
		}
	}
}

// Close releases the underlying puller's resources.
func (r *InitReplayer) Close() {
	r.puller.Stop()
}

// MaxBatch returns the largest Batch seen in this tree's log, if any.
func (r *InitReplayer) MaxBatch() (types.Batch, bool) {
	return r.maxBatch, r.haveMaxBatch
}

// MaxBatchCommit returns the largest BatchCommit seen in this tree's
// log, if any.
func (r *InitReplayer) MaxBatchCommit() (types.BatchCommit, bool) {
	return r.maxBatchCommit, r.haveMaxBC
}
