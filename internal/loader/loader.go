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

// Package loader drives every tree's InitReplayer from the master
// commit log on startup, reconstructing each tree's batch player and
// index state and returning the counters a database resumes from.
package loader

import (
	"context"
	"fmt"

	"github.com/brson/blocksy3/internal/commitlog"
	"github.com/brson/blocksy3/internal/tree"
	"github.com/brson/blocksy3/internal/types"
	"github.com/brson/blocksy3/internal/xerrors"
)

// Result is the set of counters a database resumes from after recovery.
type Result struct {
	NextBatch       types.Batch
	NextBatchCommit types.BatchCommit
	NextCommit      types.Commit
	ViewCommitLimit types.Commit
}

// Load replays log, the master commit log, against trees, in order,
// to reconstruct every tree's index and batch player, and returns the
// next-free counters the database should resume allocating from.
func Load(ctx context.Context, log *commitlog.Log, trees []*tree.Tree) (Result, error) {
	empty, err := log.IsEmpty(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loader: checking commit log: %w", err)
	}

	replayers := make([]*tree.InitReplayer, len(trees))
	for i, t := range trees {
		replayers[i] = t.InitReplayer(ctx)
	}
	defer func() {
		for _, r := range replayers {
			r.Close()
		}
	}()

	var (
		haveMaxCommit bool
		maxCommit     types.Commit
	)

	if !empty {
		for rec, err := range log.Replay(ctx) {
			if err != nil {
				return Result{}, xerrors.WrapCorrupt(err, "loader: replaying commit log")
			}
			if haveMaxCommit && rec.Commit <= maxCommit {
				return Result{}, xerrors.WrapCorrupt(xerrors.ErrNonMonotonicCommit, "loader: commit %d follows %d in log order", rec.Commit, maxCommit)
			}
			maxCommit = rec.Commit
			haveMaxCommit = true

			for i, r := range replayers {
				if err := r.ReplayCommit(ctx, rec.Batch, rec.BatchCommit, rec.Commit); err != nil {
					return Result{}, fmt.Errorf("loader: tree %q: %w", trees[i].Name, err)
				}
			}
		}
	}

	var (
		haveMaxBatch, haveMaxBC bool
		maxBatch                types.Batch
		maxBatchCommit          types.BatchCommit
	)
	for i, r := range replayers {
		if err := r.DrainRest(ctx); err != nil {
			return Result{}, fmt.Errorf("loader: tree %q: %w", trees[i].Name, err)
		}
		if b, ok := r.MaxBatch(); ok && (!haveMaxBatch || b > maxBatch) {
			maxBatch, haveMaxBatch = b, true
		}
		if bc, ok := r.MaxBatchCommit(); ok && (!haveMaxBC || bc > maxBatchCommit) {
			maxBatchCommit, haveMaxBC = bc, true
		}
	}

	nextCommit := types.Commit(0)
	if haveMaxCommit {
		nextCommit = maxCommit + 1
	}
	nextBatch := types.Batch(0)
	if haveMaxBatch {
		nextBatch = maxBatch + 1
	}
	nextBatchCommit := types.BatchCommit(0)
	if haveMaxBC {
		nextBatchCommit = maxBatchCommit + 1
	}

	return Result{
		NextBatch:       nextBatch,
		NextBatchCommit: nextBatchCommit,
		NextCommit:      nextCommit,
		ViewCommitLimit: nextCommit,
	}, nil
}
