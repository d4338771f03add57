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
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/brson/blocksy3/internal/commitlog"
	"github.com/brson/blocksy3/internal/loader"
	"github.com/brson/blocksy3/internal/logbackend"
	"github.com/brson/blocksy3/internal/synccoalescer"
	"github.com/brson/blocksy3/internal/tree"
	"github.com/brson/blocksy3/internal/types"
)

const dirPerm = 0o755

// maxCoalescedSyncs bounds how many concurrent Sync callers a single
// coalesced window will serve; arbitrary callers beyond this spill
// into the next window rather than growing one fsync unboundedly.
const maxCoalescedSyncs = 4096

// Db is an open database: a fixed set of trees sharing one commit
// clock.
type Db struct {
	cfg   Config
	dir   string
	inMem bool

	worker *logbackend.FileWorker

	commitLog *commitlog.Log
	treeOrder []string
	trees     map[string]*tree.Tree

	nextBatch       atomic.Uint64
	nextBatchCommit atomic.Uint64
	viewCommitLimit atomic.Uint64

	commitLock sync.Mutex
	nextCommit uint64 // guarded by commitLock

	syncCoalescer *synccoalescer.Coalescer
	closeCoalescer context.CancelFunc
}

// Open opens or creates a database per the given options, performing
// recovery from any existing on-disk state.
func Open(ctx context.Context, opts ...Option) (*Db, error) {
	cfg := newConfig(opts)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db := &Db{
		cfg:   cfg,
		dir:   cfg.dir,
		inMem: !cfg.haveDir,
		trees: make(map[string]*tree.Tree, len(cfg.trees)),
	}
	db.treeOrder = append(db.treeOrder[:0:0], cfg.trees...)

	var commitsBackend logbackend.Backend
	if db.inMem {
		commitsBackend = logbackend.NewMem()
		for _, name := range db.treeOrder {
			db.trees[name] = tree.Open(name, logbackend.NewMem())
		}
	} else {
		if err := os.MkdirAll(cfg.dir, dirPerm); err != nil {
			return nil, fmt.Errorf("blocksy3: creating directory %q: %w", cfg.dir, err)
		}
		worker, err := logbackend.NewFileWorker()
		if err != nil {
			return nil, fmt.Errorf("blocksy3: starting file worker: %w", err)
		}
		db.worker = worker

		commitsBackend, err = logbackend.OpenFile(ctx, worker, filepath.Join(cfg.dir, commitsTreeName+".log"))
		if err != nil {
			return nil, fmt.Errorf("blocksy3: opening master commit log: %w", err)
		}
		for _, name := range db.treeOrder {
			backend, err := logbackend.OpenFile(ctx, worker, filepath.Join(cfg.dir, name+".log"))
			if err != nil {
				return nil, fmt.Errorf("blocksy3: opening tree %q: %w", name, err)
			}
			db.trees[name] = tree.Open(name, backend)
		}
	}
	db.commitLog = commitlog.New(commitsBackend)

	if !db.inMem {
		coalescerCtx, cancel := context.WithCancel(context.Background())
		db.closeCoalescer = cancel
		db.syncCoalescer = synccoalescer.New(coalescerCtx, cfg.syncCoalesceWindow, maxCoalescedSyncs, db.rawSync)
	}

	orderedTrees := make([]*tree.Tree, len(db.treeOrder))
	for i, name := range db.treeOrder {
		orderedTrees[i] = db.trees[name]
	}
	result, err := loader.Load(ctx, db.commitLog, orderedTrees)
	if err != nil {
		return nil, fmt.Errorf("blocksy3: recovering: %w", err)
	}
	db.nextBatch.Store(uint64(result.NextBatch))
	db.nextBatchCommit.Store(uint64(result.NextBatchCommit))
	db.nextCommit = uint64(result.NextCommit)
	db.viewCommitLimit.Store(uint64(result.ViewCommitLimit))

	klog.V(1).Infof("blocksy3: opened %q: next_batch=%d next_batch_commit=%d next_commit=%d",
		displayDir(cfg), result.NextBatch, result.NextBatchCommit, result.NextCommit)
	return db, nil
}

func displayDir(cfg Config) string {
	if !cfg.haveDir {
		return "<memory>"
	}
	return cfg.dir
}

func (db *Db) tree(name string) (*tree.Tree, error) {
	t, ok := db.trees[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTree, name)
	}
	return t, nil
}

// WriteBatch begins a new batch, opening a writer against every tree.
func (db *Db) WriteBatch(ctx context.Context) (*WriteBatch, error) {
	batch := types.Batch(db.nextBatch.Add(1) - 1)

	writers := make(map[string]*tree.BatchWriter, len(db.treeOrder))
	for _, name := range db.treeOrder {
		w, err := db.trees[name].Batch(ctx, batch)
		if err != nil {
			for openedName, opened := range writers {
				opened.EmergencyClose()
				klog.Errorf("blocksy3: batch %d: opening tree %q failed; discarding partial writer for %q", batch, name, openedName)
			}
			return nil, fmt.Errorf("blocksy3: opening batch %d on tree %q: %w", batch, name, err)
		}
		writers[name] = w
	}

	return &WriteBatch{db: db, batch: batch, writers: writers}, nil
}

// Sync barriers every tree's log and the master commit log. On a
// file-backed Db it also fsyncs the directory, so a newly created
// tree/commit log file is itself durably linked. Concurrent callers
// within the configured sync-coalesce window (see WithSyncCoalesceWindow)
// share a single underlying fsync pass.
func (db *Db) Sync(ctx context.Context) error {
	if db.syncCoalescer == nil {
		return db.rawSync(ctx)
	}
	return db.syncCoalescer.Run(ctx)
}

func (db *Db) rawSync(ctx context.Context) error {
	for _, name := range db.treeOrder {
		if err := db.trees[name].Sync(ctx); err != nil {
			return fmt.Errorf("blocksy3: syncing tree %q: %w", name, err)
		}
	}
	if err := db.commitLog.Sync(ctx); err != nil {
		return fmt.Errorf("blocksy3: syncing commit log: %w", err)
	}
	if db.inMem {
		return nil
	}
	return syncDir(db.dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("blocksy3: opening directory %q for sync: %w", dir, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("blocksy3: syncing directory %q: %w", dir, err)
	}
	return nil
}

// Close releases every resource the Db holds: tree logs, the master
// commit log, and (for a file-backed Db) the dedicated I/O worker.
// It does not delete durable data.
func (db *Db) Close(ctx context.Context) error {
	var firstErr error
	for _, name := range db.treeOrder {
		if err := db.trees[name].Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("blocksy3: closing tree %q: %w", name, err)
		}
	}
	if err := db.commitLog.Close(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("blocksy3: closing commit log: %w", err)
	}
	if db.worker != nil {
		if err := db.worker.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("blocksy3: closing file worker: %w", err)
		}
	}
	if db.closeCoalescer != nil {
		db.closeCoalescer()
	}
	return firstErr
}

// ReadView captures a snapshot at the database's current commit
// limit.
func (db *Db) ReadView() *ReadView {
	return &ReadView{db: db, commitLimit: types.Commit(db.viewCommitLimit.Load())}
}

func abortAllBestEffort(ctx context.Context, order []string, writers map[string]*tree.BatchWriter, bc types.BatchCommit) {
	var g errgroup.Group
	for _, name := range order {
		name, w := name, writers[name]
		g.Go(func() error {
			if err := w.AbortCommit(ctx, bc); err != nil {
				klog.Errorf("blocksy3: best-effort abort_commit(%d) on tree %q: %v", bc, name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
