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

// Package commitlog wraps a typedlog.Log[command.CommitRecord] as the
// database's single master log of (batch, batch_commit, commit)
// triples, the final arbiter of which batches are durably committed.
package commitlog

import (
	"context"
	"iter"

	"github.com/brson/blocksy3/internal/command"
	"github.com/brson/blocksy3/internal/logbackend"
	"github.com/brson/blocksy3/internal/typedlog"
	"github.com/brson/blocksy3/internal/types"
)

// Log is the master commit log.
type Log struct {
	inner *typedlog.Log[command.CommitRecord]
}

// New wraps backend as the master commit log.
func New(backend logbackend.Backend) *Log {
	return &Log{inner: typedlog.New(backend, command.EncodeCommitRecord, command.DecodeCommitRecord)}
}

func (l *Log) IsEmpty(ctx context.Context) (bool, error) {
	return l.inner.IsEmpty(ctx)
}

// Commit durably records that (batch, bc) was assigned commit number c.
func (l *Log) Commit(ctx context.Context, batch types.Batch, bc types.BatchCommit, commit types.Commit) error {
	_, err := l.inner.Append(ctx, command.CommitRecord{Batch: batch, BatchCommit: bc, Commit: commit})
	return err
}

// Replay walks every commit record in order.
func (l *Log) Replay(ctx context.Context) iter.Seq2[command.CommitRecord, error] {
	return func(yield func(command.CommitRecord, error) bool) {
		for e, err := range l.inner.Replay(ctx) {
			if err != nil {
				yield(command.CommitRecord{}, err)
				return
			}
			if !yield(e.Rec, nil) {
				return
			}
		}
	}
}

func (l *Log) Sync(ctx context.Context) error {
	return l.inner.Sync(ctx)
}

func (l *Log) Close(ctx context.Context) error {
	return l.inner.Close(ctx)
}
