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

// Package batchplayer holds, per tree, the in-memory recording of
// each open batch's already-logged commands, and replays the
// committed subset into index operations on commit.
package batchplayer

import (
	"fmt"
	"sync"

	"github.com/brson/blocksy3/internal/command"
	"github.com/brson/blocksy3/internal/types"
	"github.com/brson/blocksy3/internal/xerrors"
)

// OpKind distinguishes the three index mutations a batch can record.
type OpKind int

const (
	OpWrite OpKind = iota
	OpDelete
	OpDeleteRange
)

// IndexOp is one operation to apply to the index, yielded by Replay.
type IndexOp struct {
	Kind     OpKind
	Key      types.Key // Write, Delete
	StartKey types.Key // DeleteRange
	EndKey   types.Key // DeleteRange
	Addr     types.Address
}

type terminatorKind int

const (
	termReadyCommit terminatorKind = iota
	termAbortCommit
)

// entry is one slot in a batch's recording: either a data op or an
// inline-recorded commit terminator.
type entry struct {
	isTerminator bool
	op           IndexOp
	term         terminatorKind
	batchCommit  types.BatchCommit
}

type recording struct {
	ops        []entry
	savePoints []int // stack of lengths of ops at PushSavePoint time
}

// Player is the per-tree table of in-flight batch recordings.
type Player struct {
	mu      sync.Mutex
	batches map[types.Batch]*recording
}

// New returns an empty player.
func New() *Player {
	return &Player{batches: make(map[types.Batch]*recording)}
}

// Record mirrors one command, which must already have been
// successfully appended to the tree's log at addr, into the
// in-memory recording for cmd.Batch.
func (p *Player) Record(cmd command.Command, addr types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cmd.Kind == command.Open {
		if _, ok := p.batches[cmd.Batch]; ok {
			return fmt.Errorf("batch %d: %w", cmd.Batch, xerrors.ErrDoubleOpen)
		}
		p.batches[cmd.Batch] = &recording{}
		return nil
	}

	r, ok := p.batches[cmd.Batch]
	if !ok {
		return fmt.Errorf("batch %d: %w", cmd.Batch, xerrors.ErrUnknownBatch)
	}

	switch cmd.Kind {
	case command.Write:
		r.ops = append(r.ops, entry{op: IndexOp{Kind: OpWrite, Key: cmd.Key, Addr: addr}})
	case command.Delete:
		r.ops = append(r.ops, entry{op: IndexOp{Kind: OpDelete, Key: cmd.Key, Addr: addr}})
	case command.DeleteRange:
		r.ops = append(r.ops, entry{op: IndexOp{Kind: OpDeleteRange, StartKey: cmd.StartKey, EndKey: cmd.EndKey, Addr: addr}})
	case command.PushSavePoint:
		r.savePoints = append(r.savePoints, len(r.ops))
	case command.PopSavePoint:
		if len(r.savePoints) == 0 {
			return fmt.Errorf("batch %d: %w", cmd.Batch, xerrors.ErrEmptySavePointStack)
		}
		r.savePoints = r.savePoints[:len(r.savePoints)-1]
	case command.RollbackSavePoint:
		if len(r.savePoints) == 0 {
			return fmt.Errorf("batch %d: %w", cmd.Batch, xerrors.ErrEmptySavePointStack)
		}
		top := r.savePoints[len(r.savePoints)-1]
		r.savePoints = r.savePoints[:len(r.savePoints)-1]
		r.ops = r.ops[:top]
	case command.ReadyCommit:
		r.ops = append(r.ops, entry{isTerminator: true, term: termReadyCommit, batchCommit: cmd.BatchCommit})
	case command.AbortCommit:
		r.ops = append(r.ops, entry{isTerminator: true, term: termAbortCommit, batchCommit: cmd.BatchCommit})
	case command.Close:
		delete(p.batches, cmd.Batch)
	default:
		return fmt.Errorf("batch %d: unrecognized command kind %v", cmd.Batch, cmd.Kind)
	}
	return nil
}

// Replay returns the index ops committed by batch's attempt bc: the
// data ops recorded before the first terminator tagged with bc. If
// that terminator is an AbortCommit, Replay returns no ops. It is an
// error for no terminator tagged bc to exist in the recording.
func (p *Player) Replay(batch types.Batch, bc types.BatchCommit) ([]IndexOp, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.batches[batch]
	if !ok {
		return nil, fmt.Errorf("batch %d: %w", batch, xerrors.ErrUnknownBatch)
	}

	var collected []IndexOp
	for _, e := range r.ops {
		if !e.isTerminator {
			collected = append(collected, e.op)
			continue
		}
		if e.batchCommit != bc {
			continue
		}
		if e.term == termAbortCommit {
			return nil, nil
		}
		return collected, nil
	}
	return nil, fmt.Errorf("batch %d, batch_commit %d: %w", batch, bc, xerrors.ErrNoTerminator)
}

// EmergencyClose forcibly drops batch's recording, for use when the
// log Close record itself could not be appended. It never errors:
// dropping a recording that is already gone is a no-op.
func (p *Player) EmergencyClose(batch types.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.batches, batch)
}

// Has reports whether batch currently has an open recording.
func (p *Player) Has(batch types.Batch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.batches[batch]
	return ok
}
