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

package batchplayer_test

import (
	"errors"
	"testing"

	"github.com/brson/blocksy3/internal/batchplayer"
	"github.com/brson/blocksy3/internal/command"
	"github.com/brson/blocksy3/internal/types"
	"github.com/brson/blocksy3/internal/xerrors"
)

func record(t *testing.T, p *batchplayer.Player, cmd command.Command, addr types.Address) {
	t.Helper()
	if err := p.Record(cmd, addr); err != nil {
		t.Fatalf("Record(%v): %v", cmd.Kind, err)
	}
}

func TestReplaySimpleWrite(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	const bc types.BatchCommit = 1

	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k1")}, 10)
	record(t, p, command.Command{Kind: command.ReadyCommit, Batch: b, BatchCommit: bc}, 0)

	ops, err := p.Replay(b, bc)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != batchplayer.OpWrite || string(ops[0].Key) != "k1" || ops[0].Addr != 10 {
		t.Fatalf("Replay = %+v, want one Write(k1, 10)", ops)
	}
}

// A delete_range and a following write in the same batch both show
// up, in order, for the replayer (the index layer resolves which one
// wins).
func TestReplayDeleteRangeThenWrite(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	const bc types.BatchCommit = 1

	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k1")}, 10)
	record(t, p, command.Command{Kind: command.DeleteRange, Batch: b, StartKey: types.Key("k1"), EndKey: types.Key("k2")}, 11)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k1")}, 12)
	record(t, p, command.Command{Kind: command.ReadyCommit, Batch: b, BatchCommit: bc}, 0)

	ops, err := p.Replay(b, bc)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("Replay returned %d ops, want 3", len(ops))
	}
	if ops[0].Kind != batchplayer.OpWrite || ops[0].Addr != 10 {
		t.Fatalf("ops[0] = %+v, want Write@10", ops[0])
	}
	if ops[1].Kind != batchplayer.OpDeleteRange || ops[1].Addr != 11 {
		t.Fatalf("ops[1] = %+v, want DeleteRange@11", ops[1])
	}
	if ops[2].Kind != batchplayer.OpWrite || ops[2].Addr != 12 {
		t.Fatalf("ops[2] = %+v, want Write@12", ops[2])
	}
}

func TestReplayAbortYieldsNoOps(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	const bc types.BatchCommit = 1

	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k1")}, 10)
	record(t, p, command.Command{Kind: command.AbortCommit, Batch: b, BatchCommit: bc}, 0)

	ops, err := p.Replay(b, bc)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("Replay after abort = %+v, want empty", ops)
	}
}

// A rollback to a save point discards the ops recorded since the push.
func TestSavePointRollback(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	const bc types.BatchCommit = 1

	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k")}, 10) // v0
	record(t, p, command.Command{Kind: command.PushSavePoint, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k")}, 11) // v1
	record(t, p, command.Command{Kind: command.RollbackSavePoint, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.ReadyCommit, Batch: b, BatchCommit: bc}, 0)

	ops, err := p.Replay(b, bc)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(ops) != 1 || ops[0].Addr != 10 {
		t.Fatalf("Replay after rollback = %+v, want only the op before the save point", ops)
	}
}

func TestSavePointPopKeepsOps(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	const bc types.BatchCommit = 1

	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.PushSavePoint, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k")}, 10)
	record(t, p, command.Command{Kind: command.PopSavePoint, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.ReadyCommit, Batch: b, BatchCommit: bc}, 0)

	ops, err := p.Replay(b, bc)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(ops) != 1 || ops[0].Addr != 10 {
		t.Fatalf("Replay after pop = %+v, want the op to survive", ops)
	}
}

func TestSavePointOpOnEmptyStackErrors(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)

	if err := p.Record(command.Command{Kind: command.PopSavePoint, Batch: b}, 0); !errors.Is(err, xerrors.ErrEmptySavePointStack) {
		t.Fatalf("PopSavePoint on empty stack: err = %v, want ErrEmptySavePointStack", err)
	}
	if err := p.Record(command.Command{Kind: command.RollbackSavePoint, Batch: b}, 0); !errors.Is(err, xerrors.ErrEmptySavePointStack) {
		t.Fatalf("RollbackSavePoint on empty stack: err = %v, want ErrEmptySavePointStack", err)
	}
}

func TestReplayWithoutTerminatorErrors(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	record(t, p, command.Command{Kind: command.Write, Batch: b, Key: types.Key("k")}, 10)

	if _, err := p.Replay(b, 1); !errors.Is(err, xerrors.ErrNoTerminator) {
		t.Fatalf("Replay without terminator: err = %v, want ErrNoTerminator", err)
	}
}

func TestCloseRemovesBatch(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	if !p.Has(b) {
		t.Fatalf("Has(b) = false after Open")
	}
	record(t, p, command.Command{Kind: command.Close, Batch: b}, 0)
	if p.Has(b) {
		t.Fatalf("Has(b) = true after Close")
	}
}

func TestDoubleOpenErrors(t *testing.T) {
	p := batchplayer.New()
	const b types.Batch = 1
	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	if err := p.Record(command.Command{Kind: command.Open, Batch: b}, 0); !errors.Is(err, xerrors.ErrDoubleOpen) {
		t.Fatalf("double Open: err = %v, want ErrDoubleOpen", err)
	}
}

func TestEmergencyCloseIsBestEffort(t *testing.T) {
	p := batchplayer.New()
	p.EmergencyClose(99) // no Open recorded; must not panic
	const b types.Batch = 1
	record(t, p, command.Command{Kind: command.Open, Batch: b}, 0)
	p.EmergencyClose(b)
	if p.Has(b) {
		t.Fatalf("Has(b) = true after EmergencyClose")
	}
}

func TestReplayUnknownBatchErrors(t *testing.T) {
	p := batchplayer.New()
	if _, err := p.Replay(42, 1); !errors.Is(err, xerrors.ErrUnknownBatch) {
		t.Fatalf("Replay on unknown batch: err = %v, want ErrUnknownBatch", err)
	}
}
