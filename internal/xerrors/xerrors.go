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

// Package xerrors collects the sentinel errors and error kinds shared
// across blocksy3's internal layers: I/O failures are returned as-is
// (wrapped with context), corruption gets the distinguished
// CorruptionError so callers can errors.As past an I/O wrapper, and
// programmer errors fail fast.
package xerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBatch is returned when an operation names a batch that
	// has no open recording in the batch player (e.g. replay of a
	// batch that was never opened, or was already closed).
	ErrUnknownBatch = errors.New("unknown batch")

	// ErrNoTerminator is returned by BatchPlayer.Replay when no
	// ReadyCommit/AbortCommit matching the requested batch_commit has
	// been recorded for the batch.
	ErrNoTerminator = errors.New("no matching commit terminator recorded for batch")

	// ErrEmptySavePointStack is returned by PopSavePoint/RollbackSavePoint
	// when the batch's save-point stack is empty.
	ErrEmptySavePointStack = errors.New("save point stack is empty")

	// ErrInvalidRange is returned when a delete-range's start key sorts
	// after its end key.
	ErrInvalidRange = errors.New("range start key must not sort after end key")

	// ErrNoRecord is wrapped in a CorruptionError when a tree's index
	// names a log address at which no record exists. (A typed log's
	// ReadAt itself reports end of log as ok == false, not as an error.)
	ErrNoRecord = errors.New("no record at address")

	// ErrNonMonotonicCommit is a corruption signal: the master commit
	// log's commit numbers are not strictly increasing in log order.
	ErrNonMonotonicCommit = errors.New("non-monotonic commit number during replay")

	// ErrDuplicateTerminator is a corruption signal: a tree's log
	// recorded two ReadyCommit/AbortCommit records for the same
	// (batch, batch_commit) pair.
	ErrDuplicateTerminator = errors.New("duplicate commit terminator for batch")

	// ErrUnterminatedReplay is a corruption signal: the commit log
	// names a (batch, batch_commit) pair for which the tree's log
	// stream was exhausted before a matching terminator was found.
	ErrUnterminatedReplay = errors.New("tree log exhausted before matching commit terminator")

	// ErrDoubleOpen is a corruption signal: a tree's log recorded two
	// Open records for the same batch without an intervening Close.
	ErrDoubleOpen = errors.New("duplicate Open record for batch")
)

// CorruptionError distinguishes an on-disk/structural inconsistency
// (bad frame, unexpected command kind at an indexed address, a replay
// invariant violation) from a plain I/O failure. Callers can recognise
// it with errors.As.
type CorruptionError struct {
	// Msg describes what was found to be inconsistent.
	Msg string
	// Err is the underlying cause, if any (may be nil).
	Err error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corruption: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("corruption: %s", e.Msg)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Corruptf builds a *CorruptionError with a formatted message and no
// wrapped cause.
func Corruptf(format string, args ...any) error {
	return &CorruptionError{Msg: fmt.Sprintf(format, args...)}
}

// WrapCorrupt builds a *CorruptionError wrapping cause with a formatted message.
func WrapCorrupt(cause error, format string, args ...any) error {
	return &CorruptionError{Msg: fmt.Sprintf(format, args...), Err: cause}
}
