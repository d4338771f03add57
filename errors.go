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
	"errors"

	"github.com/brson/blocksy3/internal/xerrors"
)

var (
	// ErrUnknownTree is returned when a WriteBatch or ReadView is
	// asked for a tree name the Db was not configured with.
	ErrUnknownTree = errors.New("blocksy3: unknown tree")

	// ErrInvalidConfig is returned by Open when the configuration is
	// unusable (no trees, a duplicate tree name, or a tree named
	// "commits", which is reserved for the master commit log).
	ErrInvalidConfig = errors.New("blocksy3: invalid configuration")

	// ErrBatchClosed is returned by any WriteBatch operation issued
	// after Commit, Abort, or Close has already run.
	ErrBatchClosed = errors.New("blocksy3: batch already closed")

	// ErrEmptySavePointStack is returned by WriteBatch.PopSavePoint
	// and WriteBatch.RollbackSavePoint when no save point is open.
	ErrEmptySavePointStack = xerrors.ErrEmptySavePointStack

	// ErrInvalidRange is returned by WriteTree.DeleteRange when the
	// range's start key sorts after its end key.
	ErrInvalidRange = xerrors.ErrInvalidRange
)

// CorruptionError distinguishes a detected on-disk or replay
// inconsistency from a plain I/O failure. Use errors.As to recognize
// it.
type CorruptionError = xerrors.CorruptionError
