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

// Package command defines the records carried by a tree's log and by
// the database's master commit log, and their on-the-wire encoding.
package command

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/brson/blocksy3/internal/types"
)

// Kind distinguishes the variants of Command. Go has no tagged union,
// so Command is a flat struct carrying only the fields its Kind uses.
type Kind uint8

const (
	Open Kind = iota
	Write
	Delete
	DeleteRange
	PushSavePoint
	PopSavePoint
	RollbackSavePoint
	ReadyCommit
	AbortCommit
	Close
)

func (k Kind) String() string {
	switch k {
	case Open:
		return "Open"
	case Write:
		return "Write"
	case Delete:
		return "Delete"
	case DeleteRange:
		return "DeleteRange"
	case PushSavePoint:
		return "PushSavePoint"
	case PopSavePoint:
		return "PopSavePoint"
	case RollbackSavePoint:
		return "RollbackSavePoint"
	case ReadyCommit:
		return "ReadyCommit"
	case AbortCommit:
		return "AbortCommit"
	case Close:
		return "Close"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Command is one record in a tree's log.
type Command struct {
	Kind  Kind
	Batch types.Batch

	// Write, Delete
	Key types.Key
	// Write
	Value types.Value
	// DeleteRange
	StartKey types.Key
	EndKey   types.Key
	// ReadyCommit, AbortCommit
	BatchCommit types.BatchCommit
}

// CommitRecord is the single record type carried by the master commit log.
type CommitRecord struct {
	Batch       types.Batch
	BatchCommit types.BatchCommit
	Commit      types.Commit
}

// Encode serialises cmd as a self-contained gob stream, for storage
// in a tree's log backend.
func Encode(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(body []byte) (Command, error) {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// EncodeCommitRecord serialises rec for storage in the master commit log.
func EncodeCommitRecord(rec CommitRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode commit record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCommitRecord reverses EncodeCommitRecord.
func DecodeCommitRecord(body []byte) (CommitRecord, error) {
	var rec CommitRecord
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&rec); err != nil {
		return CommitRecord{}, fmt.Errorf("decode commit record: %w", err)
	}
	return rec, nil
}
