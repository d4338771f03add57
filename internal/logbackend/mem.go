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

package logbackend

import (
	"context"
	"sync"

	"github.com/brson/blocksy3/internal/types"
)

// Mem is a growable in-process record store. Addresses are slice
// indices; Sync is a no-op, since nothing here outlives the process.
type Mem struct {
	mu      sync.RWMutex
	records [][]byte
}

// NewMem returns an empty in-memory backend.
func NewMem() *Mem {
	return &Mem{}
}

func (m *Mem) IsEmpty(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records) == 0, nil
}

func (m *Mem) Append(ctx context.Context, body []byte) (types.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := types.Address(len(m.records))
	cp := make([]byte, len(body))
	copy(cp, body)
	m.records = append(m.records, cp)
	return addr, nil
}

func (m *Mem) ReadAt(ctx context.Context, addr types.Address) (body []byte, next types.Address, ok bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := int(addr)
	if i < 0 || i >= len(m.records) {
		return nil, addr, false, nil
	}
	cp := make([]byte, len(m.records[i]))
	copy(cp, m.records[i])
	return cp, types.Address(i + 1), true, nil
}

func (m *Mem) Sync(ctx context.Context) error { return nil }

func (m *Mem) Close(ctx context.Context) error { return nil }
