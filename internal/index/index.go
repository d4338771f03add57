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

// Package index implements the in-memory ordered map from key to a
// per-key version history of (commit, written/deleted, address)
// entries, with a doubly-linked sibling chain for cursor acceleration
// and a separate list of range-delete tombstones. Go has no BTreeMap,
// so key order is maintained as a sorted slice of keys alongside the
// map, with binary-search seeks; sibling-pointer stepping (next/prev)
// never touches the slice, matching the original's map-plus-pointers
// structure.
package index

import (
	"errors"
	"sort"
	"sync"

	"github.com/brson/blocksy3/internal/types"
)

// BatchIndex orders operations committed together within a single
// commit; a higher value is later intra-commit.
type BatchIndex uint32

// Kind distinguishes a history entry's effect.
type Kind int

const (
	Written Kind = iota
	Deleted
)

// ReadValue is one possible value of a key as of some history entry.
type ReadValue struct {
	Kind Kind
	Addr types.Address
}

type historyEntry struct {
	commit types.Commit
	value  ReadValue
	idx    BatchIndex
}

type node struct {
	key  types.Key
	mu   sync.RWMutex // guards prev/next only
	prev *node
	next *node

	histMu  sync.RWMutex
	history []historyEntry
}

type rangeDelete struct {
	commit types.Commit
	start  types.Key
	end    types.Key
	idx    BatchIndex
}

func (r rangeDelete) contains(k types.Key) bool {
	return !k.Less(r.start) && k.Less(r.end)
}

// Index is the in-memory ordered map described in the package doc.
type Index struct {
	watermarkMu sync.Mutex
	watermark   types.Commit // maybe_next_commit

	mu           sync.RWMutex
	keys         []string // sorted, mirrors keymap's key order
	keymap       map[string]*node
	rangeDeletes []rangeDelete
}

// New returns an empty index with watermark 0.
func New() *Index {
	return &Index{keymap: make(map[string]*node)}
}

func (x *Index) loadWatermark() types.Commit {
	x.watermarkMu.Lock()
	defer x.watermarkMu.Unlock()
	return x.watermark
}

// Read returns the address visible at (key, commitLimit), if any.
func (x *Index) Read(commitLimit types.Commit, key types.Key) (types.Address, bool) {
	if commitLimit > x.loadWatermark() {
		panic(errors.New("logic error: index read with commit_limit beyond watermark"))
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	n, ok := x.keymap[string(key)]
	if !ok {
		return x.trueValue(nil, x.rangeDeleteQuery(commitLimit, key))
	}
	return x.trueValue(x.pointQuery(commitLimit, n), x.rangeDeleteQuery(commitLimit, key))
}

func (x *Index) pointQuery(commitLimit types.Commit, n *node) *historyEntry {
	n.histMu.RLock()
	defer n.histMu.RUnlock()
	for i := len(n.history) - 1; i >= 0; i-- {
		if n.history[i].commit < commitLimit {
			e := n.history[i]
			return &e
		}
	}
	return nil
}

func (x *Index) rangeDeleteQuery(commitLimit types.Commit, key types.Key) *rangeDelete {
	for i := len(x.rangeDeletes) - 1; i >= 0; i-- {
		rd := x.rangeDeletes[i]
		if rd.commit < commitLimit && rd.contains(key) {
			return &rd
		}
	}
	return nil
}

func (x *Index) trueValue(point *historyEntry, rd *rangeDelete) (types.Address, bool) {
	switch {
	case point == nil && rd != nil:
		return 0, false
	case point != nil && rd != nil:
		if point.value.Kind == Deleted {
			return 0, false
		}
		// point.value.Kind == Written
		if point.commit > rd.commit {
			return point.value.Addr, true
		}
		if point.commit == rd.commit && point.idx > rd.idx {
			return point.value.Addr, true
		}
		return 0, false
	case point != nil && rd == nil:
		if point.value.Kind == Written {
			return point.value.Addr, true
		}
		return 0, false
	default: // point == nil && rd == nil
		return 0, false
	}
}

func (x *Index) nodeTrueValue(commitLimit types.Commit, n *node) (types.Address, bool) {
	point := x.pointQuery(commitLimit, n)
	rd := x.rangeDeleteQuery(commitLimit, n.key)
	return x.trueValue(point, rd)
}

// keyIndex returns the position in x.keys where key is, or would be
// inserted to keep it sorted.
func (x *Index) keyIndex(key types.Key) int {
	ks := string(key)
	return sort.Search(len(x.keys), func(i int) bool { return x.keys[i] >= ks })
}

// Writer is an exclusive writer bound to one commit, holding the
// index's write lock for its entire lifetime (there is no Drop in Go,
// so callers must call Close explicitly — failing to do so leaves the
// index permanently unwritable and unreadable past this commit, by
// design, mirroring the RAII guard the original relies on).
type Writer struct {
	index  *Index
	commit types.Commit
	closed bool
}

// Writer returns an exclusive writer for commit. commit must be >=
// the index's current watermark.
func (x *Index) Writer(commit types.Commit) *Writer {
	if commit < x.loadWatermark() {
		panic(errors.New("logic error: index writer(commit) below current watermark"))
	}
	x.mu.Lock()
	return &Writer{index: x, commit: commit}
}

// Close releases the writer's exclusive lock and advances the index's
// watermark so that the commit's writes become visible to readers and
// acceptable as an upper bound for future writers.
func (w *Writer) Close() {
	if w.closed {
		return
	}
	w.closed = true
	w.index.mu.Unlock()
	w.index.watermarkMu.Lock()
	w.index.watermark = w.commit + 1
	w.index.watermarkMu.Unlock()
}

func (w *Writer) Write(key types.Key, addr types.Address, idx BatchIndex) {
	w.updateValue(key, ReadValue{Kind: Written, Addr: addr}, idx)
}

func (w *Writer) Delete(key types.Key, addr types.Address, idx BatchIndex) {
	w.updateValue(key, ReadValue{Kind: Deleted, Addr: addr}, idx)
}

// DeleteRange records a tombstone over [start, end). Unlike Write and
// Delete, it takes no log address: the tombstone does not record where
// the DeleteRange command sits in the log.
func (w *Writer) DeleteRange(start, end types.Key, idx BatchIndex) {
	if end.Less(start) {
		panic(errors.New("logic error: delete_range start sorts after end"))
	}
	w.index.rangeDeletes = append(w.index.rangeDeletes, rangeDelete{
		commit: w.commit,
		start:  start.Clone(),
		end:    end.Clone(),
		idx:    idx,
	})
}

func (w *Writer) updateValue(key types.Key, value ReadValue, idx BatchIndex) {
	x := w.index
	ks := string(key)
	entry := historyEntry{commit: w.commit, value: value, idx: idx}

	if n, ok := x.keymap[ks]; ok {
		n.histMu.Lock()
		n.history = append(n.history, entry)
		n.histMu.Unlock()
		return
	}

	pos := x.keyIndex(key)
	n := &node{key: key.Clone(), history: []historyEntry{entry}}

	var prev, next *node
	if pos < len(x.keys) {
		next = x.keymap[x.keys[pos]]
	}
	if pos > 0 {
		prev = x.keymap[x.keys[pos-1]]
	}
	n.prev = prev
	n.next = next
	if prev != nil {
		prev.mu.Lock()
		prev.next = n
		prev.mu.Unlock()
	}
	if next != nil {
		next.mu.Lock()
		next.prev = n
		next.mu.Unlock()
	}

	x.keymap[ks] = n
	x.keys = append(x.keys, "")
	copy(x.keys[pos+1:], x.keys[pos:])
	x.keys[pos] = ks
}

// Cursor is a positioned, movable view over the index at a fixed
// commit_limit. A zero-value Cursor is not valid; obtain one via
// Index.Cursor.
type Cursor struct {
	index       *Index
	commitLimit types.Commit
	current     *node
	addr        types.Address
	valid       bool
}

// Cursor returns a new, unpositioned cursor. commitLimit must be <=
// the index's current watermark.
func (x *Index) Cursor(commitLimit types.Commit) *Cursor {
	if commitLimit > x.loadWatermark() {
		panic(errors.New("logic error: index cursor with commit_limit beyond watermark"))
	}
	return &Cursor{index: x, commitLimit: commitLimit}
}

func (c *Cursor) Valid() bool { return c.valid }

func (c *Cursor) Key() types.Key {
	if !c.valid {
		panic(errors.New("logic error: Key on an invalid cursor"))
	}
	return c.current.key
}

func (c *Cursor) Address() types.Address {
	if !c.valid {
		panic(errors.New("logic error: Address on an invalid cursor"))
	}
	return c.addr
}

func (c *Cursor) SeekFirst() {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	for _, k := range c.index.keys {
		n := c.index.keymap[k]
		if addr, ok := c.index.nodeTrueValue(c.commitLimit, n); ok {
			c.set(n, addr)
			return
		}
	}
	c.clear()
}

func (c *Cursor) SeekLast() {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	for i := len(c.index.keys) - 1; i >= 0; i-- {
		n := c.index.keymap[c.index.keys[i]]
		if addr, ok := c.index.nodeTrueValue(c.commitLimit, n); ok {
			c.set(n, addr)
			return
		}
	}
	c.clear()
}

func (c *Cursor) SeekKey(key types.Key) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	pos := c.index.keyIndex(key)
	for i := pos; i < len(c.index.keys); i++ {
		n := c.index.keymap[c.index.keys[i]]
		if addr, ok := c.index.nodeTrueValue(c.commitLimit, n); ok {
			c.set(n, addr)
			return
		}
	}
	c.clear()
}

func (c *Cursor) SeekKeyRev(key types.Key) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	pos := c.index.keyIndex(key)
	if pos < len(c.index.keys) && c.index.keys[pos] == string(key) {
		// keyIndex returns the first key >= key; include it if exactly equal.
	} else {
		pos--
	}
	for i := pos; i >= 0; i-- {
		n := c.index.keymap[c.index.keys[i]]
		if addr, ok := c.index.nodeTrueValue(c.commitLimit, n); ok {
			c.set(n, addr)
			return
		}
	}
	c.clear()
}

func (c *Cursor) Next() {
	if !c.valid {
		panic(errors.New("logic error: Next on an invalid cursor"))
	}
	c.current.mu.RLock()
	candidate := c.current.next
	c.current.mu.RUnlock()

	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	for candidate != nil {
		if addr, ok := c.index.nodeTrueValue(c.commitLimit, candidate); ok {
			c.set(candidate, addr)
			return
		}
		candidate.mu.RLock()
		next := candidate.next
		candidate.mu.RUnlock()
		candidate = next
	}
	c.clear()
}

func (c *Cursor) Prev() {
	if !c.valid {
		panic(errors.New("logic error: Prev on an invalid cursor"))
	}
	c.current.mu.RLock()
	candidate := c.current.prev
	c.current.mu.RUnlock()

	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	for candidate != nil {
		if addr, ok := c.index.nodeTrueValue(c.commitLimit, candidate); ok {
			c.set(candidate, addr)
			return
		}
		candidate.mu.RLock()
		prev := candidate.prev
		candidate.mu.RUnlock()
		candidate = prev
	}
	c.clear()
}

func (c *Cursor) set(n *node, addr types.Address) {
	c.current = n
	c.addr = addr
	c.valid = true
}

func (c *Cursor) clear() {
	c.current = nil
	c.valid = false
}
