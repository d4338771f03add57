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

package blocksy3_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brson/blocksy3"
)

func mustOpenMem(t *testing.T, names ...string) *blocksy3.Db {
	t.Helper()
	db, err := blocksy3.Open(context.Background(), blocksy3.WithTrees(names...))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return db
}

func readString(t *testing.T, rt *blocksy3.ReadTree, key string) (string, bool) {
	t.Helper()
	v, ok, err := rt.Read(context.Background(), []byte(key))
	if err != nil {
		t.Fatalf("Read(%q): %v", key, err)
	}
	return string(v), ok
}

// A committed write is visible to a ReadView captured after the
// commit, and absent from one captured before it.
func TestWriteThenReadIsVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	db := mustOpenMem(t, "things")

	before := db.ReadView()

	wb, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt, err := wb.Tree("things")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if err := wt.Write(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wb.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb.Close(ctx)

	after := db.ReadView()

	rtBefore, err := before.Tree("things")
	if err != nil {
		t.Fatalf("Tree (before): %v", err)
	}
	if _, ok := readString(t, rtBefore, "k"); ok {
		t.Fatalf("key visible in pre-commit view")
	}

	rtAfter, err := after.Tree("things")
	if err != nil {
		t.Fatalf("Tree (after): %v", err)
	}
	if v, ok := readString(t, rtAfter, "k"); !ok || v != "v" {
		t.Fatalf("Read(k) after commit = %q, %v, want v, true", v, ok)
	}
}

// A ReadView's results never change, even as later batches commit
// against the same tree.
func TestReadViewIsSnapshotIsolated(t *testing.T) {
	ctx := context.Background()
	db := mustOpenMem(t, "things")

	wb1, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt1, _ := wb1.Tree("things")
	if err := wt1.Write(ctx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wb1.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb1.Close(ctx)

	view := db.ReadView()

	wb2, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt2, _ := wb2.Tree("things")
	if err := wt2.Write(ctx, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wb2.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb2.Close(ctx)

	rt, err := view.Tree("things")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if v, ok := readString(t, rt, "k"); !ok || v != "v1" {
		t.Fatalf("Read(k) on stale view = %q, %v, want v1, true (pinned snapshot)", v, ok)
	}

	fresh, err := db.ReadView().Tree("things")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if v, ok := readString(t, fresh, "k"); !ok || v != "v2" {
		t.Fatalf("Read(k) on fresh view = %q, %v, want v2, true", v, ok)
	}
}

// A batch writing across two trees is visible in both, or neither,
// never just one.
func TestCommitIsAtomicAcrossTrees(t *testing.T) {
	ctx := context.Background()
	db := mustOpenMem(t, "a", "b")

	wb, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wtA, _ := wb.Tree("a")
	wtB, _ := wb.Tree("b")
	if err := wtA.Write(ctx, []byte("k"), []byte("va")); err != nil {
		t.Fatalf("Write(a): %v", err)
	}
	if err := wtB.Write(ctx, []byte("k"), []byte("vb")); err != nil {
		t.Fatalf("Write(b): %v", err)
	}
	if err := wb.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb.Close(ctx)

	view := db.ReadView()
	rtA, _ := view.Tree("a")
	rtB, _ := view.Tree("b")

	va, okA := readString(t, rtA, "k")
	vb, okB := readString(t, rtB, "k")
	if !okA || !okB || va != "va" || vb != "vb" {
		t.Fatalf("cross-tree commit not atomic: a=(%q,%v) b=(%q,%v)", va, okA, vb, okB)
	}
}

// Rolling back a save point drops the ops recorded since it was
// opened, but keeps whatever came before.
func TestSavePointRollbackAcrossBatch(t *testing.T) {
	ctx := context.Background()
	db := mustOpenMem(t, "things")

	wb, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt, _ := wb.Tree("things")
	if err := wt.Write(ctx, []byte("keep"), []byte("v1")); err != nil {
		t.Fatalf("Write(keep): %v", err)
	}
	if err := wb.PushSavePoint(ctx); err != nil {
		t.Fatalf("PushSavePoint: %v", err)
	}
	if err := wt.Write(ctx, []byte("drop"), []byte("v2")); err != nil {
		t.Fatalf("Write(drop): %v", err)
	}
	if err := wb.RollbackSavePoint(ctx); err != nil {
		t.Fatalf("RollbackSavePoint: %v", err)
	}
	if err := wb.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb.Close(ctx)

	rt, err := db.ReadView().Tree("things")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if v, ok := readString(t, rt, "keep"); !ok || v != "v1" {
		t.Fatalf("Read(keep) = %q, %v, want v1, true", v, ok)
	}
	if _, ok := readString(t, rt, "drop"); ok {
		t.Fatalf("Read(drop) = present, want rolled back")
	}
}

// Abort leaves no trace in a fresh ReadView.
func TestAbortLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	db := mustOpenMem(t, "things")

	wb, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt, _ := wb.Tree("things")
	if err := wt.Write(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wb.Abort(ctx); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	rt, err := db.ReadView().Tree("things")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if _, ok := readString(t, rt, "k"); ok {
		t.Fatalf("Read(k) after abort = present, want absent")
	}
}

func TestCursorWalksKeysInOrder(t *testing.T) {
	ctx := context.Background()
	db := mustOpenMem(t, "things")

	wb, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt, _ := wb.Tree("things")
	for _, kv := range [][2]string{{"b", "2"}, {"a", "1"}, {"c", "3"}} {
		if err := wt.Write(ctx, []byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("Write(%s): %v", kv[0], err)
		}
	}
	if err := wb.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb.Close(ctx)

	rt, err := db.ReadView().Tree("things")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	cur := rt.Cursor(ctx)
	var got []string
	for cur.SeekFirst(); cur.Valid(); cur.Next() {
		v, err := cur.Value()
		if err != nil {
			t.Fatalf("Value: %v", err)
		}
		got = append(got, string(cur.Key())+"="+string(v))
	}
	want := []string{"a=1", "b=2", "c=3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cursor walk mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteRangeInvalidBoundsRejected(t *testing.T) {
	ctx := context.Background()
	db := mustOpenMem(t, "things")

	wb, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt, _ := wb.Tree("things")
	err = wt.DeleteRange(ctx, []byte("z"), []byte("a"))
	if !errors.Is(err, blocksy3.ErrInvalidRange) {
		t.Fatalf("DeleteRange(z, a) error = %v, want ErrInvalidRange", err)
	}
	wb.Close(ctx)
}

func TestOpenRejectsReservedTreeName(t *testing.T) {
	_, err := blocksy3.Open(context.Background(), blocksy3.WithTrees("commits"))
	if !errors.Is(err, blocksy3.ErrInvalidConfig) {
		t.Fatalf("Open with reserved tree name error = %v, want ErrInvalidConfig", err)
	}
}

// A restart against the same directory recovers every committed
// write, without resurrecting an uncommitted one.
func TestRestartRecoversCommittedState(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	db, err := blocksy3.Open(ctx, blocksy3.WithDir(dir), blocksy3.WithTrees("things"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	wb, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt, _ := wb.Tree("things")
	if err := wt.Write(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wb.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb.Close(ctx)

	if err := db.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// An uncommitted batch left dangling across the restart.
	wb2, err := db.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt2, _ := wb2.Tree("things")
	if err := wt2.Write(ctx, []byte("orphan"), []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := db.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := blocksy3.Open(ctx, blocksy3.WithDir(dir), blocksy3.WithTrees("things"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() {
		if err := db2.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	rt, err := db2.ReadView().Tree("things")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if v, ok := readString(t, rt, "k"); !ok || v != "v" {
		t.Fatalf("Read(k) after restart = %q, %v, want v, true", v, ok)
	}
	if _, ok := readString(t, rt, "orphan"); ok {
		t.Fatalf("Read(orphan) after restart = present, want absent (batch never committed)")
	}

	// Writes continue to work on the reopened Db.
	wb3, err := db2.WriteBatch(ctx)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	wt3, _ := wb3.Tree("things")
	if err := wt3.Write(ctx, []byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wb3.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wb3.Close(ctx)
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Stat(dir): %v", err)
	}
}
