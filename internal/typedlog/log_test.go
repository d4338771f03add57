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

package typedlog_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/brson/blocksy3/internal/logbackend"
	"github.com/brson/blocksy3/internal/typedlog"
)

func intLog() *typedlog.Log[int] {
	return typedlog.New(
		logbackend.NewMem(),
		func(v int) ([]byte, error) { return []byte(strconv.Itoa(v)), nil },
		func(b []byte) (int, error) { return strconv.Atoi(string(b)) },
	)
}

func TestLogAppendReadAt(t *testing.T) {
	ctx := context.Background()
	l := intLog()

	a0, err := l.Append(ctx, 10)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	a1, err := l.Append(ctx, 20)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	v, next, ok, err := l.ReadAt(ctx, a0)
	if err != nil || !ok || v != 10 || next != a1 {
		t.Fatalf("ReadAt(a0) = %d, next=%v, ok=%v, err=%v", v, next, ok, err)
	}
}

func TestLogReplay(t *testing.T) {
	ctx := context.Background()
	l := intLog()
	want := []int{1, 2, 3, 4, 5}
	for _, v := range want {
		if _, err := l.Append(ctx, v); err != nil {
			t.Fatalf("Append(%d): %v", v, err)
		}
	}

	var got []int
	for e, err := range l.Replay(ctx) {
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		got = append(got, e.Rec)
	}
	if len(got) != len(want) {
		t.Fatalf("Replay returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Replay[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestLogReplayStopsEarly(t *testing.T) {
	ctx := context.Background()
	l := intLog()
	for _, v := range []int{1, 2, 3, 4, 5} {
		if _, err := l.Append(ctx, v); err != nil {
			t.Fatalf("Append(%d): %v", v, err)
		}
	}

	var got []int
	for e, err := range l.Replay(ctx) {
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		got = append(got, e.Rec)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 {
		t.Fatalf("Replay with early break yielded %v, want 2 entries", got)
	}
}

func TestLogReplayDecodeError(t *testing.T) {
	ctx := context.Background()
	backend := logbackend.NewMem()
	if _, err := backend.Append(ctx, []byte("not-a-number")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	l := typedlog.New(
		backend,
		func(v int) ([]byte, error) { return []byte(strconv.Itoa(v)), nil },
		func(b []byte) (int, error) { return strconv.Atoi(string(b)) },
	)

	var replayErr error
	for _, err := range l.Replay(ctx) {
		if err != nil {
			replayErr = err
		}
	}
	if replayErr == nil {
		t.Fatalf("Replay over undecodable record returned no error")
	}
}

func TestPullerIncrementalConsumption(t *testing.T) {
	ctx := context.Background()
	l := intLog()
	for _, v := range []int{1, 2, 3} {
		if _, err := l.Append(ctx, v); err != nil {
			t.Fatalf("Append(%d): %v", v, err)
		}
	}

	p := typedlog.NewPuller(ctx, l)
	defer p.Stop()

	e, err, ok := p.Next()
	if err != nil || !ok || e.Rec != 1 {
		t.Fatalf("Next() = %+v, ok=%v, err=%v, want 1", e, ok, err)
	}
	e, err, ok = p.Next()
	if err != nil || !ok || e.Rec != 2 {
		t.Fatalf("Next() = %+v, ok=%v, err=%v, want 2", e, ok, err)
	}
	e, err, ok = p.Next()
	if err != nil || !ok || e.Rec != 3 {
		t.Fatalf("Next() = %+v, ok=%v, err=%v, want 3", e, ok, err)
	}
	if _, _, ok := p.Next(); ok {
		t.Fatalf("Next() at end of log returned ok=true")
	}
}

func TestLogEmpty(t *testing.T) {
	ctx := context.Background()
	l := intLog()
	if empty, err := l.IsEmpty(ctx); err != nil || !empty {
		t.Fatalf("IsEmpty = %v, %v, want true, nil", empty, err)
	}
	if _, err := l.Append(ctx, 1); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if empty, err := l.IsEmpty(ctx); err != nil || empty {
		t.Fatalf("IsEmpty = %v, %v, want false, nil", empty, err)
	}
}
