package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_ChunkSizes(t *testing.T) {
	r := NewRunner(10, 5)
	if r.ChunkSize(Probe) != 10 {
		t.Errorf("expected probe chunk 10, got %d", r.ChunkSize(Probe))
	}
	if r.ChunkSize(Mutate) != 5 {
		t.Errorf("expected mutate chunk 5, got %d", r.ChunkSize(Mutate))
	}

	d := NewRunner(0, -1)
	if d.ChunkSize(Probe) != 10 || d.ChunkSize(Mutate) != 5 {
		t.Errorf("expected defaults 10/5, got %d/%d", d.ChunkSize(Probe), d.ChunkSize(Mutate))
	}
}

func TestRunner_RunVisitsEveryIndex(t *testing.T) {
	r := NewRunner(3, 2)
	seen := make([]int32, 11)

	if err := r.Run(context.Background(), Probe, len(seen), func(ctx context.Context, i int) {
		atomic.AddInt32(&seen[i], 1)
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, n := range seen {
		if n != 1 {
			t.Errorf("index %d visited %d times", i, n)
		}
	}
}

func TestRunner_BoundsInFlight(t *testing.T) {
	r := NewRunner(10, 3)

	var current, peak int32
	var mu sync.Mutex
	err := r.Run(context.Background(), Mutate, 12, func(ctx context.Context, i int) {
		n := atomic.AddInt32(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if peak > 3 {
		t.Errorf("expected at most 3 in flight, saw %d", peak)
	}
}

func TestRunner_ChunksDoNotOverlap(t *testing.T) {
	r := NewRunner(2, 2)

	var mu sync.Mutex
	var finished []int
	startedBeforeChunkDone := false

	_ = r.Run(context.Background(), Probe, 4, func(ctx context.Context, i int) {
		if i >= 2 {
			mu.Lock()
			if len(finished) < 2 {
				startedBeforeChunkDone = true
			}
			mu.Unlock()
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		finished = append(finished, i)
		mu.Unlock()
	})

	if startedBeforeChunkDone {
		t.Error("second chunk started before the first completed")
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	r := NewRunner(1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	err := r.Run(ctx, Probe, 5, func(ctx context.Context, i int) {
		atomic.AddInt32(&calls, 1)
		cancel()
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 call before stopping, got %d", calls)
	}
}

func TestMap_PreservesOrder(t *testing.T) {
	r := NewRunner(4, 4)
	in := []int{5, 1, 4, 2, 3, 9, 7}

	out, err := Map(context.Background(), r, Probe, in, func(ctx context.Context, v int) int {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return v * 10
	})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	for i, v := range in {
		if out[i] != v*10 {
			t.Errorf("out[%d] = %d, want %d", i, out[i], v*10)
		}
	}
}
