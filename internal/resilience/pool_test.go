package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestForEach_VisitsEveryItemOnce(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	var mu sync.Mutex
	seen := make(map[int]int)

	err := ForEach(context.Background(), items, 3, func(_ context.Context, _ int, item int) error {
		mu.Lock()
		seen[item]++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != len(items) {
		t.Fatalf("expected %d items, got %d", len(items), len(seen))
	}
	for item, n := range seen {
		if n != 1 {
			t.Errorf("item %d visited %d times", item, n)
		}
	}
}

func TestForEach_RespectsConcurrency(t *testing.T) {
	items := make([]int, 20)
	var active, peak atomic.Int64

	err := ForEach(context.Background(), items, 3, func(_ context.Context, _ int, _ int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent workers, saw %d", peak.Load())
	}
}

func TestForEach_ErrorStops(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach(context.Background(), []int{1, 2, 3}, 1, func(_ context.Context, i int, _ int) error {
		if i == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestForEach_CanceledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ForEach(ctx, []int{1, 2}, 2, func(_ context.Context, _ int, _ int) error { return nil })
	if !IsAborted(err) {
		t.Errorf("expected aborted error, got %v", err)
	}
}

func TestForEach_Empty(t *testing.T) {
	if err := ForEach[int](context.Background(), nil, 3, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
