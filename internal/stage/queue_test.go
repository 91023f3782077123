package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// Ring Tests
// =============================================================================

func TestRing_WrapAround(t *testing.T) {
	r := NewRing[int](3)
	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			if !r.Push(round*10 + i) {
				t.Fatalf("round %d: Push(%d) failed", round, i)
			}
		}
		if r.Push(99) {
			t.Fatalf("round %d: Push on full ring succeeded", round)
		}
		for i := 0; i < 3; i++ {
			v, ok := r.Pop()
			if !ok || v != round*10+i {
				t.Fatalf("round %d: Pop() = %d, %v, want %d, true", round, v, ok, round*10+i)
			}
		}
		if _, ok := r.Pop(); ok {
			t.Fatalf("round %d: Pop on empty ring succeeded", round)
		}
	}
}

func TestRing_AppendTo(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)
	r.Pop()
	r.Push(3)
	r.Push(4)
	r.Push(5)

	if diff := cmp.Diff([]int{2, 3, 4, 5}, r.AppendTo(nil)); diff != "" {
		t.Errorf("AppendTo mismatch (-want +got):\n%s", diff)
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
}

// =============================================================================
// Queues Tests
// =============================================================================

func TestQueues_FIFOPerStage(t *testing.T) {
	q := New(5)
	for _, id := range []int{3, 1, 4} {
		if err := q.Push(ReadPending, id); err != nil {
			t.Fatalf("Push(%d) = %v", id, err)
		}
	}

	got, err := q.Pop(context.Background(), ReadPending, false, 3)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if diff := cmp.Diff([]int{3, 1, 4}, got); diff != "" {
		t.Errorf("Pop mismatch (-want +got):\n%s", diff)
	}
}

func TestQueues_PopRespectsMax(t *testing.T) {
	q := New(4)
	for i := range 4 {
		_ = q.Push(Idle, i)
	}

	got, _ := q.Pop(context.Background(), Idle, false, 3)
	if diff := cmp.Diff([]int{0, 1, 2}, got); diff != "" {
		t.Errorf("first Pop mismatch (-want +got):\n%s", diff)
	}
	got, _ = q.Pop(context.Background(), Idle, false, 3)
	if diff := cmp.Diff([]int{3}, got); diff != "" {
		t.Errorf("second Pop mismatch (-want +got):\n%s", diff)
	}
}

func TestQueues_NonBlockingEmpty(t *testing.T) {
	q := New(2)
	got, err := q.Pop(context.Background(), WaitPending, false, 2)
	if err != nil || len(got) != 0 {
		t.Errorf("Pop() = %v, %v, want empty, nil", got, err)
	}
}

func TestQueues_StagesAreIndependent(t *testing.T) {
	q := New(2)
	_ = q.Push(UploadPending, 1)

	if n := q.Len(ReadPending); n != 0 {
		t.Errorf("Len(ReadPending) = %d, want 0", n)
	}
	if n := q.Len(UploadPending); n != 1 {
		t.Errorf("Len(UploadPending) = %d, want 1", n)
	}
}

func TestQueues_PushFull(t *testing.T) {
	q := New(1) // capacity 2
	_ = q.Push(Idle, 0)
	_ = q.Push(Idle, 1)
	if err := q.Push(Idle, 2); !errors.Is(err, ErrFull) {
		t.Errorf("Push on full queue = %v, want ErrFull", err)
	}
}

func TestQueues_BlockingPopWakesOnPush(t *testing.T) {
	q := New(2)
	result := make(chan []int, 1)

	go func() {
		items, err := q.Pop(context.Background(), UploadPending, true, 2)
		if err != nil {
			t.Errorf("Pop() error = %v", err)
		}
		result <- items
	}()

	time.Sleep(20 * time.Millisecond)
	_ = q.Push(UploadPending, 7)

	select {
	case items := <-result:
		if diff := cmp.Diff([]int{7}, items); diff != "" {
			t.Errorf("Pop mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking Pop did not wake after Push")
	}
}

func TestQueues_StopWakesAllWaiters(t *testing.T) {
	const waiters = 6
	q := New(4)

	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	wg.Add(waiters)
	for i := range waiters {
		s := Stage(i % Count)
		go func() {
			defer wg.Done()
			items, err := q.Pop(context.Background(), s, true, 1)
			if len(items) != 0 {
				t.Errorf("Pop(%s) returned items %v after stop", s, items)
			}
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	q.Stop() // idempotent

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not wake every waiter")
	}

	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Pop() error = %v, want ErrStopped", err)
		}
	}
	if err := q.Push(Idle, 0); !errors.Is(err, ErrStopped) {
		t.Errorf("Push after Stop = %v, want ErrStopped", err)
	}
}

func TestQueues_StopDeliversQueuedItems(t *testing.T) {
	q := New(3)
	_ = q.Push(ReadPending, 2)
	_ = q.Push(ReadPending, 0)
	q.Stop()

	got, err := q.Pop(context.Background(), ReadPending, true, 3)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if diff := cmp.Diff([]int{2, 0}, got); diff != "" {
		t.Errorf("Pop mismatch (-want +got):\n%s", diff)
	}

	if _, err := q.Pop(context.Background(), ReadPending, true, 3); !errors.Is(err, ErrStopped) {
		t.Errorf("Pop on drained stopped queue = %v, want ErrStopped", err)
	}
}

func TestQueues_TakeRefusesAfterStop(t *testing.T) {
	q := New(3)
	_ = q.Push(Idle, 1)
	_ = q.Push(Idle, 2)

	got, err := q.Take(context.Background(), Idle, false, 1)
	if err != nil || len(got) != 1 || got[0] != 1 {
		t.Fatalf("Take() before Stop = %v, %v, want [1], nil", got, err)
	}

	q.Stop()
	for _, block := range []bool{false, true} {
		if got, err := q.Take(context.Background(), Idle, block, 1); !errors.Is(err, ErrStopped) {
			t.Errorf("Take(block=%v) after Stop = %v, %v, want ErrStopped", block, got, err)
		}
	}
	if n := q.Len(Idle); n != 1 {
		t.Errorf("Len(Idle) = %d, want 1 (Take must leave queued items)", n)
	}
}

func TestQueues_TakeWakesOnStop(t *testing.T) {
	q := New(2)
	errs := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background(), ReadPending, true, 1)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Take() = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take still blocked after Stop")
	}
}

func TestQueues_Drain(t *testing.T) {
	q := New(4)
	_ = q.Push(Idle, 3)
	_ = q.Push(Idle, 0)
	_ = q.Push(UploadPending, 2)
	q.Stop()

	want := [Count][]int{{3, 0}, nil, {2}, nil}
	if diff := cmp.Diff(want, q.Drain()); diff != "" {
		t.Errorf("Drain mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([Count][]int{}, q.Drain()); diff != "" {
		t.Errorf("second Drain mismatch (-want +got):\n%s", diff)
	}
}

func TestQueues_PopContextCancel(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := q.Pop(ctx, Idle, true, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pop() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Pop returned after %v, want prompt cancellation", elapsed)
	}
}

func TestQueues_Snapshot(t *testing.T) {
	q := New(4)
	_ = q.Push(Idle, 0)
	_ = q.Push(Idle, 3)
	_ = q.Push(WaitPending, 1)

	snap := q.Snapshot()
	want := [Count][]int{{0, 3}, nil, nil, {1}}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStage_String(t *testing.T) {
	tests := []struct {
		s    Stage
		want string
	}{
		{Idle, "Idle"},
		{ReadPending, "ReadPending"},
		{UploadPending, "UploadPending"},
		{WaitPending, "WaitPending"},
		{Stage(9), "Stage(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Stage(%d).String() = %q, want %q", uint8(tt.s), got, tt.want)
		}
	}
	if WaitPending.Next() != Idle {
		t.Errorf("WaitPending.Next() = %s, want Idle", WaitPending.Next())
	}
}
