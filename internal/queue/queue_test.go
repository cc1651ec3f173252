package queue

import (
	"testing"
	"time"

	"distributed-download-service/internal/job"
)

func TestStandardDrainsBeforeLow(t *testing.T) {
	q := New(10)
	_ = q.Enqueue("low-1", job.PriorityLow)
	_ = q.Enqueue("std-1", job.PriorityStandard)
	_ = q.Enqueue("low-2", job.PriorityLow)
	_ = q.Enqueue("std-2", job.PriorityStandard)

	cancel := make(chan struct{})
	order := []string{}
	for i := 0; i < 4; i++ {
		id, err := q.Dequeue(cancel)
		if err != nil {
			t.Fatalf("unexpected dequeue error: %v", err)
		}
		order = append(order, id)
	}

	want := []string{"std-1", "std-2", "low-1", "low-2"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order mismatch at %d: want %s got %s (full order %v)", i, w, order[i], order)
		}
	}
}

func TestEnqueueFullReturnsQueueFull(t *testing.T) {
	q := New(1)
	if err := q.Enqueue("a", job.PriorityStandard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue("b", job.PriorityStandard); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(10)
	cancel := make(chan struct{})
	result := make(chan string, 1)
	go func() {
		id, err := q.Dequeue(cancel)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		result <- id
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-result:
		t.Fatalf("dequeue should still be blocked on an empty queue")
	default:
	}

	_ = q.Enqueue("job-1", job.PriorityStandard)
	select {
	case id := <-result:
		if id != "job-1" {
			t.Fatalf("expected job-1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("dequeue did not unblock after enqueue")
	}
}

func TestDequeueCancellation(t *testing.T) {
	q := New(10)
	cancel := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(cancel)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	close(cancel)

	select {
	case err := <-done:
		if err != ErrCancelled {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("dequeue did not observe cancellation")
	}
}

func TestCloseWakesAllWaiters(t *testing.T) {
	q := New(10)
	cancel := make(chan struct{})
	const n = 5
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := q.Dequeue(cancel)
			done <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()

	for i := 0; i < n; i++ {
		select {
		case err := <-done:
			if err != ErrClosed {
				t.Fatalf("expected ErrClosed, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was not woken by Close", i)
		}
	}
}

// TestRapidEnqueueWakesAllParkedWaiters guards against the notify channel's
// single-slot buffer coalescing a burst of wakeups: with two workers already
// parked on an empty queue, two enqueues landing back-to-back must still
// eventually deliver one item to each waiter, even though only one send into
// notify can ever land before a waiter drains it.
func TestRapidEnqueueWakesAllParkedWaiters(t *testing.T) {
	q := New(10)
	cancel := make(chan struct{})
	const n = 2
	done := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			id, err := q.Dequeue(cancel)
			if err != nil {
				t.Errorf("unexpected dequeue error: %v", err)
				return
			}
			done <- id
		}()
	}
	time.Sleep(20 * time.Millisecond) // let both goroutines park in the select

	_ = q.Enqueue("job-1", job.PriorityStandard)
	_ = q.Enqueue("job-2", job.PriorityStandard)

	got := map[string]bool{}
	for i := 0; i < n; i++ {
		select {
		case id := <-done:
			got[id] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d waiters were woken; a wakeup was dropped", len(got), n)
		}
	}
	if !got["job-1"] || !got["job-2"] {
		t.Fatalf("expected both job-1 and job-2 to be dequeued, got %v", got)
	}
}

func TestLengths(t *testing.T) {
	q := New(10)
	_ = q.Enqueue("s1", job.PriorityStandard)
	_ = q.Enqueue("l1", job.PriorityLow)
	_ = q.Enqueue("l2", job.PriorityLow)

	std, low := q.Lengths()
	if std != 1 || low != 2 {
		t.Fatalf("expected (1, 2), got (%d, %d)", std, low)
	}
}
