package session

import (
	"context"
	"testing"
	"time"
)

// TestTaskQueueOrdersFIFO verifies §5's ordered task queue: two tasks
// submitted back-to-back complete in submission order, even when the first
// is slower than the second.
func TestTaskQueueOrdersFIFO(t *testing.T) {
	q := newTaskQueue()
	go func() {
		for {
			tk, ok := q.pop()
			if !ok {
				return
			}
			tk.done <- tk.run(nil)
		}
	}()

	var order []int
	orderCh := make(chan int, 2)

	first := newTask(taskPing)
	first.run = func(c *Conn) error {
		time.Sleep(20 * time.Millisecond)
		orderCh <- 1
		return nil
	}
	second := newTask(taskPing)
	second.run = func(c *Conn) error {
		orderCh <- 2
		return nil
	}

	q.push(first)
	q.push(second)

	<-first.done
	<-second.done
	close(orderCh)
	for v := range orderCh {
		order = append(order, v)
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected tasks to run in FIFO order [1 2], got %v", order)
	}
}

// TestSubmitRemovesCancelledQueuedTask verifies that cancelling a context
// before the dispatcher reaches a task excises it from the queue rather than
// leaving it to run later.
func TestSubmitRemovesCancelledQueuedTask(t *testing.T) {
	c := &Conn{queue: newTaskQueue()}
	go c.runQueue()

	blocker := make(chan struct{})
	blockerStarted := make(chan struct{})

	// Occupy the dispatcher so the next submit sits in the queue.
	blockingErr := make(chan error, 1)
	go func() {
		blockingErr <- c.submit(context.Background(), taskCommit, func(c *Conn) error {
			close(blockerStarted)
			<-blocker
			return nil
		})
	}()
	<-blockerStarted

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	submitDone := make(chan error, 1)
	go func() {
		submitDone <- c.submit(ctx, taskRollback, func(c *Conn) error {
			ran <- struct{}{}
			return nil
		})
	}()

	// Give submit time to push onto the queue before cancelling.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-submitDone:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit did not return after cancellation")
	}

	close(blocker)
	if err := <-blockingErr; err != nil {
		t.Fatalf("blocking task returned error: %v", err)
	}

	select {
	case <-ran:
		t.Fatal("cancelled task ran after being removed from the queue")
	case <-time.After(50 * time.Millisecond):
	}
}
