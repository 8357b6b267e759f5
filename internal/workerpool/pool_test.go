package workerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestInlinePoolRunsSynchronously(t *testing.T) {
	p := New(1)
	if !p.Inline() {
		t.Fatal("size 1 pool should be inline")
	}
	ran := false
	p.Submit(func() { ran = true })
	if !ran {
		t.Fatal("Submit on an inline pool must run the task before returning")
	}
}

func TestBackgroundPoolRunsAllTasks(t *testing.T) {
	p := New(4)
	defer p.Close()

	var n int64
	const tasks = 200
	for i := 0; i < tasks; i++ {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&n) != tasks {
		select {
		case <-deadline:
			t.Fatalf("only %d/%d tasks completed", atomic.LoadInt64(&n), tasks)
		default:
		}
	}
}

func TestDoBlocksUntilComplete(t *testing.T) {
	p := New(2)
	defer p.Close()

	result := 0
	p.Do(func() { result = 42 })
	if result != 42 {
		t.Fatalf("Do returned before task completed: result = %d", result)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	p := New(2)
	var n int64
	for i := 0; i < 50; i++ {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}
	p.Close()
	if atomic.LoadInt64(&n) != 50 {
		t.Fatalf("Close returned with %d/50 tasks still pending", n)
	}
}
