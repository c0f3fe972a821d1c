package background

import (
	"context"
	"testing"
	"time"
)

func TestConcurrencyManagerDefaultLimit(t *testing.T) {
	c := NewConcurrencyManager(2)

	if !c.TryAcquire("build") {
		t.Fatalf("expected first acquire to succeed")
	}
	if !c.TryAcquire("build") {
		t.Fatalf("expected second acquire to succeed")
	}
	if c.TryAcquire("build") {
		t.Fatalf("expected third acquire to fail, limit is 2")
	}

	c.Release("build")
	if !c.TryAcquire("build") {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestConcurrencyManagerPerKeyIsolation(t *testing.T) {
	c := NewConcurrencyManager(1)

	if !c.TryAcquire("a") {
		t.Fatalf("expected acquire on key a to succeed")
	}
	if !c.TryAcquire("b") {
		t.Fatalf("expected acquire on key b to succeed independently of key a")
	}
}

func TestConcurrencyManagerSetLimit(t *testing.T) {
	c := NewConcurrencyManager(1)
	c.SetLimit("wide", 3)

	for i := 0; i < 3; i++ {
		if !c.TryAcquire("wide") {
			t.Fatalf("acquire %d on overridden key should succeed", i)
		}
	}
	if c.TryAcquire("wide") {
		t.Fatalf("expected fourth acquire to fail against overridden limit of 3")
	}
	if got := c.Limit("wide"); got != 3 {
		t.Fatalf("Limit() = %d, want 3", got)
	}
}

func TestConcurrencyManagerAcquireBlocksUntilRelease(t *testing.T) {
	c := NewConcurrencyManager(1)
	if !c.TryAcquire("solo") {
		t.Fatalf("expected initial acquire to succeed")
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Release("solo")
		close(released)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Acquire(ctx, "solo"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	<-released
}

func TestConcurrencyManagerAcquireRespectsContextCancel(t *testing.T) {
	c := NewConcurrencyManager(1)
	if !c.TryAcquire("solo") {
		t.Fatalf("expected initial acquire to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Acquire(ctx, "solo"); err == nil {
		t.Fatalf("expected Acquire() to return an error when context is canceled")
	}
}

func TestConcurrencyManagerInUse(t *testing.T) {
	c := NewConcurrencyManager(2)
	c.TryAcquire("k")
	if got := c.InUse("k"); got != 1 {
		t.Fatalf("InUse() = %d, want 1", got)
	}
	c.TryAcquire("k")
	if got := c.InUse("k"); got != 2 {
		t.Fatalf("InUse() = %d, want 2", got)
	}
}
