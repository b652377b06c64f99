package gate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitNoIntervalDoesNotBlock(t *testing.T) {
	g := New(0, false)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Wait(context.Background(), "acc"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Wait() with zero interval took %s", elapsed)
	}

	if _, ok := g.LastRequest("acc"); !ok {
		t.Error("LastRequest() not recorded after Wait()")
	}
}

func TestWaitSpacesRequests(t *testing.T) {
	g := New(50*time.Millisecond, false)

	if err := g.Wait(context.Background(), "acc"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	start := time.Now()
	if err := g.Wait(context.Background(), "acc"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second Wait() returned after %s, want at least ~50ms", elapsed)
	}
}

func TestWaitIsPerAccount(t *testing.T) {
	g := New(time.Second, false)

	if err := g.Wait(context.Background(), "a"); err != nil {
		t.Fatalf("Wait(a) error = %v", err)
	}
	start := time.Now()
	if err := g.Wait(context.Background(), "b"); err != nil {
		t.Fatalf("Wait(b) error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Wait on a different account blocked for %s", elapsed)
	}
}

func TestWaitCancellation(t *testing.T) {
	g := New(time.Minute, false)

	if err := g.Wait(context.Background(), "acc"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx, "acc"); err == nil {
		t.Error("Wait() = nil with cancelled context, want error")
	}
}

func TestAwaitApprovalDisabled(t *testing.T) {
	g := New(0, false)
	if err := g.AwaitApproval(context.Background()); err != nil {
		t.Errorf("AwaitApproval() error = %v with manual mode off", err)
	}
	if len(g.Pending()) != 0 {
		t.Error("Pending() non-empty with manual mode off")
	}
}

func TestAwaitApprovalAccept(t *testing.T) {
	g := New(0, true)

	result := make(chan error, 1)
	go func() { result <- g.AwaitApproval(context.Background()) }()

	id := waitForPending(t, g)
	if err := g.Resolve(id, true); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := <-result; err != nil {
		t.Errorf("AwaitApproval() error = %v after acceptance", err)
	}
}

func TestAwaitApprovalReject(t *testing.T) {
	g := New(0, true)

	result := make(chan error, 1)
	go func() { result <- g.AwaitApproval(context.Background()) }()

	id := waitForPending(t, g)
	if err := g.Resolve(id, false); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := <-result; !errors.Is(err, ErrNotApproved) {
		t.Errorf("AwaitApproval() error = %v, want ErrNotApproved", err)
	}
}

func TestAwaitApprovalContextCancel(t *testing.T) {
	g := New(0, true)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- g.AwaitApproval(ctx) }()

	waitForPending(t, g)
	cancel()

	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Errorf("AwaitApproval() error = %v, want context.Canceled", err)
	}

	// The abandoned entry must not linger.
	deadline := time.After(time.Second)
	for len(g.Pending()) != 0 {
		select {
		case <-deadline:
			t.Fatal("pending entry not cleaned up after cancellation")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestResolveUnknownID(t *testing.T) {
	g := New(0, true)
	if err := g.Resolve("nope", true); err == nil {
		t.Error("Resolve(unknown) = nil, want error")
	}
}

func waitForPending(t *testing.T, g *Gate) string {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if pending := g.Pending(); len(pending) == 1 {
			return pending[0].ID
		}
		select {
		case <-deadline:
			t.Fatal("no pending approval appeared")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
