package escrow

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestSweeper_ExpiresOverdueSessions(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	created := time.Now().Add(-3 * time.Hour)
	service.WithClock(func() time.Time { return created })

	req := validCreateRequest()
	req.TTL = "1h"
	session, err := service.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	service.WithClock(time.Now)

	sweeper := NewSweeper(service, 10*time.Millisecond, slog.Default())
	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sweeper.Start(sweepCtx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := service.Get(ctx, session.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status == StatusExpired {
			sweeper.Stop()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session was never expired by the sweeper")
}

func TestSweeper_StartStop(t *testing.T) {
	service, _ := newTestService()
	sweeper := NewSweeper(service, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for !sweeper.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !sweeper.Running() {
		t.Fatal("sweeper never started")
	}

	sweeper.Stop()
	deadline = time.Now().Add(time.Second)
	for sweeper.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sweeper.Running() {
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_DefaultInterval(t *testing.T) {
	service, _ := newTestService()
	sweeper := NewSweeper(service, 0, slog.Default())
	if sweeper.interval != 30*time.Second {
		t.Errorf("Expected 30s default interval, got %v", sweeper.interval)
	}
}
