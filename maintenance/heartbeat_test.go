package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockPinger implements Pinger for testing.
type mockPinger struct {
	count atomic.Int32
	fail  atomic.Bool
}

func (m *mockPinger) Ping(ctx context.Context) error {
	m.count.Add(1)
	if m.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestHeartbeat_StartStop(t *testing.T) {
	pinger := &mockPinger{}
	hb := NewHeartbeat(pinger, &HeartbeatConfig{
		Interval: 50 * time.Millisecond,
	})

	ctx := context.Background()

	// Start should succeed
	if err := hb.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !hb.IsRunning() {
		t.Error("Expected heartbeat to be running")
	}

	// Second start should fail
	if err := hb.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	// Wait for some heartbeats
	time.Sleep(150 * time.Millisecond)

	// Stop should succeed
	if err := hb.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if hb.IsRunning() {
		t.Error("Expected heartbeat to not be running")
	}

	// Should have pinged at least twice (initial + ticks)
	if count := pinger.count.Load(); count < 2 {
		t.Errorf("Ping count = %d, want >= 2", count)
	}
}

func TestHeartbeat_StopNotStarted(t *testing.T) {
	hb := NewHeartbeat(&mockPinger{}, nil)

	if err := hb.Stop(context.Background()); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestHeartbeat_ErrorAndRecover(t *testing.T) {
	pinger := &mockPinger{}
	pinger.fail.Store(true)

	var errorCount, recoverCount atomic.Int32
	hb := NewHeartbeat(pinger, &HeartbeatConfig{
		Interval: 20 * time.Millisecond,
		OnError: func(err error) {
			errorCount.Add(1)
		},
		OnRecover: func() {
			recoverCount.Add(1)
		},
	})

	ctx := context.Background()
	if err := hb.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(70 * time.Millisecond)
	if hb.Healthy() {
		t.Error("Expected heartbeat to be unhealthy")
	}

	pinger.fail.Store(false)
	time.Sleep(70 * time.Millisecond)

	if err := hb.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if errorCount.Load() == 0 {
		t.Error("Expected OnError to be called at least once")
	}
	if recoverCount.Load() != 1 {
		t.Errorf("OnRecover called %d times, want 1", recoverCount.Load())
	}
	if !hb.Healthy() {
		t.Error("Expected heartbeat to be healthy after recovery")
	}
}

func TestPingerFunc(t *testing.T) {
	called := false
	var p Pinger = PingerFunc(func(ctx context.Context) error {
		called = true
		return nil
	})
	if err := p.Ping(context.Background()); err != nil || !called {
		t.Errorf("PingerFunc.Ping() = %v, called = %v", err, called)
	}
}

func TestDefaultHeartbeatConfig(t *testing.T) {
	config := DefaultHeartbeatConfig()

	if config.Interval != DefaultHeartbeatInterval {
		t.Errorf("Interval = %v, want %v", config.Interval, DefaultHeartbeatInterval)
	}
	if config.Timeout != DefaultHeartbeatTimeout {
		t.Errorf("Timeout = %v, want %v", config.Timeout, DefaultHeartbeatTimeout)
	}
}
