package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	valid := []string{"0 6 * * 1-5", "*/30 * * * * *", "@hourly", "@every 15m"}
	for _, spec := range valid {
		if err := Validate(spec); err != nil {
			t.Errorf("Validate(%q): %v", spec, err)
		}
	}
	invalid := []string{"", "not a cron", "61 * * * *"}
	for _, spec := range invalid {
		if err := Validate(spec); err == nil {
			t.Errorf("Validate(%q) succeeded, want error", spec)
		}
	}
}

func TestAddRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add("backtest", "@hourly", noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("backtest", "@daily", noop); err == nil {
		t.Error("duplicate Add succeeded, want error")
	}
	if err := s.Add("other", "bogus", noop); err == nil {
		t.Error("Add with bad spec succeeded, want error")
	}
	if s.Next().IsZero() {
		t.Error("Next is zero after registering a job")
	}
}

func TestRunNow(t *testing.T) {
	s := New(nil)
	var calls atomic.Int32
	wantErr := errors.New("boom")
	if err := s.Add("ok", "@daily", func(context.Context) error { calls.Add(1); return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("fails", "@daily", func(context.Context) error { return wantErr }); err != nil {
		t.Fatal(err)
	}

	if err := s.RunNow(context.Background(), "ok"); err != nil {
		t.Errorf("RunNow(ok): %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if err := s.RunNow(context.Background(), "fails"); !errors.Is(err, wantErr) {
		t.Errorf("RunNow(fails) = %v, want %v", err, wantErr)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("RunNow(missing) succeeded, want error")
	}
}

func TestRunFiresJobs(t *testing.T) {
	s := New(nil)
	fired := make(chan struct{}, 1)
	err := s.Add("tick", "* * * * * *", func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire within 3s")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
