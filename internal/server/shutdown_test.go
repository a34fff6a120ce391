package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	var order []string
	sm.RegisterCloser("first", CloserFunc(func() error { order = append(order, "first"); return nil }))
	sm.RegisterCloser("second", CloserFunc(func() error { order = append(order, "second"); return nil }))

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("unexpected close order: %v", order)
	}
	if !sm.IsShuttingDown() {
		t.Error("manager should report shutting down")
	}
}

func TestShutdown_JoinsErrorsAndRunsOnce(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	calls := 0
	sm.RegisterCloser("a", CloserFunc(func() error { calls++; return errA }))
	sm.RegisterCloser("b", CloserFunc(func() error { calls++; return errB }))

	err := sm.Shutdown(context.Background(), "test")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors, got %v", err)
	}
	again := sm.Shutdown(context.Background(), "again")
	if calls != 2 {
		t.Errorf("closers should run once, ran %d times", calls)
	}
	if again == nil {
		t.Error("second call should return the first result")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 100 * time.Millisecond})
	if !sm.TrackRequest() {
		t.Fatal("request should be tracked before shutdown")
	}
	start := time.Now()
	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected drain timeout error")
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Errorf("drain should stop near its timeout, took %v", time.Since(start))
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if sm.InFlightCount() != 1 {
			t.Errorf("in-flight should be 1 during the request, got %d", sm.InFlightCount())
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("in-flight should return to 0, got %d", sm.InFlightCount())
	}

	sm.Shutdown(context.Background(), "test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", rec.Code)
	}
}
