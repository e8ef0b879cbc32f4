package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aryankumar/tilebatch/internal/util"
)

// stuckScheduler accepts tasks but never finishes them; every poll blocks
// for hold before answering
func stuckScheduler(t *testing.T, hold time.Duration) string {
	t.Helper()
	var ids atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, TaskStatus{ID: fmt.Sprintf("task-%d", ids.Add(1)), State: RemotePending})
	})
	mux.HandleFunc("GET /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(hold):
		case <-r.Context().Done():
		}
		writeStatus(w, TaskStatus{ID: r.PathValue("id"), State: RemoteRunning})
	})
	mux.HandleFunc("DELETE /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, TaskStatus{ID: r.PathValue("id"), State: RemoteRunning})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func writeStatus(w http.ResponseWriter, status TaskStatus) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func TestDistributed_CloseReleasesClientAfterGraceTimeout(t *testing.T) {
	address := stuckScheduler(t, 300*time.Millisecond)

	ex, err := New(context.Background(), ConcurrencyDistributed,
		WithSchedulerAddress(address),
		WithShutdownGrace(20*time.Millisecond),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d := ex.(*distributed)
	released := make(chan struct{})
	d.releaseClient = func(c *fiber.Client) {
		fiber.ReleaseClient(c)
		close(released)
	}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for range ex.AsCompleted(context.Background(), squareTask, Range(2)) {
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for CountByState(ex.Futures())[StateRunning] < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("tasks were not submitted: %s", Summarize(ex.Futures()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	err = ex.Close()
	if !errors.Is(err, util.ErrTimeout) {
		t.Fatalf("expected a grace period timeout, got %v", err)
	}

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("client was not released after the pollers returned")
	}
	select {
	case <-consumed:
	case <-time.After(5 * time.Second):
		t.Fatal("iteration did not end after close")
	}

	for _, f := range ex.Futures() {
		if _, err := f.Result(); err == nil || !strings.Contains(err.Error(), "abandoned") {
			t.Errorf("future %d: expected an abandoned task, got %v", f.ID(), err)
		}
	}
}

func TestDistributed_CloseReleasesClient(t *testing.T) {
	address := stuckScheduler(t, time.Millisecond)

	ex, err := New(context.Background(), ConcurrencyDistributed,
		WithSchedulerAddress(address),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d := ex.(*distributed)
	var releases atomic.Int32
	d.releaseClient = func(c *fiber.Client) {
		fiber.ReleaseClient(c)
		releases.Add(1)
	}

	if err := ex.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ex.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := releases.Load(); got != 1 {
		t.Errorf("client released %d times, want 1", got)
	}
}
