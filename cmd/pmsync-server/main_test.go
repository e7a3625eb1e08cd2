package main

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/config"
)

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	s := newScheduler(zerolog.Nop())
	var n atomic.Int32
	s.every("tick", 5*time.Millisecond, func(context.Context) { n.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	s.start(ctx)

	deadline := time.After(2 * time.Second)
	for n.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("task did not run twice")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	s.wait()

	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	if n.Load() != after {
		t.Error("task kept running after cancel")
	}
}

func TestScheduler_DisabledInterval(t *testing.T) {
	var buf bytes.Buffer
	s := newScheduler(zerolog.New(&buf))
	s.every("off", 0, func(context.Context) { t.Error("disabled task ran") })
	if len(s.tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(s.tasks))
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"task":"off"`)) {
		t.Errorf("expected disabled task to be logged, got %s", buf.String())
	}

	s.start(context.Background())
	s.wait()
}

func TestUpstreamOptions_RetryBudget(t *testing.T) {
	tests := []struct {
		configured int
		want       int
	}{
		{configured: 0, want: -1},
		{configured: 1, want: 1},
		{configured: 5, want: 5},
	}
	for _, tt := range tests {
		opts := upstreamOptions(&config.Config{UpstreamMaxRetries: tt.configured, UpstreamTimeout: time.Second})
		if opts.MaxRetries != tt.want {
			t.Errorf("UPSTREAM_MAX_RETRIES=%d: got MaxRetries %d, want %d", tt.configured, opts.MaxRetries, tt.want)
		}
		if opts.Timeout != time.Second {
			t.Errorf("expected timeout carried over, got %s", opts.Timeout)
		}
	}
}
