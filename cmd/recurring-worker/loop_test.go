package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fintrack/internal/log"
	"fintrack/internal/recurring"
)

type fakeRunner struct {
	mu     sync.Mutex
	owners []string
	err    error
	calls  chan struct{}
}

func (f *fakeRunner) RunDue(_ context.Context, ownerID string, _ time.Time) (recurring.Result, error) {
	f.mu.Lock()
	f.owners = append(f.owners, ownerID)
	f.mu.Unlock()
	f.calls <- struct{}{}
	return recurring.Result{Generated: 1}, f.err
}

func TestRunScheduler_RunsOnStartupAndTicks(t *testing.T) {
	runner := &fakeRunner{calls: make(chan struct{}, 8)}
	logger := log.New(log.Config{Output: &bytes.Buffer{}})
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		runScheduler(ctx, logger, runner, 10*time.Millisecond, time.Now)
		close(stopped)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-runner.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d did not happen", i+1)
		}
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, owner := range runner.owners {
		assert.Empty(t, owner, "the worker processes every owner")
	}
}

func TestProcessDue_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Output: &buf})
	runner := &fakeRunner{calls: make(chan struct{}, 1), err: errors.New("db down")}

	processDue(context.Background(), logger, runner, time.Now())
	assert.Contains(t, buf.String(), "Recurring processing failed")
	assert.Contains(t, buf.String(), "db down")
}
