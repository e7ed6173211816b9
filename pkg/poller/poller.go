package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sigweihq/solwallet/pkg/constants"
)

// PollFunc is called on every tick. Returning true means the poll yielded
// data and resets the attempt count.
type PollFunc func(ctx context.Context) bool

// Options configures a Task
type Options struct {
	// Schedule lists the delays before each attempt; the last one repeats
	Schedule    []time.Duration
	MaxAttempts int
}

// Task is a cancellable periodic poll with a fixed backoff schedule. After
// MaxAttempts consecutive empty polls it stops on its own.
type Task struct {
	opts Options
	fn   PollFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a stopped task. Zero options use the default account polling
// schedule.
func New(fn PollFunc, opts Options) *Task {
	if len(opts.Schedule) == 0 {
		opts.Schedule = constants.PollSchedule
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.MaxPollAttempts
	}
	return &Task{opts: opts, fn: fn}
}

// Start begins polling in a goroutine. Starting a running task restarts it.
func (t *Task) Start(ctx context.Context) {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel, t.done, t.running = cancel, done, true

	go t.run(runCtx, done)
}

// Stop cancels the task. It does not wait for an in-flight poll, so it is
// safe to call from inside the poll function; the poll sees its context
// cancelled.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel, t.done, t.running = nil, nil, false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Done is closed when the current run exits; nil when the task never started
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Running reports whether the task is scheduled
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Task) delay(attempt int) time.Duration {
	if attempt >= len(t.opts.Schedule) {
		return t.opts.Schedule[len(t.opts.Schedule)-1]
	}
	return t.opts.Schedule[attempt]
}

func (t *Task) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	timer := time.NewTimer(t.delay(attempt))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		if t.fn(ctx) {
			attempt = 0
		} else {
			attempt++
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= t.opts.MaxAttempts {
			t.mu.Lock()
			if t.done == done {
				t.running = false
			}
			t.mu.Unlock()
			return
		}
		timer.Reset(t.delay(attempt))
	}
}
