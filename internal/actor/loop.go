// Package actor provides the single-threaded event loop that owns all chat
// state. Socket read pumps, dial goroutines and timers never touch state
// directly; they post tasks into the loop's mailbox, which runs them one at a
// time in arrival order.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/streamchat/internal/logger"
)

var (
	// ErrNotStarted is returned when posting to a loop that was never started
	ErrNotStarted = errors.New("actor loop not started")
	// ErrStopped is returned when posting to a stopped loop
	ErrStopped = errors.New("actor loop stopped")
)

// Task is a unit of work executed on the loop goroutine
type Task func()

// Loop is a mailbox processed by exactly one goroutine
type Loop struct {
	id        string
	mailbox   chan Task
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	stopped   bool
	wg        sync.WaitGroup
	processed atomic.Int64
	panics    atomic.Int64

	startTime    time.Time
	lastActivity atomic.Int64 // unix nanos
	lastPanic    atomic.Value // string
}

// NewLoop creates a loop with the given id and mailbox capacity
func NewLoop(id string, mailboxSize int) *Loop {
	if mailboxSize <= 0 {
		mailboxSize = 1
	}
	return &Loop{
		id:      id,
		mailbox: make(chan Task, mailboxSize),
	}
}

// ID returns the loop's identifier
func (l *Loop) ID() string {
	return l.id
}

// Start launches the processing goroutine
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}
	if l.started {
		return fmt.Errorf("actor loop %s already started", l.id)
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true
	l.startTime = time.Now()
	l.lastActivity.Store(l.startTime.UnixNano())

	l.wg.Add(1)
	go l.run(l.ctx)
	return nil
}

// Stop cancels the loop and waits for the running task to finish.
// Tasks still queued in the mailbox are dropped.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped || !l.started {
		l.stopped = true
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues a task. It blocks while the mailbox is full so that no event
// is ever dropped or reordered, and fails only once the loop is stopped.
// Post must not be called from a task running on the same loop while the
// mailbox may be full.
func (l *Loop) Post(task Task) error {
	l.mu.RLock()
	if !l.started {
		l.mu.RUnlock()
		return ErrNotStarted
	}
	if l.stopped {
		l.mu.RUnlock()
		return ErrStopped
	}
	ctx := l.ctx
	l.mu.RUnlock()

	select {
	case l.mailbox <- task:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

// Call posts a task and waits until it has run. It must never be called
// from inside a task, since the loop would wait on itself.
func (l *Loop) Call(task Task) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		task()
	}); err != nil {
		return err
	}

	l.mu.RLock()
	ctx := l.ctx
	l.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

// Processed returns how many tasks have run
func (l *Loop) Processed() int64 {
	return l.processed.Load()
}

// Panics returns how many tasks panicked
func (l *Loop) Panics() int64 {
	return l.panics.Load()
}

// Pending returns the number of queued tasks
func (l *Loop) Pending() int {
	return len(l.mailbox)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.mailbox:
			l.execute(task)
		}
	}
}

func (l *Loop) execute(task Task) {
	defer func() {
		l.processed.Add(1)
		l.lastActivity.Store(time.Now().UnixNano())
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.lastPanic.Store(fmt.Sprint(r))
			logger.Error("Actor %s task panicked: %v", l.id, r)
		}
	}()
	task()
}

// Timer is a cancellable delayed task that runs on the loop
type Timer struct {
	timer *time.Timer
	done  atomic.Bool
}

// AfterFunc runs task on the loop after d. A timer stopped after it fired
// but before the loop picked it up still never runs.
func (l *Loop) AfterFunc(d time.Duration, task Task) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		err := l.Post(func() {
			if !t.done.CompareAndSwap(false, true) {
				return
			}
			task()
		})
		if err != nil {
			logger.Debug("Actor %s dropped timer task: %v", l.id, err)
		}
	})
	return t
}

// Stop prevents the task from running. It reports whether the call stopped
// the timer, false if the task already ran or the timer was stopped before.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.timer.Stop()
	return t.done.CompareAndSwap(false, true)
}
