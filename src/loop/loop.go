// Package loop provides a serial executor: posted callbacks run one at a
// time, in posting order, on a single goroutine that lives only while
// there is work queued. Posting never blocks, so a callback may post more.
package loop

import (
	"sync"

	"github.com/rs/zerolog"
)

// Loop runs posted callbacks serially.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	idle    *sync.Cond
	logger  zerolog.Logger
}

// New creates an idle loop.
func New(logger zerolog.Logger) *Loop {
	l := &Loop{logger: logger}
	l.idle = sync.NewCond(&l.mu)
	return l
}

// Post queues fn behind every previously posted callback.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	go l.drain()
}

// Wait blocks until the queue is empty and nothing is running.
func (l *Loop) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.running {
		l.idle.Wait()
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.idle.Broadcast()
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(fn)
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("loop callback panicked")
		}
	}()
	fn()
}
