// Package queue provides a FIFO task queue that runs at most one task at a
// time across every caller that shares it.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Serial runs submitted tasks one at a time in submission order. A task that
// fails or panics never blocks the tasks queued behind it.
type Serial struct {
	mu      sync.Mutex
	tail    chan struct{} // closed when the last submitted task finishes
	pending atomic.Int64
	name    string
}

// NewSerial creates an idle queue. name is used in log fields only.
func NewSerial(name string) *Serial {
	return &Serial{name: name}
}

// Do waits for every earlier task to finish, then runs fn. If ctx is done
// while waiting, Do returns ctx.Err() without running fn and the queue
// keeps its order for later callers. Panics in fn are returned as errors.
func (s *Serial) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tail
	s.tail = done
	s.mu.Unlock()

	s.pending.Add(1)
	defer s.pending.Add(-1)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Hand our slot on only once the predecessor finishes.
			go func() {
				<-prev
				close(done)
			}()
			return ctx.Err()
		}
	}
	defer close(done)

	return s.run(ctx, fn)
}

func (s *Serial) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue %s: task panicked: %v", s.name, r)
			logrus.WithFields(logrus.Fields{
				"queue": s.name,
				"panic": r,
			}).Error("Task panicked, queue reset to idle")
		}
	}()
	if err := fn(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"queue": s.name,
			"error": err,
		}).Warn("Task failed, queue continues")
		return err
	}
	return nil
}

// Pending returns the number of tasks running or waiting.
func (s *Serial) Pending() int {
	return int(s.pending.Load())
}
