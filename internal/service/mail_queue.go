package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const mailSendTimeout = 30 * time.Second

// MailQueue delivers mail in the background with a fixed number of workers.
// Enqueueing never blocks: when the queue is full the mail is dropped.
type MailQueue struct {
	mailer  Mailer
	jobs    chan Mail
	workers int
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	pending atomic.Int32
}

// NewMailQueue initializes a new mail queue that holds at most size
// undelivered mails
func NewMailQueue(m Mailer, workers, size int) *MailQueue {
	zap.L().Debug("Initializing mail queue", zap.Int("workers", workers), zap.Int("size", size))

	return &MailQueue{
		mailer:  m,
		jobs:    make(chan Mail, size),
		workers: workers,
	}
}

func (q *MailQueue) StartWorkerPool() {
	for range q.workers {
		q.wg.Add(1)
		go q.worker()
	}
}

func (q *MailQueue) worker() {
	defer q.wg.Done()

	for m := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), mailSendTimeout)
		err := q.mailer.Send(ctx, m)
		cancel()

		q.pending.Add(-1)

		if err != nil {
			zap.L().Error("Failed to deliver mail",
				zap.Strings("to", m.To),
				zap.String("subject", m.Subject),
				zap.Error(err))
		}
	}
}

// Enqueue schedules m for delivery and reports whether it was accepted
func (q *MailQueue) Enqueue(m Mail) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		zap.L().Error("Mail queue is stopped, dropping mail", zap.String("subject", m.Subject))
		return false
	}

	q.pending.Add(1)

	select {
	case q.jobs <- m:
		return true
	default:
		q.pending.Add(-1)
		zap.L().Error("Mail queue is full, dropping mail",
			zap.Strings("to", m.To),
			zap.String("subject", m.Subject))
		return false
	}
}

// Pending returns the number of mails accepted but not yet processed
func (q *MailQueue) Pending() int {
	return int(q.pending.Load())
}

// Stop stops accepting mail and waits for the workers to drain the queue
func (q *MailQueue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
}
