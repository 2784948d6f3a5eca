package transmit

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultGap = 250 * time.Millisecond

// Queue is an unbounded FIFO of codes drained by a single worker, which waits
// Gap after every send so transmissions never overlap or bunch up.
type Queue struct {
	Gap    time.Duration
	OnSent func(code string, took time.Duration, err error)

	sender Sender
	logger *log.Logger

	lock   sync.Mutex
	items  []string
	closed bool
	wake   chan struct{}
}

func NewQueue(sender Sender, gap time.Duration, logger *log.Logger) *Queue {
	return &Queue{
		Gap:    gap,
		sender: sender,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue appends code and returns immediately. Codes enqueued after Close are
// discarded.
func (q *Queue) Enqueue(code string) {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		if q.logger != nil {
			q.logger.Debug("queue closed, code dropped", "code", code)
		}
		return
	}
	q.items = append(q.items, code)
	q.lock.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.items)
}

// Close stops accepting codes. Codes already queued are still sent, after
// which Run returns.
func (q *Queue) Close() {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (code string, ok bool, closed bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.items) == 0 {
		closed = q.closed
		return
	}
	code = q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return code, true, false
}

// Run drains the queue until ctx is done, or until the queue is closed and
// empty.
func (q *Queue) Run(ctx context.Context) {
	for {
		code, ok, closed := q.pop()
		if closed {
			return
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		started := time.Now()
		err := q.sender.Send(ctx, code)
		took := time.Since(started)
		if err != nil && q.logger != nil {
			q.logger.Error("transmission failed", "sender", q.sender, "code", code, "err", err)
		}
		if q.OnSent != nil {
			q.OnSent(code, took, err)
		}

		if q.Gap > 0 {
			gap := time.NewTimer(q.Gap)
			select {
			case <-ctx.Done():
				gap.Stop()
				return
			case <-gap.C:
			}
		}
	}
}
