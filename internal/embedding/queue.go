package embedding

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned for requests that were still pending when the
// queue shut down.
var ErrQueueClosed = errors.New("embedding queue closed")

// shutdownGrace bounds how long an in-flight backend call may run after
// Close before its context is cancelled.
const shutdownGrace = 2 * time.Second

type embedResult struct {
	vector []float32
	err    error
}

type embedRequest struct {
	text string
	out  chan embedResult
}

// Queue serializes all embedding traffic onto a single worker so the
// backend never sees more than one outstanding call. Any number of
// producers may call Embed concurrently; requests complete in FIFO order.
type Queue struct {
	direct   DirectEmbedder
	cache    *Cache
	cooldown time.Duration
	logger   *zap.Logger

	requests  chan *embedRequest
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// workCtx covers in-flight backend calls; cancelled shutdownGrace
	// after Close.
	workCtx    context.Context
	workCancel context.CancelFunc
}

// NewQueue starts the worker goroutine. cacheSize <= 0 disables the cache.
func NewQueue(direct DirectEmbedder, cooldown time.Duration, cacheSize int, logger *zap.Logger) *Queue {
	workCtx, workCancel := context.WithCancel(context.Background())
	q := &Queue{
		direct:     direct,
		cooldown:   cooldown,
		logger:     logger,
		requests:   make(chan *embedRequest, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		workCtx:    workCtx,
		workCancel: workCancel,
	}
	if cacheSize > 0 {
		q.cache = NewCache(cacheSize)
	}
	go q.worker()
	return q
}

// Embed enqueues text and blocks until the worker completes it, the caller's
// context is cancelled, or the queue shuts down.
func (q *Queue) Embed(ctx context.Context, text string) ([]float32, error) {
	if q.cache != nil {
		if vec, ok := q.cache.Get(text); ok {
			return vec, nil
		}
	}

	req := &embedRequest{text: text, out: make(chan embedResult, 1)}
	select {
	case q.requests <- req:
	case <-q.quit:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.out:
		if res.err == nil && q.cache != nil {
			q.cache.Set(text, res.vector)
		}
		return res.vector, res.err
	case <-ctx.Done():
		// The worker still processes the request; the result is discarded.
		return nil, ctx.Err()
	}
}

// worker consumes requests strictly sequentially. EmbedDirect is never
// re-entered before the previous call has returned.
func (q *Queue) worker() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			q.drain()
			return
		case req := <-q.requests:
			vec, err := q.direct.EmbedDirect(q.workCtx, req.text)
			req.out <- embedResult{vector: vec, err: err}
			if err != nil {
				q.logger.Debug("embed request failed", zap.Error(err))
			}
			q.pause()
		}
	}
}

// pause applies the cooldown between consecutive backend calls, but only
// while more work is queued.
func (q *Queue) pause() {
	if q.cooldown <= 0 || len(q.requests) == 0 {
		return
	}
	select {
	case <-time.After(q.cooldown):
	case <-q.quit:
	}
}

// drain fails every request still queued at shutdown.
func (q *Queue) drain() {
	for {
		select {
		case req := <-q.requests:
			req.out <- embedResult{err: ErrQueueClosed}
		default:
			return
		}
	}
}

// Dimensions returns the backend's embedding dimension.
func (q *Queue) Dimensions() int {
	return q.direct.Dimensions()
}

// Model returns the backend's model identifier.
func (q *Queue) Model() string {
	return q.direct.Model()
}

// Close stops the worker. An in-flight call gets shutdownGrace to finish,
// then its context is cancelled. Pending queued requests fail with
// ErrQueueClosed.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.quit)
		timer := time.AfterFunc(shutdownGrace, q.workCancel)
		<-q.done
		timer.Stop()
		q.workCancel()
	})
	return nil
}
