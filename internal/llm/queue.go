package llm

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// Priority selects which of the queue's two lanes a request is placed on.
type Priority int

const (
	// Normal is a fresh analysis request (the Director agent).
	Normal Priority = iota
	// High is a pipeline-continuation request (Quant, Risk, Execution
	// agents run after a Director decision) — these should not wait
	// behind a backlog of brand-new analyses.
	High
)

type queuedRequest struct {
	systemPrompt string
	userInput    string
	resp         chan queuedResult
}

type queuedResult struct {
	text string
	err  error
}

// Queue serializes AgentClient access behind two priority lanes and a
// shared concurrency cap. High-priority requests are always dispatched
// ahead of normal-priority ones: a normal request is taken only when the
// high lane is empty, so a steady stream of high-priority work can delay
// normal requests indefinitely.
type Queue struct {
	client AgentClient
	sem    *semaphore.Weighted
	high   chan queuedRequest
	normal chan queuedRequest
	logger *slog.Logger
}

// NewQueue starts the queue's dispatch loop in a background goroutine and
// returns immediately. The loop exits when ctx is canceled. maxConcurrent
// and queueSize fall back to sane defaults (4 and 64) when <= 0.
func NewQueue(ctx context.Context, client AgentClient, maxConcurrent, queueSize int, logger *slog.Logger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	q := &Queue{
		client: client,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		high:   make(chan queuedRequest, queueSize),
		normal: make(chan queuedRequest, queueSize),
		logger: logger,
	}
	go q.run(ctx)
	return q
}

// nextRequest picks the next request to dispatch, preferring high over
// normal whenever both have something ready. It reports ok=false once ctx
// is canceled.
func nextRequest(ctx context.Context, high, normal chan queuedRequest) (req queuedRequest, lane string, ok bool) {
	select {
	case req := <-high:
		return req, "high", true
	default:
	}

	select {
	case <-ctx.Done():
		return queuedRequest{}, "", false
	case req := <-high:
		return req, "high", true
	case req := <-normal:
		return req, "normal", true
	}
}

func (q *Queue) run(ctx context.Context) {
	q.logger.Info("llm queue dispatch started")
	for {
		req, lane, ok := nextRequest(ctx, q.high, q.normal)
		if !ok {
			q.logger.Info("llm queue dispatch stopped")
			return
		}
		q.dispatch(ctx, req, lane)
	}
}

// dispatch hands req off to a goroutine that waits for its own semaphore
// slot. Acquiring inside the goroutine (rather than blocking here) keeps
// the dispatch loop free to keep draining the high-priority lane first
// even while every concurrency slot is occupied.
func (q *Queue) dispatch(ctx context.Context, req queuedRequest, lane string) {
	go func() {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			req.resp <- queuedResult{err: fmt.Errorf("llm: acquire slot: %w", err)}
			return
		}
		defer q.sem.Release(1)
		q.logger.Debug("dispatching llm request", "lane", lane)
		text, err := q.client.Complete(ctx, req.systemPrompt, req.userInput)
		req.resp <- queuedResult{text: text, err: err}
	}()
}

// Chat enqueues a request at the given priority and blocks until it is
// processed or ctx is canceled.
func (q *Queue) Chat(ctx context.Context, systemPrompt, userInput string, priority Priority) (string, error) {
	req := queuedRequest{systemPrompt: systemPrompt, userInput: userInput, resp: make(chan queuedResult, 1)}

	lane := q.normal
	if priority == High {
		lane = q.high
	}

	select {
	case lane <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.resp:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ChatNormal is a convenience wrapper for Priority Normal.
func (q *Queue) ChatNormal(ctx context.Context, systemPrompt, userInput string) (string, error) {
	return q.Chat(ctx, systemPrompt, userInput, Normal)
}

// ChatHigh is a convenience wrapper for Priority High.
func (q *Queue) ChatHigh(ctx context.Context, systemPrompt, userInput string) (string, error) {
	return q.Chat(ctx, systemPrompt, userInput, High)
}
