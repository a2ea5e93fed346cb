package messaging

import (
	"context"
	"fmt"
	"sync"
)

// SendResponse is the outcome of one multicast target.
type SendResponse struct {
	Success   bool
	MessageID string
	Error     error
}

// BatchResponse aggregates a multicast dispatch. Responses preserves input
// order: Responses[i] corresponds to Tokens[i] regardless of completion
// order, and SuccessCount+FailureCount == len(Responses) always holds.
type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Responses    []*SendResponse
}

// SendMulticast fans the template out to every token through a bounded
// worker pool. Individual send failures and timeouts are recorded per target
// and never fail the call; only pre-flight validation returns an error.
//
// When ctx is cancelled mid-dispatch, targets not yet handed to a worker are
// recorded as failures with the context error, and sends already in flight
// run to their own completion or timeout.
func (c *Client) SendMulticast(ctx context.Context, msg *MulticastMessage) (*BatchResponse, error) {
	if msg == nil || len(msg.Tokens) == 0 {
		return nil, ErrNoTargets
	}
	n := len(msg.Tokens)
	if n > MaxMulticastTokens {
		return nil, fmt.Errorf("%w: %d tokens, limit %d", ErrTooManyTargets, n, MaxMulticastTokens)
	}
	for i, tok := range msg.Tokens {
		if tok == "" {
			return nil, fmt.Errorf("%w: token at index %d is empty", ErrInvalidTargets, i)
		}
	}

	responses := make([]*SendResponse, n)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(c.concurrency, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				responses[i] = c.sendOne(ctx, msg.messageForToken(msg.Tokens[i]))
			}
		}()
	}

	next := 0
feed:
	for ; next < n; next++ {
		select {
		case jobs <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	// Targets never dispatched still get a failure entry so the result stays
	// index-aligned and fully populated.
	for ; next < n; next++ {
		responses[next] = &SendResponse{Error: fmt.Errorf("messaging: send aborted: %w", ctx.Err())}
	}
	wg.Wait()

	br := &BatchResponse{Responses: responses}
	for _, r := range responses {
		if r.Success {
			br.SuccessCount++
		} else {
			br.FailureCount++
		}
	}
	return br, nil
}

// sendOne performs a single multicast leg under the per-send timeout.
func (c *Client) sendOne(ctx context.Context, msg *Message) *SendResponse {
	sctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	id, err := c.Send(sctx, msg)
	if err != nil {
		return &SendResponse{Error: err}
	}
	return &SendResponse{Success: true, MessageID: id}
}
