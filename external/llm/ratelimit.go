package llm

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/srs-writer/agent-engine/external"
)

// ErrRateLimited marks a ChatAdapter error caused by the provider's own
// rate limiting, distinguishing it from other transport failures.
var ErrRateLimited = errors.New("llm: rate limited by provider")

// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket in front
// of a ChatAdapter: it estimates the request's token cost, blocks until
// budget is available, and halves its tokens-per-minute budget on a
// provider rate-limit error, recovering gradually on success. It is a
// single-process limiter; it does not coordinate across a cluster.
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveRateLimiter builds a limiter with an initial and maximum
// tokens-per-minute budget.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a ChatAdapter that enforces this limiter in front of next.
func (l *AdaptiveRateLimiter) Wrap(next external.ChatAdapter) external.ChatAdapter {
	return &limitedAdapter{next: next, limiter: l}
}

type limitedAdapter struct {
	next    external.ChatAdapter
	limiter *AdaptiveRateLimiter
}

func (a *limitedAdapter) SendRequest(ctx context.Context, req external.ChatRequest) (external.ChatStream, error) {
	if err := a.limiter.wait(ctx, req); err != nil {
		return external.ChatStream{}, err
	}
	stream, err := a.next.SendRequest(ctx, req)
	a.limiter.observe(err)
	return stream, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req external.ChatRequest) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens is a cheap heuristic over the request transcript: ~1 token
// per 3 characters plus a fixed framing buffer, with a minimum floor so
// even tiny requests incur limiter cost.
func estimateTokens(req external.ChatRequest) int {
	charCount := 0
	for _, m := range req.Messages {
		charCount += len(m.Content)
	}
	if charCount <= 0 {
		return 500
	}
	return charCount/3 + 200
}
