package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited paces calls to an inner provider: a token bucket bounds the call
// rate and a semaphore bounds in-flight calls.
type Limited struct {
	inner   Provider
	limiter *rate.Limiter
	sem     chan struct{}
}

func NewLimited(inner Provider, perSecond float64, burst, maxConcurrent int) Provider {
	if perSecond <= 0 && maxConcurrent <= 0 {
		return inner
	}
	l := &Limited{inner: inner}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *Limited) Name() string { return ProviderName(l.inner) }

func (l *Limited) Chat(ctx context.Context, messages []Message) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", transportError(l.Name(), err)
		}
	}
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return "", transportError(l.Name(), ctx.Err())
		}
	}
	return l.inner.Chat(ctx, messages)
}
