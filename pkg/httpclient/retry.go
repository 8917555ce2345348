package httpclient

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// retryClass is the per-kind retry budget and backoff base.
type retryClass struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// RetryPolicy is the table-driven retry configuration. Delay computation is
// pure given an injected random source, which keeps tests deterministic.
type RetryPolicy struct {
	Classes     map[ErrorKind]retryClass
	Default     retryClass
	MaxDelay    time.Duration
	JitterRange float64
}

// DefaultRetryPolicy returns the standard policy: rate limits back off the
// longest and retry the most, plain server errors the least.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Classes: map[ErrorKind]retryClass{
			KindRateLimit:   {MaxRetries: 5, BaseDelay: 5 * time.Second},
			KindTimeout:     {MaxRetries: 3, BaseDelay: 2 * time.Second},
			KindNetwork:     {MaxRetries: 3, BaseDelay: 1 * time.Second},
			KindServerError: {MaxRetries: 2, BaseDelay: 3 * time.Second},
		},
		Default:     retryClass{MaxRetries: 3, BaseDelay: 2 * time.Second},
		MaxDelay:    60 * time.Second,
		JitterRange: 0.25,
	}
}

func (p RetryPolicy) class(kind ErrorKind) retryClass {
	if c, ok := p.Classes[kind]; ok {
		return c
	}
	return p.Default
}

// Delay computes the backoff before retry number attempt (0-based):
// min(max_delay, base_delay * 2^attempt) scaled by a uniform jitter in
// [1-jitter, 1+jitter].
func (p RetryPolicy) Delay(kind ErrorKind, attempt int, rng *rand.Rand) time.Duration {
	base := p.class(kind).BaseDelay
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterRange > 0 && rng != nil {
		factor := 1 + p.JitterRange*(2*rng.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// RetryManager drives retries for an operation using a RetryPolicy. The
// clock (sleep) and random source are injectable.
type RetryManager struct {
	policy RetryPolicy
	rng    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error

	// OnRetry, if set, is invoked before each sleep with the error kind,
	// the upcoming attempt number, and the computed delay.
	OnRetry func(kind ErrorKind, attempt int, delay time.Duration)
}

// RetryOption configures a RetryManager.
type RetryOption func(*RetryManager)

func WithRetryPolicy(policy RetryPolicy) RetryOption {
	return func(m *RetryManager) { m.policy = policy }
}

// WithRandSource sets the random source used for jitter.
func WithRandSource(rng *rand.Rand) RetryOption {
	return func(m *RetryManager) { m.rng = rng }
}

// WithSleepFunc replaces the sleep function (tests use a recording stub).
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(m *RetryManager) { m.sleep = sleep }
}

func NewRetryManager(opts ...RetryOption) *RetryManager {
	m := &RetryManager{
		policy: DefaultRetryPolicy(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, its error kind is non-retryable, or the
// kind's retry budget is exhausted. The attempt budget is taken from the
// kind of the most recent error, so a stream that alternates between rate
// limits and timeouts is bounded by whichever class it last hit.
func (m *RetryManager) Do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		kind := Classify(lastErr)
		if !kind.Retryable() {
			return lastErr
		}
		if attempt >= m.policy.class(kind).MaxRetries {
			return lastErr
		}

		delay := m.policy.Delay(kind, attempt, m.rng)

		// A server-provided Retry-After wins over computed backoff.
		var httpErr *Error
		if asError(lastErr, &httpErr) && httpErr.RetryAfter > delay {
			delay = httpErr.RetryAfter
		}

		if m.OnRetry != nil {
			m.OnRetry(kind, attempt+1, delay)
		}
		if err := m.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
