// Package retry runs a unit of work with bounded attempts and exponential
// backoff with jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"translator/internal/adapter"
)

// ErrAborted is returned when the caller's abort check stops further attempts
var ErrAborted = errors.New("retry aborted")

// Policy bounds the attempts and the backoff between them
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Ceiling     time.Duration
}

// BatchFailure is the terminal error after a batch could not be translated
type BatchFailure struct {
	Attempts int
	Cause    error
}

func (e *BatchFailure) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *BatchFailure) Unwrap() error {
	return e.Cause
}

// Controller applies a Policy. It is safe for concurrent use.
type Controller struct {
	policy Policy

	mu  sync.Mutex
	rnd *rand.Rand

	// sleep is swapped out by tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a controller. MaxAttempts below 1 is treated as 1.
func New(policy Policy) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Controller{
		policy: policy,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
	}
}

// Policy returns the controller's policy
func (c *Controller) Policy() Policy {
	return c.policy
}

// Backoff returns the delay before the attempt following attempt (0-based):
// min(Base*2^attempt, Ceiling) plus a jitter in [0, backoff/2].
func (c *Controller) Backoff(attempt int) time.Duration {
	backoff := c.policy.Base
	for i := 0; i < attempt && (c.policy.Ceiling <= 0 || backoff < c.policy.Ceiling); i++ {
		backoff *= 2
	}
	if c.policy.Ceiling > 0 && backoff > c.policy.Ceiling {
		backoff = c.policy.Ceiling
	}
	if backoff <= 0 {
		return 0
	}

	c.mu.Lock()
	jitter := time.Duration(c.rnd.Int63n(int64(backoff/2) + 1))
	c.mu.Unlock()

	return backoff + jitter
}

// Do calls fn until it succeeds, fails permanently, or MaxAttempts is
// reached. abort, when non-nil, is checked before every retry; once it
// reports true no further attempt is started. The returned error is a
// *BatchFailure whenever fn failed.
func (c *Controller) Do(ctx context.Context, abort func() bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if abort != nil && abort() {
				return attempt, &BatchFailure{Attempts: attempt, Cause: fmt.Errorf("%w: %w", ErrAborted, lastErr)}
			}
			if err := c.sleep(ctx, c.Backoff(attempt-1)); err != nil {
				return attempt, &BatchFailure{Attempts: attempt, Cause: adapter.Transient(err)}
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if adapter.IsPermanent(err) {
			return attempt + 1, &BatchFailure{Attempts: attempt + 1, Cause: err}
		}
	}

	return c.policy.MaxAttempts, &BatchFailure{Attempts: c.policy.MaxAttempts, Cause: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
