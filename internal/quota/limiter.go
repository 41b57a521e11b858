// Package quota gates calls to finite external resources with fixed-window
// budgets at a global and a per-identity tier.
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/pkg/log"
)

// Decision is the outcome of one consumption attempt against a backend.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Backend performs an atomic consume against a single key.
type Backend interface {
	Consume(ctx context.Context, key string, b Budget) (Decision, error)
}

// ExceededError signals a blocked call.
type ExceededError struct {
	Category   string
	Operation  string
	Identity   string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s/%s (%s), retry after %ds",
		e.Category, e.Operation, e.Identity, e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds up to whole seconds, minimum 1.
func (e *ExceededError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter applies Policies through a Backend.
type Limiter struct {
	backend  Backend
	policies Policies
	logger   *log.Logger
}

func NewLimiter(backend Backend, policies Policies) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{
		backend:  backend,
		policies: policies,
		logger:   log.With("component", "quota"),
	}
}

// TryConsume consumes one unit from the global tier and then from the
// identity's tier. It returns nil when both allow, *ExceededError when either
// blocks. Units already consumed are never refunded. An empty identity only
// touches the global tier.
func (l *Limiter) TryConsume(ctx context.Context, category, operation, identity string) error {
	policy, ok := l.policies[Key{Category: category, Operation: operation}]
	if !ok {
		return apperr.New(apperr.KindConfig, fmt.Sprintf("no quota policy for %s/%s", category, operation))
	}

	if policy.Global != nil {
		if err := l.consume(ctx, category, operation, GlobalIdentity, *policy.Global); err != nil {
			return err
		}
	}
	if policy.PerIdentity != nil && identity != "" {
		if err := l.consume(ctx, category, operation, identity, *policy.PerIdentity); err != nil {
			return err
		}
	}
	return nil
}

// Do runs fn after a successful TryConsume.
func (l *Limiter) Do(ctx context.Context, category, operation, identity string, fn func(ctx context.Context) error) error {
	if err := l.TryConsume(ctx, category, operation, identity); err != nil {
		return err
	}
	return fn(ctx)
}

func (l *Limiter) consume(ctx context.Context, category, operation, identity string, b Budget) error {
	decision, err := l.backend.Consume(ctx, storageKey(category, operation, identity), b)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransient, "quota backend").
			WithContext("category", category).
			WithContext("operation", operation)
	}
	if decision.Allowed {
		return nil
	}

	exceeded := &ExceededError{
		Category:   category,
		Operation:  operation,
		Identity:   identity,
		RetryAfter: decision.RetryAfter,
	}
	l.logger.Warn("Blocked %s/%s for %s, retry after %ds", category, operation, identity, exceeded.RetryAfterSeconds())
	return exceeded
}

func storageKey(category, operation, identity string) string {
	return strings.Join([]string{category, operation, identity}, ":")
}
