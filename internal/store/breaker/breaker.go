// Package breaker wraps a markov.Store in a circuit breaker so that a failing
// backend is reported as unavailable immediately instead of on every timeout.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/markov"
)

// Config controls when the breaker opens and how long it stays open.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Store decorates a markov.Store with a circuit breaker.
type Store struct {
	inner markov.Store
	cb    *gobreaker.CircuitBreaker
}

var _ markov.Store = (*Store)(nil)

// Wrap returns inner guarded by a breaker configured by cfg.
func Wrap(inner markov.Store, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Cancellation and contract errors say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, markov.ErrInvalidInput)
		},
	})
	return &Store{inner: inner, cb: cb}
}

// State reports the current breaker state.
func (s *Store) State() gobreaker.State { return s.cb.State() }

func execute[T any](s *Store, fn func() (T, error)) (T, error) {
	out, err := s.cb.Execute(func() (interface{}, error) { return fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %w", markov.ErrStorageUnavailable, err)
	}
	v, _ := out.(T)
	return v, err
}

func run(s *Store, fn func() error) error {
	_, err := execute(s, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (s *Store) UpsertEdge(ctx context.Context, tenant string, from, to markov.Node) error {
	return run(s, func() error { return s.inner.UpsertEdge(ctx, tenant, from, to) })
}

func (s *Store) FetchOutgoing(ctx context.Context, tenant string, from markov.Node) ([]markov.Candidate, error) {
	return execute(s, func() ([]markov.Candidate, error) { return s.inner.FetchOutgoing(ctx, tenant, from) })
}

func (s *Store) InitializeTenant(ctx context.Context, tenant string, forbidden []string) error {
	return run(s, func() error { return s.inner.InitializeTenant(ctx, tenant, forbidden) })
}

func (s *Store) ForbiddenWords(ctx context.Context, tenant string) (markov.WordSet, error) {
	return execute(s, func() (markov.WordSet, error) { return s.inner.ForbiddenWords(ctx, tenant) })
}

func (s *Store) AddForbiddenWord(ctx context.Context, tenant, word string) error {
	return run(s, func() error { return s.inner.AddForbiddenWord(ctx, tenant, word) })
}

func (s *Store) RemoveForbiddenWord(ctx context.Context, tenant, word string) error {
	return run(s, func() error { return s.inner.RemoveForbiddenWord(ctx, tenant, word) })
}
