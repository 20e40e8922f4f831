package terminology

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/evaluator"
)

// ResilientClient wraps a terminology lookup with a circuit breaker so a
// degraded terminology service fails fast instead of stalling every
// interpretation that touches a coded rule.
type ResilientClient struct {
	inner   evaluator.ValueSetLookup
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger
}

// NewResilientClient creates a circuit-breaker wrapped lookup.
func NewResilientClient(inner evaluator.ValueSetLookup, logger *logrus.Logger) *ResilientClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Terminology",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientClient{
		inner:   inner,
		breaker: breaker,
		log:     logger,
	}
}

// Lookup answers whether the coding belongs to the named value set.
func (c *ResilientClient) Lookup(ctx context.Context, slug string, coding domain.Coding) (bool, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.Lookup(ctx, slug, coding)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return false, fmt.Errorf("terminology service unavailable: %w", err)
		}
		return false, err
	}
	return result.(bool), nil
}
