// Package pipeline runs inbound messages through an ordered chain of
// middleware. Each middleware receives a continuation that advances the
// chain; the last continuation is the terminal handler supplied by the caller.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sipeed/stripmentions/pkg/bus"
)

var ErrNextCalledTwice = errors.New("pipeline: next called more than once")

// NextFunc continues the chain. It must be called at most once.
type NextFunc func(ctx context.Context) error

type Middleware interface {
	ReceiveMessage(ctx context.Context, msg *bus.InboundMessage, next NextFunc) error
}

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(ctx context.Context, msg *bus.InboundMessage, next NextFunc) error

func (f MiddlewareFunc) ReceiveMessage(ctx context.Context, msg *bus.InboundMessage, next NextFunc) error {
	return f(ctx, msg, next)
}

type Set struct {
	mu         sync.RWMutex
	middleware []Middleware
}

func NewSet(middleware ...Middleware) *Set {
	s := &Set{}
	return s.Use(middleware...)
}

// Use appends middleware to the end of the chain. Nil entries are skipped.
func (s *Set) Use(middleware ...Middleware) *Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mw := range middleware {
		if mw != nil {
			s.middleware = append(s.middleware, mw)
		}
	}
	return s
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.middleware)
}

// Run passes msg through every middleware in order and then calls terminal,
// which may be nil. Errors from any stage propagate unchanged.
func (s *Set) Run(ctx context.Context, msg *bus.InboundMessage, terminal NextFunc) error {
	s.mu.RLock()
	chain := make([]Middleware, len(s.middleware))
	copy(chain, s.middleware)
	s.mu.RUnlock()

	return runFrom(ctx, chain, 0, msg, terminal)
}

func runFrom(ctx context.Context, chain []Middleware, i int, msg *bus.InboundMessage, terminal NextFunc) error {
	if i >= len(chain) {
		if terminal == nil {
			return nil
		}
		return terminal(ctx)
	}

	var called atomic.Bool
	next := func(ctx context.Context) error {
		if !called.CompareAndSwap(false, true) {
			return ErrNextCalledTwice
		}
		return runFrom(ctx, chain, i+1, msg, terminal)
	}
	return chain[i].ReceiveMessage(ctx, msg, next)
}
