// Package paginate materializes a complete collection from an API that
// only serves fixed-size pages. Pages are requested strictly one at a time.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type State int

const (
	Idle State = iota
	FetchingPage
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingPage:
		return "fetching"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrAborted     = errors.New("pagination aborted")
	ErrRunning     = errors.New("pagination already running")
	ErrBadPageSize = errors.New("page size must be positive")
)

// FetchFunc returns the records at [offset, offset+limit).
type FetchFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

type Engine[T any] struct {
	fetch    FetchFunc[T]
	pageSize int
	lookup   func() ([]T, bool)
	store    func([]T)
	observe  func(state State, offset int)

	mu       sync.Mutex
	state    State
	offset   int
	requests int
	err      error
}

type Option[T any] func(*Engine[T])

// WithCache makes Run consult lookup before any request, and hand a
// complete result to store. Failed runs are never stored.
func WithCache[T any](lookup func() ([]T, bool), store func([]T)) Option[T] {
	return func(e *Engine[T]) {
		e.lookup = lookup
		e.store = store
	}
}

// WithObserver is called on every state transition.
func WithObserver[T any](fn func(state State, offset int)) Option[T] {
	return func(e *Engine[T]) { e.observe = fn }
}

func New[T any](fetch FetchFunc[T], pageSize int, opts ...Option[T]) *Engine[T] {
	e := &Engine[T]{fetch: fetch, pageSize: pageSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine[T]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Offset is the offset of the page being fetched, or the last one fetched.
func (e *Engine[T]) Offset() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// Requests counts page requests issued by the most recent Run.
func (e *Engine[T]) Requests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// Err is the failure reason once the engine is Failed.
func (e *Engine[T]) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Run pages from offset 0 until a short page arrives. Any page failure
// discards what was accumulated and returns an error wrapping ErrAborted.
// An empty collection is a successful, non-nil empty slice.
func (e *Engine[T]) Run(ctx context.Context) ([]T, error) {
	if e.pageSize <= 0 {
		return nil, ErrBadPageSize
	}

	e.mu.Lock()
	if e.state == FetchingPage {
		e.mu.Unlock()
		return nil, ErrRunning
	}
	e.state = FetchingPage
	e.offset = 0
	e.requests = 0
	e.err = nil
	e.mu.Unlock()

	if e.lookup != nil {
		if cached, ok := e.lookup(); ok {
			e.transition(Complete, 0)
			return cached, nil
		}
	}

	acc := []T{}
	offset := 0
	for {
		e.transition(FetchingPage, offset)

		page, err := e.fetch(ctx, offset, e.pageSize)
		e.mu.Lock()
		e.requests++
		e.mu.Unlock()

		if err != nil {
			e.mu.Lock()
			e.err = err
			e.mu.Unlock()
			e.transition(Failed, offset)
			return nil, fmt.Errorf("%w at offset %d: %w", ErrAborted, offset, err)
		}

		acc = append(acc, page...)
		if len(page) != e.pageSize {
			break
		}
		offset += e.pageSize
	}

	if e.store != nil {
		e.store(acc)
	}
	e.transition(Complete, offset)
	return acc, nil
}

func (e *Engine[T]) transition(s State, offset int) {
	e.mu.Lock()
	e.state = s
	e.offset = offset
	observe := e.observe
	e.mu.Unlock()
	if observe != nil {
		observe(s, offset)
	}
}
