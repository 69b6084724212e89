package counter

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/garethgeorge/goaccession/internal/monorange"
)

var (
	ErrInvalidCount = &CounterError{"lease size must be positive"}
	ErrExhausted    = &CounterError{"counter exhausted"}
	ErrCorrupt      = &CounterError{"counter state is corrupt"}
)

type CounterError struct {
	Msg string
}

func (e *CounterError) Error() string {
	return e.Msg
}

func (e *CounterError) Is(target error) bool {
	if targetErr, ok := target.(*CounterError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}

// Counter hands out contiguous, never overlapping blocks of identifiers.
// Advance must be linearizable: reading the next value, computing the block and
// moving the counter past it happen as one step.
type Counter interface {
	// Advance reserves the next n identifiers.
	Advance(ctx context.Context, n int64) (monorange.Range, error)
	// Peek returns the first identifier the next Advance would return.
	Peek(ctx context.Context) (int64, error)
}

// nextBlock computes the block of n values starting at next.
func nextBlock(next, n int64) (monorange.Range, error) {
	if n <= 0 {
		return monorange.Range{}, fmt.Errorf("advance by %d: %w", n, ErrInvalidCount)
	}
	if n-1 > math.MaxInt64-next {
		return monorange.Range{}, fmt.Errorf("advance %d by %d: %w", next, n, ErrExhausted)
	}
	return monorange.New(next, next+n-1)
}

// Memory is an in-process counter.
type Memory struct {
	mu   sync.Mutex
	next int64
	done bool
}

var _ Counter = (*Memory)(nil)

func NewMemory(start int64) *Memory {
	return &Memory{next: start}
}

func (m *Memory) Advance(ctx context.Context, n int64) (monorange.Range, error) {
	if err := ctx.Err(); err != nil {
		return monorange.Range{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return monorange.Range{}, ErrExhausted
	}

	block, err := nextBlock(m.next, n)
	if err != nil {
		return monorange.Range{}, err
	}
	if block.End == math.MaxInt64 {
		m.done = true
	} else {
		m.next = block.End + 1
	}
	return block, nil
}

func (m *Memory) Peek(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return 0, ErrExhausted
	}
	return m.next, nil
}
