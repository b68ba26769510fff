package resilience

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBulkheadFull    = errors.New("bulkhead is full")
	ErrBulkheadTimeout = errors.New("bulkhead wait timeout")
)

// BulkheadConfig controls a Bulkhead.
type BulkheadConfig struct {
	Name          string
	MaxConcurrent int
	// MaxWait bounds the wait for a slot. Zero rejects immediately.
	MaxWait time.Duration
}

// Bulkhead limits how many calls run at once.
type Bulkhead struct {
	cfg   BulkheadConfig
	slots chan struct{}
}

// NewBulkhead returns a bulkhead with MaxConcurrent slots (default 10).
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{cfg: cfg, slots: make(chan struct{}, cfg.MaxConcurrent)}
}

// Execute runs fn while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-b.slots }()
	return fn()
}

// InUse is the number of held slots.
func (b *Bulkhead) InUse() int { return len(b.slots) }

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	default:
	}
	if b.cfg.MaxWait <= 0 {
		return ErrBulkheadFull
	}
	t := time.NewTimer(b.cfg.MaxWait)
	defer t.Stop()
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-t.C:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteWithResult is Execute for functions returning a value.
func ExecuteWithResult[T any](b *Bulkhead, ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
