// Package allocator hands out the per-year sequence numbers behind trip
// identifiers.
//
// A sequence is unique within its year and increases with every call. Both
// implementations seed a year from the highest sequence already stored, so a
// fresh process continues where the collection left off.
package allocator

import (
	"context"
	"fmt"
	"sync"
)

// Source reports the highest sequence already persisted for a year.
type Source interface {
	MaxTripSequence(ctx context.Context, year int) (int, error)
}

// Allocator issues sequence numbers for a year.
type Allocator interface {
	// Next returns the next unused sequence for year.
	Next(ctx context.Context, year int) (int, error)
	// Resync raises the year's counter to at least the stored maximum. It is
	// called after an insert collided with an existing identifier.
	Resync(ctx context.Context, year int) error
}

// SequenceAllocator serializes allocation per year inside one process.
// Different years allocate in parallel.
type SequenceAllocator struct {
	src Source

	mu    sync.Mutex
	years map[int]*yearCounter
}

type yearCounter struct {
	mu     sync.Mutex
	seeded bool
	last   int
}

// NewSequenceAllocator returns an allocator seeded lazily from src.
func NewSequenceAllocator(src Source) *SequenceAllocator {
	return &SequenceAllocator{src: src, years: make(map[int]*yearCounter)}
}

func (a *SequenceAllocator) counter(year int) *yearCounter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.years[year]
	if !ok {
		c = &yearCounter{}
		a.years[year] = c
	}
	return c
}

func (a *SequenceAllocator) Next(ctx context.Context, year int) (int, error) {
	c := a.counter(year)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded {
		n, err := a.src.MaxTripSequence(ctx, year)
		if err != nil {
			return 0, fmt.Errorf("seed sequence for %d: %w", year, err)
		}
		c.last = n
		c.seeded = true
	}
	c.last++
	return c.last, nil
}

func (a *SequenceAllocator) Resync(ctx context.Context, year int) error {
	c := a.counter(year)
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := a.src.MaxTripSequence(ctx, year)
	if err != nil {
		return fmt.Errorf("resync sequence for %d: %w", year, err)
	}
	if n > c.last {
		c.last = n
	}
	c.seeded = true
	return nil
}
