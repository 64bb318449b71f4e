// Package stream converts between push-style channels and pull-style
// sequences, and splits one sequence into two independently consumed ones.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"docchat/internal/domain"
)

// Sequence is a pull-style asynchronous sequence. Next returns io.EOF once the
// sequence is exhausted. Close releases the underlying producer and may be
// called at any point, any number of times.
type Sequence[T any] interface {
	Next(ctx context.Context) (T, error)
	Close() error
}

// chanSequence pulls from a producer channel. release is the reader lock of
// the producer: it runs exactly once on every exit path.
type chanSequence[T any] struct {
	ch      <-chan domain.StreamEvent[T]
	release func()
	once    sync.Once
	done    bool
}

// ToPull wraps a push-style channel as a Sequence. release, if non-nil, is
// invoked exactly once when the sequence completes, fails, or is closed early.
func ToPull[T any](ch <-chan domain.StreamEvent[T], release func()) Sequence[T] {
	return &chanSequence[T]{ch: ch, release: release}
}

func (s *chanSequence[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if s.done {
		return zero, io.EOF
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case ev, ok := <-s.ch:
		if !ok {
			s.finish()
			return zero, io.EOF
		}
		if ev.Err != nil {
			s.finish()
			return zero, ev.Err
		}
		return ev.Value, nil
	}
}

func (s *chanSequence[T]) finish() {
	s.done = true
	s.releaseOnce()
}

func (s *chanSequence[T]) releaseOnce() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

func (s *chanSequence[T]) Close() error {
	s.done = true
	s.releaseOnce()
	return nil
}

type sliceSequence[T any] struct {
	items []T
	pos   int
}

// FromSlice returns a Sequence yielding items in order.
func FromSlice[T any](items []T) Sequence[T] {
	return &sliceSequence[T]{items: items}
}

func (s *sliceSequence[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if s.pos >= len(s.items) {
		return zero, io.EOF
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

func (s *sliceSequence[T]) Close() error {
	s.pos = len(s.items)
	return nil
}

// Collect drains seq into a slice and closes it. The items read before a
// failure are returned together with the error.
func Collect[T any](ctx context.Context, seq Sequence[T]) ([]T, error) {
	defer seq.Close()
	var out []T
	for {
		v, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// Drain calls fn for every item of seq until it is exhausted, fn returns an
// error, or ctx is done. seq is closed on return.
func Drain[T any](ctx context.Context, seq Sequence[T], fn func(T) error) error {
	defer seq.Close()
	for {
		v, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
