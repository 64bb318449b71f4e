package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// teeSource is the state shared by the two branches of a Tee: a window over
// the items read from upstream that at least one open branch has not yet
// consumed, plus one cursor per branch. Slots are evicted lazily once both
// cursors have passed them.
type teeSource[T any] struct {
	mu      sync.Mutex
	src     Sequence[T]
	window  []T
	base    int // absolute index of window[0]
	cursor  [2]int
	closed  [2]bool
	pulling bool
	wake    chan struct{}
	done    bool
	err     error // io.EOF or the upstream failure, set once done
	srcShut bool
}

type teeBranch[T any] struct {
	s   *teeSource[T]
	idx int
}

// Tee splits seq into two sequences that each observe every item in order.
// Upstream Next is called exactly once per item no matter how far apart the
// branches are. Closing one branch leaves the other running; closing both
// closes seq.
func Tee[T any](seq Sequence[T]) (Sequence[T], Sequence[T]) {
	s := &teeSource[T]{src: seq, wake: make(chan struct{})}
	return &teeBranch[T]{s: s, idx: 0}, &teeBranch[T]{s: s, idx: 1}
}

func (b *teeBranch[T]) Next(ctx context.Context) (T, error) {
	s := b.s
	var zero T
	for {
		s.mu.Lock()
		if s.closed[b.idx] {
			s.mu.Unlock()
			return zero, io.EOF
		}
		pos := s.cursor[b.idx]
		if pos < s.base+len(s.window) {
			v := s.window[pos-s.base]
			s.cursor[b.idx]++
			s.evictLocked()
			s.mu.Unlock()
			return v, nil
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			return zero, err
		}
		if s.pulling {
			wake := s.wake
			s.mu.Unlock()
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		s.pulling = true
		s.mu.Unlock()

		v, err := s.src.Next(ctx)

		s.mu.Lock()
		s.pulling = false
		abandoned := false
		switch {
		case err == nil:
			s.window = append(s.window, v)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			// Only this caller gave up. The upstream stays live for the
			// other branch, which will pull on its next call.
			abandoned = true
		default:
			s.done = true
			s.err = err
		}
		close(s.wake)
		s.wake = make(chan struct{})
		shut := s.done && !s.srcShut
		if shut {
			s.srcShut = true
		}
		s.mu.Unlock()

		if shut {
			s.src.Close()
		}
		if abandoned {
			return zero, err
		}
	}
}

func (b *teeBranch[T]) Close() error {
	s := b.s
	s.mu.Lock()
	if s.closed[b.idx] {
		s.mu.Unlock()
		return nil
	}
	s.closed[b.idx] = true
	s.evictLocked()
	shut := s.closed[0] && s.closed[1] && !s.srcShut
	if shut {
		s.srcShut = true
	}
	s.mu.Unlock()

	if shut {
		return s.src.Close()
	}
	return nil
}

// evictLocked drops window slots every open branch has consumed.
func (s *teeSource[T]) evictLocked() {
	low := -1
	for i := range s.cursor {
		if s.closed[i] {
			continue
		}
		if low == -1 || s.cursor[i] < low {
			low = s.cursor[i]
		}
	}
	if low == -1 {
		low = s.base + len(s.window)
	}
	drop := low - s.base
	if drop <= 0 {
		return
	}
	var zero T
	for i := 0; i < drop; i++ {
		s.window[i] = zero
	}
	s.window = s.window[drop:]
	s.base = low
	if len(s.window) == 0 {
		s.window = nil
	}
}

// buffered reports how many items are held for the slower branch.
func (s *teeSource[T]) buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.window)
}
