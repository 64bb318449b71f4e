package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"docchat/internal/domain"
)

// Push exposes a Sequence as a producer-driven channel. The pull loop starts
// on the first call to C, never at construction.
type Push[T any] struct {
	seq     Sequence[T]
	onError func(error)

	startOnce sync.Once
	ch        chan domain.StreamEvent[T]
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// ToPush wraps seq. onError, if non-nil, is called with a producer error
// before that error is delivered on the channel.
func ToPush[T any](ctx context.Context, seq Sequence[T], onError func(error)) *Push[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &Push[T]{
		seq:     seq,
		onError: onError,
		ch:      make(chan domain.StreamEvent[T]),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// C returns the event channel, starting the pull loop on first use. The
// channel is closed after the sequence ends, fails, or Stop is called.
func (p *Push[T]) C() <-chan domain.StreamEvent[T] {
	p.startOnce.Do(func() { go p.loop() })
	return p.ch
}

// Stop cancels the pull loop and waits for it to release the sequence.
func (p *Push[T]) Stop() {
	p.cancel()
	started := true
	p.startOnce.Do(func() {
		started = false
		close(p.ch)
		p.seq.Close()
		close(p.done)
	})
	if started {
		<-p.done
	}
}

func (p *Push[T]) loop() {
	defer close(p.done)
	defer close(p.ch)
	defer p.seq.Close()

	for {
		v, err := p.seq.Next(p.ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			if p.onError != nil {
				p.onError(err)
			}
			select {
			case p.ch <- domain.StreamEvent[T]{Err: err}:
			case <-p.ctx.Done():
			}
			return
		}
		select {
		case p.ch <- domain.StreamEvent[T]{Value: v}:
		case <-p.ctx.Done():
			return
		}
	}
}
