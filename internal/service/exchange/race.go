package exchange

import (
	"context"
	"time"
)

type settled[T any] struct {
	value T
	err   error
}

// raceTimeout runs fn against a timer of length d; whichever settles first wins.
// When the timer wins, fn's context is cancelled and its eventual result is
// dropped into a buffered channel nobody reads.
func raceTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, abandon := context.WithCancel(ctx)
	defer abandon()

	done := make(chan settled[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- settled[T]{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case s := <-done:
		return s.value, s.err
	case <-timer.C:
		return zero, &Error{Kind: KindTimeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
