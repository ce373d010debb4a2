package transport

import (
	"context"
	"fmt"
	"time"
)

// dialWithTimeout runs dial in the background and waits for its result,
// the timeout or ctx. A result that arrives after the caller gave up is
// handed to release. ctx is passed to dial unchanged; callers cancel it to
// abandon a dial still in flight.
func dialWithTimeout[T any](ctx context.Context, timeout time.Duration, dial func(context.Context) (T, error), release func(T)) (T, error) {
	type dialResult struct {
		v   T
		err error
	}

	ch := make(chan dialResult, 1)
	go func() {
		v, err := dial(ctx)
		ch <- dialResult{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if res := <-ch; res.err == nil {
				release(res.v)
			}
		}()
	}

	var zero T
	select {
	case res := <-ch:
		return res.v, res.err
	case <-timer.C:
		abandon()
		return zero, fmt.Errorf("dial timed out after %s", timeout)
	case <-ctx.Done():
		abandon()
		return zero, ctx.Err()
	}
}
