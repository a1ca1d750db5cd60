package blob

import (
	"context"
)

// DefaultAttempts is the download attempt cap.
const DefaultAttempts = 3

// Outcome is the result of a bounded retry: either a value, or the last error
// once every attempt is exhausted.
type Outcome[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// Ok reports whether an attempt succeeded.
func (o Outcome[T]) Ok() bool {
	return o.Err == nil
}

// Retry calls fn until it succeeds or attempts calls have failed. There is no
// backoff between attempts. A cancelled context stops further attempts.
func Retry[T any](ctx context.Context, attempts int, fn func(ctx context.Context, attempt int) (T, error)) Outcome[T] {
	if attempts < 1 {
		attempts = 1
	}
	var out Outcome[T]
	for out.Attempts < attempts {
		if err := ctx.Err(); err != nil {
			if out.Err == nil {
				out.Err = err
			}
			return out
		}
		out.Attempts++
		value, err := fn(ctx, out.Attempts)
		if err == nil {
			out.Value = value
			out.Err = nil
			return out
		}
		out.Err = err
	}
	return out
}
