package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
	// NoRetryOnTimeout stops after a timeout. Used for calls that create
	// upstream state, where the provider may have accepted the request.
	NoRetryOnTimeout bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Transient reports whether err is worth another attempt. Rejections and
// validation failures are final.
func Transient(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamUnavailable)
}

// Retry runs fn up to p.Attempts times, each under its own timeout,
// doubling the backoff between transient failures.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error
	backoff := p.Backoff
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		out, err := fn(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = ClassifyTransport(err)
		if !Transient(lastErr) || attempt == p.Attempts {
			break
		}
		if p.NoRetryOnTimeout && errors.Is(lastErr, ErrUpstreamTimeout) {
			break
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %v", ErrUpstreamTimeout, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return zero, lastErr
}

// ClassifyTransport folds network and deadline errors into the gateway
// taxonomy and leaves everything else untouched.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return err
}

// ClassifyHTTPStatus maps a provider HTTP status onto the taxonomy.
func ClassifyHTTPStatus(code int, msg string) error {
	switch {
	case code == 408 || code == 504:
		return fmt.Errorf("%w: http %d %s", ErrUpstreamTimeout, code, msg)
	case code == 429 || code >= 500:
		return fmt.Errorf("%w: http %d %s", ErrUpstreamUnavailable, code, msg)
	case code == 400 || code == 422:
		return fmt.Errorf("%w: http %d %s", ErrValidation, code, msg)
	default:
		return fmt.Errorf("%w: http %d %s", ErrRejected, code, msg)
	}
}
