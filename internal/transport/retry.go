package transport

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// newRetryBackoff paces connection attempts: one try plus policy.Total retries,
// policy.Wait apart, abandoned once ctx is done.
func newRetryBackoff(ctx context.Context, policy RetryPolicy) backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(policy.Wait)
	if policy.Wait <= 0 {
		b = &backoff.ZeroBackOff{}
	}
	total := policy.Total
	if total < 0 {
		total = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(total)), ctx) //nolint:gosec // clamped above
}

// withRetry runs op under the descriptor's retry policy. Errors wrapped with
// backoff.Permanent stop retrying immediately.
func withRetry(ctx context.Context, d *Descriptor, what string, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil && ctx.Err() == nil {
			log.Debug().Err(err).
				Str("transport", d.URL).
				Str("op", what).
				Int("attempt", attempt).
				Msg("transport attempt failed")
		}
		return err
	}, newRetryBackoff(ctx, d.Retry()))
}
