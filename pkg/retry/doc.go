// Package retry implements the fixed-hint retry policy used against push
// gateways that rate-limit callers with a Retry-After header.
//
// Key Features:
//   - Retry-After parsing (ParseRetryAfterSeconds, ParseRetryAfter,
//     SecondsFromHeader, DelayFromHeader)
//   - A typed retryable failure carrying the server's delay (AfterError)
//   - A bounded executor that waits exactly the carried delay (Strategy)
//   - Context-aware waits and an OnRetry hook for observability
//   - Full testability support (time abstraction)
//
// There is no backoff and no jitter: the wait between attempt k and k+1 is the
// delay carried by the k-th failure.
//
// Basic Usage:
//
//	s, err := retry.New(retry.Config{MaxAttempts: 3})
//	if err != nil {
//	    return err
//	}
//	resp, err := retry.Get(ctx, s, func(ctx context.Context) (*Response, error) {
//	    resp, err := send(ctx)
//	    if isRateLimited(resp) {
//	        if secs, ok := retry.SecondsFromHeader(resp.Header); ok {
//	            return nil, retry.NewAfterError(secs)
//	        }
//	    }
//	    return resp, err
//	})
//
// Retry-After values are read as milliseconds, the gateway's unit. The relay's
// own HTTP API answers with whole seconds, as RFC 9110 does, so pointing this
// parser at the relay turns "4" into a 0s wait.
//
// MaxAttempts is the number of retryable failures tolerated. With
// MaxAttempts: 1 the first AfterError is returned without waiting.
//
// For the HTTP side, see internal/platform/httpclient which turns 429 and 5xx
// responses into AfterError values.
package retry
