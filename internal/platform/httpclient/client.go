package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"fcmrelay/internal/shared"
	"fcmrelay/pkg/retry"
)

// Client wraps http.Client with logging, rate limiting and classification of
// gateway responses. Each Do performs a single attempt; retries are left to
// pkg/retry, which acts on the *retry.AfterError values Do returns.
type Client struct {
	hc            *stdhttp.Client
	log           *slog.Logger
	headers       map[string]string
	urlRedactor   func(*url.URL) string
	limiter       *rate.Limiter
	maxReplayBody int64
	classify      func(*stdhttp.Response) error
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithoutHeaders removes default headers.
func WithoutHeaders(keys ...string) Option {
	return func(c *Client) {
		for _, k := range keys {
			delete(c.headers, k)
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithRateLimit caps outgoing requests per second (rps <= 0 disables).
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxReplayBodySize limits size of buffered body for replays (0 disables limit).
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.maxReplayBody = n }
}

// WithClassifier overrides how responses are turned into errors.
// The classifier must return nil for responses handed back to the caller.
func WithClassifier(f func(*stdhttp.Response) error) Option {
	return func(c *Client) {
		if f != nil {
			c.classify = f
		}
	}
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxConnsPerHost = 100
	tr.MaxIdleConnsPerHost = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   15 * time.Second,
			Transport: tr,
		},
		log:           slog.Default(),
		maxReplayBody: 1 << 20,
		classify:      ClassifyResponse,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError describes a response the gateway did not accept.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Header     stdhttp.Header
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// maxErrorBody bounds the body excerpt kept on StatusError.
const maxErrorBody = 4 << 10

func newStatusError(resp *stdhttp.Response) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, Header: resp.Header.Clone()}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		se.URL = resp.Request.URL.Redacted()
	}
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se.Body = string(bytes.TrimSpace(b))
	}
	return se
}

// ClassifyResponse maps a gateway response to an error.
//
// 2xx responses are accepted. 429 and 5xx responses carrying a parseable
// Retry-After hint become *retry.AfterError; without a hint they are final.
// 400 is a validation failure and 401/403 an authorization failure.
func ClassifyResponse(resp *stdhttp.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	se := newStatusError(resp)
	switch {
	case resp.StatusCode == stdhttp.StatusTooManyRequests || resp.StatusCode >= 500:
		if secs, ok := retry.SecondsFromHeader(resp.Header); ok {
			return retry.WrapAfter(secs, se)
		}
		if resp.StatusCode == stdhttp.StatusTooManyRequests {
			return shared.MarkKind(se, shared.KindRateLimited)
		}
		return shared.MarkKind(se, shared.KindDependencyFailure)
	case resp.StatusCode == stdhttp.StatusBadRequest:
		return shared.MarkKind(se, shared.KindValidation)
	case resp.StatusCode == stdhttp.StatusUnauthorized || resp.StatusCode == stdhttp.StatusForbidden:
		return shared.MarkKind(se, shared.KindUnauthorized)
	default:
		return shared.MarkKind(se, shared.KindDependencyFailure)
	}
}

// classifyTransportError marks network failures; none of them are retryable.
func classifyTransportError(err error) error {
	switch {
	case shared.IsCanceled(err):
		return err
	case shared.IsTimeout(err):
		return shared.MarkKind(err, shared.KindTimeout)
	default:
		return shared.MarkKind(err, shared.KindDependencyFailure)
	}
}

// redactURL returns redacted URL string.
func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

// bufferBody makes req replayable so the retry loop can send it again.
func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	var body []byte
	var err error
	if c.maxReplayBody > 0 {
		body, err = io.ReadAll(io.LimitReader(req.Body, c.maxReplayBody+1))
		if err != nil {
			return err
		}
		if int64(len(body)) > c.maxReplayBody {
			return ErrReplayBodyTooLarge
		}
	} else {
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return err
		}
	}
	_ = req.Body.Close()
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	return nil
}

// Do sends one HTTP request with context, logging and rate limiting.
// Non-2xx responses are closed and returned as errors.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}

	r := req.Clone(ctx)
	for k, v := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = rc
	}
	u := c.redactURL(r.URL)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, shared.MarkKind(fmt.Errorf("rate limiter: %w", err), shared.KindTimeout)
		}
	}

	st := time.Now()
	resp, err := c.hc.Do(r)
	dur := time.Since(st)
	if err != nil {
		c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Duration("dur", dur), slog.Any("error", err))
		return nil, classifyTransportError(err)
	}

	if cerr := c.classify(resp); cerr != nil {
		drainAndClose(resp.Body)
		attrs := []any{slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur)}
		if ae, ok := retry.AsAfter(cerr); ok {
			attrs = append(attrs, slog.Duration("retry_after", ae.Delay()))
		}
		c.log.Warn("http request status", attrs...)
		return nil, cerr
	}

	c.log.Info("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur))
	return resp, nil
}
