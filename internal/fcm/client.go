// Package fcm sends downstream messages through the FCM legacy HTTP API.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"fcmrelay/internal/journal"
	"fcmrelay/internal/shared"
	"fcmrelay/pkg/retry"
)

// DefaultEndpoint is the legacy HTTP send endpoint.
const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

const maxResponseBody = 1 << 20

// Doer performs a single HTTP attempt. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Journal stores delivery outcomes.
type Journal interface {
	Record(ctx context.Context, d journal.Delivery) (journal.Delivery, error)
}

// Client sends messages, retrying when the gateway asks for a delay.
// It is safe for concurrent use.
type Client struct {
	hc       Doer
	strategy *retry.Strategy
	endpoint string
	apiKey   string
	journal  Journal
	log      *slog.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithEndpoint overrides the send URL.
func WithEndpoint(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.endpoint = u
		}
	}
}

// WithAPIKey sets the server key sent as "Authorization: key=<k>".
func WithAPIKey(k string) ClientOption {
	return func(c *Client) { c.apiKey = k }
}

// WithJournal records every final outcome in j.
func WithJournal(j Journal) ClientOption {
	return func(c *Client) { c.journal = j }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient returns a Client sending through hc with strategy.
func NewClient(hc Doer, strategy *retry.Strategy, opts ...ClientOption) (*Client, error) {
	if hc == nil {
		return nil, errors.New("fcm: nil http client")
	}
	if strategy == nil {
		return nil, errors.New("fcm: nil retry strategy")
	}
	c := &Client{
		hc:       hc,
		strategy: strategy,
		endpoint: DefaultEndpoint,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// NewStrategy returns a retry strategy that logs every wait at warn level.
func NewStrategy(maxAttempts int, log *slog.Logger) (*retry.Strategy, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.OnRetry = func(attempt int, err *retry.AfterError, wait time.Duration) {
		log.Warn("fcm: gateway asked to retry",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}
	return retry.New(cfg)
}

// Send delivers a token or multicast message.
func (c *Client) Send(ctx context.Context, msg Message) (*Response, error) {
	return send(ctx, c, msg, ParseResponse, func(r *Response) (string, string, bool) {
		var id string
		for _, res := range r.Results {
			if res.MessageID != "" {
				id = res.MessageID
				break
			}
		}
		return id, r.FirstError(), r.Success == 0 && r.Failure > 0
	})
}

// SendTopic delivers a topic or condition message.
func (c *Client) SendTopic(ctx context.Context, msg Message) (*TopicResponse, error) {
	return send(ctx, c, msg, ParseTopicResponse, func(r *TopicResponse) (string, string, bool) {
		var id string
		if r.MessageID != 0 {
			id = strconv.FormatInt(r.MessageID, 10)
		}
		return id, r.Error, r.Error != ""
	})
}

// BatchResult is the outcome of one message of SendBatch.
// Exactly one of Response and Topic is set when Err is nil.
type BatchResult struct {
	Response *Response      `json:"response,omitempty"`
	Topic    *TopicResponse `json:"topic,omitempty"`
	Err      error          `json:"-"`
}

// SendBatch sends msgs with at most parallel concurrent deliveries. Every
// message is attempted; the first error encountered is returned alongside
// the per-message results.
func (c *Client) SendBatch(ctx context.Context, msgs []Message, parallel int) ([]BatchResult, error) {
	results := make([]BatchResult, len(msgs))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, m := range msgs {
		g.Go(func() error {
			var err error
			switch m.Kind() {
			case journal.KindTopic, journal.KindCondition:
				results[i].Topic, err = c.SendTopic(ctx, m)
			default:
				results[i].Response, err = c.Send(ctx, m)
			}
			results[i].Err = err
			return err
		})
	}
	return results, g.Wait()
}

// outcome extracts the gateway message id, the per-recipient error code and
// whether every recipient was rejected.
type outcome[T any] func(T) (messageID, lastError string, rejected bool)

func send[T any](ctx context.Context, c *Client, msg Message, parse func([]byte) (T, error), out outcome[T]) (T, error) {
	var zero T
	if err := msg.Validate(); err != nil {
		return zero, err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return zero, shared.Wrap(shared.MarkKind(err, shared.KindValidation), "fcm: encode message")
	}

	attempts := 0
	res, err := retry.Get(ctx, c.strategy, func(ctx context.Context) (T, error) {
		attempts++
		return post(ctx, c, body, parse)
	})

	d := journal.Delivery{Target: msg.Target(), Kind: msg.Kind(), Attempts: attempts}
	switch {
	case err != nil:
		d.Status = journal.StatusFailed
		if shared.IsRateLimited(err) {
			d.Status = journal.StatusRateLimited
		}
		d.LastError = err.Error()
		c.log.Error("fcm: send failed", slog.String("kind", string(d.Kind)), slog.Int("attempts", attempts), slog.Any("error", err))
	default:
		var rejected bool
		d.MessageID, d.LastError, rejected = out(res)
		d.Status = journal.StatusDelivered
		if rejected {
			d.Status = journal.StatusFailed
		}
		c.log.Info("fcm: sent", slog.String("kind", string(d.Kind)), slog.Int("attempts", attempts), slog.String("status", string(d.Status)))
	}
	c.record(ctx, d)
	return res, err
}

func post[T any](ctx context.Context, c *Client, body []byte, parse func([]byte) (T, error)) (T, error) {
	var zero T
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, shared.MarkKind(err, shared.KindInternal)
	}
	req.Header.Set("Authorization", "key="+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return zero, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	return parse(b)
}

func (c *Client) record(ctx context.Context, d journal.Delivery) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.Record(context.WithoutCancel(ctx), d); err != nil {
		c.log.Error("fcm: journal record failed", slog.Any("error", err))
	}
}
