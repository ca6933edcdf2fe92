package fcm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fcmrelay/internal/fcm"
	"fcmrelay/internal/journal"
	"fcmrelay/internal/platform/httpclient"
	"fcmrelay/internal/shared"
	"fcmrelay/pkg/retry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memJournal struct {
	mu  sync.Mutex
	all []journal.Delivery
}

func (m *memJournal) Record(_ context.Context, d journal.Delivery) (journal.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = fmt.Sprintf("d%d", len(m.all))
	m.all = append(m.all, d)
	return d, nil
}

func (m *memJournal) last(t *testing.T) journal.Delivery {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.all)
	return m.all[len(m.all)-1]
}

// waits records requested delays and fires immediately.
type waits struct {
	mu sync.Mutex
	d  []time.Duration
}

func (w *waits) after(d time.Duration) <-chan time.Time {
	w.mu.Lock()
	w.d = append(w.d, d)
	w.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fixture struct {
	client  *fcm.Client
	journal *memJournal
	waits   *waits
	calls   *atomic.Int32
}

func newFixture(t *testing.T, maxAttempts int, h func(n int32, w http.ResponseWriter, r *http.Request)) *fixture {
	t.Helper()
	f := &fixture{journal: &memJournal{}, waits: &waits{}, calls: &atomic.Int32{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(f.calls.Add(1), w, r)
	}))
	t.Cleanup(srv.Close)

	strategy, err := retry.New(retry.Config{MaxAttempts: maxAttempts, After: f.waits.after})
	require.NoError(t, err)
	hc := httpclient.New(httpclient.WithLogger(quietLogger()))
	f.client, err = fcm.NewClient(hc, strategy,
		fcm.WithEndpoint(srv.URL),
		fcm.WithAPIKey("secret"),
		fcm.WithJournal(f.journal),
		fcm.WithClientLogger(quietLogger()))
	require.NoError(t, err)
	return f
}

func tokenMessage(to string) fcm.Message {
	return fcm.Message{To: to, Notification: &fcm.Notification{Title: "hi"}, Options: fcm.Options{TimeToLive: 60}}
}

const okBody = `{"multicast_id":7,"success":1,"failure":0,"canonical_ids":0,"results":[{"message_id":"0:1"}]}`

func TestClient_Send_OK(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "device-1", body["to"])
		assert.EqualValues(t, 60, body["time_to_live"])
		_, _ = w.Write([]byte(okBody))
	})

	resp, err := f.client.Send(context.Background(), tokenMessage("device-1"))
	require.NoError(t, err)
	assert.EqualValues(t, 7, resp.MulticastID)
	assert.Equal(t, 1, resp.Success)

	d := f.journal.last(t)
	assert.Equal(t, journal.StatusDelivered, d.Status)
	assert.Equal(t, journal.KindToken, d.Kind)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, "0:1", d.MessageID)
	assert.Empty(t, f.waits.d)
}

func TestClient_Send_RetriesWithHint(t *testing.T) {
	f := newFixture(t, 3, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n < 3 {
			w.Header().Set("Retry-After", "2500")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okBody))
	})

	_, err := f.client.Send(context.Background(), tokenMessage("device-1"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.waits.d)
	assert.Equal(t, 3, f.journal.last(t).Attempts)
}

func TestClient_Send_ExhaustsAttempts(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "1000")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := f.client.Send(context.Background(), tokenMessage("device-1"))
	require.Error(t, err)
	ae, ok := retry.AsAfter(err)
	require.True(t, ok)
	assert.EqualValues(t, 1, ae.DelaySeconds())
	assert.EqualValues(t, 3, f.calls.Load())
	assert.Len(t, f.waits.d, 2)

	d := f.journal.last(t)
	assert.Equal(t, journal.StatusRateLimited, d.Status)
	assert.Equal(t, 3, d.Attempts)
	assert.NotEmpty(t, d.LastError)
}

func TestClient_Send_NoHintIsFinal(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := f.client.Send(context.Background(), tokenMessage("device-1"))
	require.Error(t, err)
	assert.True(t, shared.IsDependencyFailure(err))
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, journal.StatusFailed, f.journal.last(t).Status)
}

func TestClient_Send_Unauthorized(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := f.client.Send(context.Background(), tokenMessage("device-1"))
	require.Error(t, err)
	assert.True(t, shared.IsUnauthorized(err))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestClient_Send_InvalidMessage(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(okBody))
	})

	_, err := f.client.Send(context.Background(), fcm.Message{Data: map[string]any{"a": 1}})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Zero(t, f.calls.Load())
	assert.Empty(t, f.journal.all)
}

func TestClient_Send_AllRecipientsRejected(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"multicast_id":1,"success":0,"failure":2,"results":[{"error":"NotRegistered"},{"error":"InvalidRegistration"}]}`))
	})

	msg := fcm.Message{RegistrationIDs: []string{"a", "b"}, Data: map[string]any{"k": "v"}}
	resp, err := f.client.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, resp.Failed())

	d := f.journal.last(t)
	assert.Equal(t, journal.StatusFailed, d.Status)
	assert.Equal(t, journal.KindMulticast, d.Kind)
	assert.Equal(t, "NotRegistered", d.LastError)
}

func TestClient_Send_InterruptedWait(t *testing.T) {
	f := &fixture{journal: &memJournal{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "60000")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strategy, err := retry.New(retry.Config{MaxAttempts: 3, After: func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}})
	require.NoError(t, err)
	client, err := fcm.NewClient(httpclient.New(httpclient.WithLogger(quietLogger())), strategy,
		fcm.WithEndpoint(srv.URL), fcm.WithJournal(f.journal), fcm.WithClientLogger(quietLogger()))
	require.NoError(t, err)

	_, err = client.Send(ctx, tokenMessage("device-1"))
	var ie *retry.InterruptedError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, journal.StatusFailed, f.journal.last(t).Status)
}

func TestClient_SendTopic(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "/topics/news", body["to"])
		_, _ = w.Write([]byte(`{"message_id":123456}`))
	})

	topic, err := fcm.NewTopic("news")
	require.NoError(t, err)
	msg := fcm.NewTopicMessage(topic, fcm.Options{TimeToLive: 60})
	msg.Data = map[string]any{"k": "v"}

	resp, err := f.client.SendTopic(context.Background(), msg)
	require.NoError(t, err)
	assert.EqualValues(t, 123456, resp.MessageID)

	d := f.journal.last(t)
	assert.Equal(t, journal.KindTopic, d.Kind)
	assert.Equal(t, "123456", d.MessageID)
	assert.Equal(t, journal.StatusDelivered, d.Status)
}

func TestClient_SendTopic_GatewayError(t *testing.T) {
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"TopicsMessageRateExceeded"}`))
	})

	msg := fcm.NewConditionMessage(fcm.TopicList{{Name: "a"}, {Name: "b"}}, fcm.Options{})
	msg.Data = map[string]any{"k": "v"}
	resp, err := f.client.SendTopic(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "TopicsMessageRateExceeded", resp.Error)

	d := f.journal.last(t)
	assert.Equal(t, journal.KindCondition, d.Kind)
	assert.Equal(t, journal.StatusFailed, d.Status)
}

func TestClient_SendBatch(t *testing.T) {
	var inflight, peak atomic.Int32
	f := newFixture(t, 3, func(_ int32, w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["condition"] != nil {
			_, _ = w.Write([]byte(`{"message_id":1}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	})

	cond := fcm.NewConditionMessage(fcm.TopicList{{Name: "a"}}, fcm.Options{})
	cond.Data = map[string]any{"k": "v"}
	msgs := []fcm.Message{
		tokenMessage("d1"),
		tokenMessage("d2"),
		{Notification: &fcm.Notification{Title: "no target"}},
		cond,
		tokenMessage("d3"),
	}

	results, err := f.client.SendBatch(context.Background(), msgs, 2)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	require.Len(t, results, 5)
	assert.NotNil(t, results[0].Response)
	assert.NotNil(t, results[1].Response)
	assert.Error(t, results[2].Err)
	assert.NotNil(t, results[3].Topic)
	assert.NotNil(t, results[4].Response)
	assert.EqualValues(t, 4, f.calls.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestNewClient_Errors(t *testing.T) {
	strategy, err := retry.New(retry.DefaultConfig())
	require.NoError(t, err)
	_, err = fcm.NewClient(nil, strategy)
	assert.Error(t, err)
	_, err = fcm.NewClient(httpclient.New(), nil)
	assert.Error(t, err)
}

func TestNewStrategy(t *testing.T) {
	s, err := fcm.NewStrategy(4, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, s.MaxAttempts())

	_, err = fcm.NewStrategy(0, nil)
	assert.Error(t, err)
}
