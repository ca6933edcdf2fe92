package httpclient_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	httpclient "fcmrelay/internal/platform/httpclient"
	"fcmrelay/internal/shared"
	"fcmrelay/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Do_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":1}`))
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{}`))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	require.Equal(t, `{"success":1}`, string(b))
}

func TestClient_Do_429RetryAfter(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "2000")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.Nil(t, resp)
	require.Error(t, err)
	require.Equal(t, 1, attempts, "client must not retry on its own")

	ae, ok := retry.AsAfter(err)
	require.True(t, ok)
	assert.Equal(t, int64(2), ae.DelaySeconds())

	var se *httpclient.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "slow down", se.Body)
	assert.True(t, shared.IsRateLimited(err))
}

func TestClient_Do_503RetryAfterTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "999")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), req)
	ae, ok := retry.AsAfter(err)
	require.True(t, ok)
	assert.Equal(t, int64(0), ae.DelaySeconds())
}

func TestClient_Do_5xxWithoutHintIsFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), req)
	require.Error(t, err)
	_, ok := retry.AsAfter(err)
	assert.False(t, ok)
	assert.Equal(t, shared.KindDependencyFailure, shared.KindOf(err))
}

func TestClient_Do_429WithoutHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), req)
	_, ok := retry.AsAfter(err)
	assert.False(t, ok)
	assert.Equal(t, shared.KindRateLimited, shared.KindOf(err))
}

func TestClient_Do_ClientErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   shared.Kind
	}{
		{http.StatusBadRequest, shared.KindValidation},
		{http.StatusUnauthorized, shared.KindUnauthorized},
		{http.StatusForbidden, shared.KindUnauthorized},
		{http.StatusNotFound, shared.KindDependencyFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := httpclient.New(httpclient.WithLogger(quietLogger()))
			req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
			require.NoError(t, err)

			_, err = c.Do(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, shared.KindOf(err))
		})
	}
}

func TestClient_Do_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "override", r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpclient.New(
		httpclient.WithLogger(quietLogger()),
		httpclient.WithHeaders(map[string]string{"Content-Type": "application/json", "X-Test": "default"}),
	)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Test", "override")

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestClient_Do_WithoutHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpclient.New(
		httpclient.WithLogger(quietLogger()),
		httpclient.WithHeaders(map[string]string{"X-Test": "v"}),
		httpclient.WithoutHeaders("X-Test"),
	)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestClient_Do_ReplaysBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(strings.NewReader("payload")))
	require.NoError(t, err)
	req.GetBody = nil

	for i := 0; i < 2; i++ {
		resp, err := c.Do(context.Background(), req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	require.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestClient_Do_BodyTooLarge(t *testing.T) {
	c := httpclient.New(
		httpclient.WithLogger(quietLogger()),
		httpclient.WithMaxReplayBodySize(4),
	)
	req, err := http.NewRequest(http.MethodPost, "http://example.invalid", io.NopCloser(strings.NewReader("too large")))
	require.NoError(t, err)
	req.GetBody = nil

	_, err = c.Do(context.Background(), req)
	require.ErrorIs(t, err, httpclient.ErrReplayBodyTooLarge)
}

func TestClient_Do_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, req)
	require.Error(t, err)
	assert.True(t, shared.IsTimeout(err))
	_, ok := retry.AsAfter(err)
	assert.False(t, ok)
}

func TestClient_Do_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := httpclient.New(httpclient.WithLogger(quietLogger()))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, shared.KindDependencyFailure, shared.KindOf(err))
}

func TestClient_Do_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpclient.New(
		httpclient.WithLogger(quietLogger()),
		httpclient.WithRateLimit(0.01, 1),
	)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, req)
	require.Error(t, err)
	assert.True(t, shared.IsTimeout(err))
}

func TestClient_Do_CustomClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sentinel := errors.New("not accepted")
	c := httpclient.New(
		httpclient.WithLogger(quietLogger()),
		httpclient.WithClassifier(func(resp *http.Response) error {
			if resp.StatusCode != http.StatusOK {
				return sentinel
			}
			return nil
		}),
	)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), req)
	require.ErrorIs(t, err, sentinel)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubResponse(r *http.Request, status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    r,
	}
}

func TestClient_Do_HugeRetryAfterKeepsSeconds(t *testing.T) {
	var calls int
	c := httpclient.New(
		httpclient.WithLogger(quietLogger()),
		httpclient.WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			return stubResponse(r, http.StatusTooManyRequests, http.Header{"Retry-After": {"9223372036854775807"}}), nil
		})),
	)
	req, err := http.NewRequest(http.MethodPost, "http://fcm.test/fcm/send", strings.NewReader(`{}`))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	ae, ok := retry.AsAfter(err)
	require.True(t, ok)
	assert.Equal(t, int64(9223372036854775), ae.DelaySeconds())
	assert.Positive(t, ae.Delay())
}

func TestClient_Do_URLRedactor(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	c := httpclient.New(
		httpclient.WithLogger(log),
		httpclient.WithURLRedactor(func(u *url.URL) string { return u.Host + u.Path }),
		httpclient.WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return stubResponse(r, http.StatusOK, nil), nil
		})),
	)
	req, err := http.NewRequest(http.MethodGet, "http://fcm.test/fcm/send?token=abc", nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, buf.String(), "url=fcm.test/fcm/send")
	assert.NotContains(t, buf.String(), "token=abc")
}
