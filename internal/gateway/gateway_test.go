package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalRelay/internal/session"
	"SignalRelay/pkg/cache"
	xhttp "SignalRelay/pkg/http"
)

type fakeAuth struct {
	failures int32
}

func (a *fakeAuth) AttachAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer test-token")
}

func (a *fakeAuth) OnAuthFailure(ctx context.Context) {
	atomic.AddInt32(&a.failures, 1)
}

const signalsBody = `{"success":true,"data":{"signals":[
	{"id":"s1","symbol":"AAPL","direction":"buy","confidence":80,"created_at":"2026-08-29T10:00:00Z"},
	{"id":"s2","symbol":"TSLA","direction":"sell","confidence":55,"created_at":"2026-08-29T09:00:00Z"}
]},"timestamp":"2026-08-29T10:00:01Z"}`

func newGateway(url string, auth *fakeAuth, opts ...Option) *Gateway {
	base := []Option{WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond})}
	return New(xhttp.NewClient(xhttp.WithTimeout(2*time.Second)), url, auth, append(base, opts...)...)
}

func TestFetchSignalsDecodesAndAuthorizes(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/api/signals/live", r.URL.Path)
		require.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, signalsBody)
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{})
	signals, err := g.FetchSignals(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "AAPL", signals[0].Symbol)
}

func TestTransientFailureRetriedExactlyOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Kill the connection mid-flight so the client sees a
			// transport error, not a status code.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		fmt.Fprint(w, signalsBody)
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{})
	signals, err := g.FetchSignals(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, signals, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPersistentFailureStopsAfterRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hj := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{})
	_, err := g.FetchSignals(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, xhttp.IsRemoteKind(err, xhttp.KindUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{})
	_, err := g.FetchSignals(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, xhttp.IsRemoteKind(err, xhttp.KindUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnauthorizedInvalidatesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	auth := &fakeAuth{}
	g := newGateway(srv.URL, auth)
	_, err := g.FetchPortfolio(context.Background())
	require.Error(t, err)
	assert.True(t, xhttp.IsRemoteKind(err, xhttp.KindUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.failures))
}

func TestMalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json at all`)
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{})
	_, err := g.FetchSignals(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, xhttp.IsRemoteKind(err, xhttp.KindMalformed))
}

func TestMalformedPayloadShape(t *testing.T) {
	// Envelope is fine but a signal is missing its required fields.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"signals":[{"id":"s1","direction":"sideways"}]}}`)
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{})
	_, err := g.FetchSignals(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, xhttp.IsRemoteKind(err, xhttp.KindMalformed))
}

func TestEnvelopeFailureSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"maintenance"}`)
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{})
	_, err := g.FetchSignals(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, xhttp.IsRemoteKind(err, xhttp.KindUnavailable))
	assert.Contains(t, err.Error(), "maintenance")
}

func TestFailedLoginThenUnauthorizedFetch(t *testing.T) {
	// Login is rejected, nothing is persisted, and the following fetch
	// goes out without credentials; the remote's 401 surfaces as an
	// unauthorized error and fires the session-expired notification.
	var fetchAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			fetchAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	client := xhttp.NewClient(xhttp.WithTimeout(2 * time.Second))
	store := cache.NewMemoryCache()
	sess := session.NewManager(client, srv.URL, store)

	_, err := sess.Login(context.Background(), "bad", "creds")
	require.Error(t, err)
	assert.True(t, xhttp.IsAuthKind(err, xhttp.KindInvalidCredentials))
	assert.False(t, sess.Authenticated())

	var expired int32
	unsub := sess.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })
	defer unsub()

	g := New(client, srv.URL, sess,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond}))
	_, err = g.FetchSignals(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, xhttp.IsRemoteKind(err, xhttp.KindUnauthorized))
	assert.Empty(t, fetchAuth)
	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))
}

func TestRetryDelayHonored(t *testing.T) {
	var calls int32
	var firstAt, secondAt time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			firstAt = time.Now()
			hj := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		secondAt = time.Now()
		fmt.Fprint(w, signalsBody)
	}))
	defer srv.Close()

	g := newGateway(srv.URL, &fakeAuth{}, WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Delay: 50 * time.Millisecond}))
	_, err := g.FetchSignals(context.Background(), 5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, secondAt.Sub(firstAt), 50*time.Millisecond)
}
