package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalRelay/pkg/cache"
	xhttp "SignalRelay/pkg/http"
)

func loginServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func TestLoginStoresTokenAndAttaches(t *testing.T) {
	srv := loginServer(t, http.StatusOK,
		`{"success":true,"data":{"token":"tok-1","user":{"id":"u1","username":"alice"}},"timestamp":"2026-01-01T00:00:00Z"}`)
	defer srv.Close()

	m := NewManager(xhttp.NewClient(), srv.URL, cache.NewMemoryCache())
	user, err := m.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, m.Authenticated())

	req, _ := http.NewRequest(http.MethodGet, "http://example/api/x", nil)
	m.AttachAuth(req)
	assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
}

func TestLoginRejectedCredentials(t *testing.T) {
	srv := loginServer(t, http.StatusUnauthorized, `{"success":false,"error":"bad credentials"}`)
	defer srv.Close()

	m := NewManager(xhttp.NewClient(), srv.URL, cache.NewMemoryCache())
	_, err := m.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, xhttp.IsAuthKind(err, xhttp.KindInvalidCredentials))
	assert.False(t, m.Authenticated())
}

func TestLoginNetworkFailure(t *testing.T) {
	srv := loginServer(t, http.StatusOK, "")
	srv.Close() // unreachable

	m := NewManager(xhttp.NewClient(), srv.URL, cache.NewMemoryCache())
	_, err := m.Login(context.Background(), "alice", "secret")
	require.Error(t, err)
	assert.True(t, xhttp.IsAuthKind(err, xhttp.KindNetworkFailure))
}

func TestLoginEnvelopeFailure(t *testing.T) {
	srv := loginServer(t, http.StatusOK, `{"success":false,"error":"account locked"}`)
	defer srv.Close()

	m := NewManager(xhttp.NewClient(), srv.URL, cache.NewMemoryCache())
	_, err := m.Login(context.Background(), "alice", "secret")
	assert.True(t, xhttp.IsAuthKind(err, xhttp.KindInvalidCredentials))
}

func TestLoginMissingTokenIsFailure(t *testing.T) {
	srv := loginServer(t, http.StatusOK, `{"success":true,"data":{"user":{"id":"u1"}}}`)
	defer srv.Close()

	m := NewManager(xhttp.NewClient(), srv.URL, cache.NewMemoryCache())
	_, err := m.Login(context.Background(), "alice", "secret")
	assert.True(t, xhttp.IsAuthKind(err, xhttp.KindNetworkFailure))
}

func TestInvalidateIsIdempotent(t *testing.T) {
	srv := loginServer(t, http.StatusOK,
		`{"success":true,"data":{"token":"tok-1","user":{"id":"u1"}}}`)
	defer srv.Close()

	store := cache.NewMemoryCache()
	m := NewManager(xhttp.NewClient(), srv.URL, store)
	_, err := m.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	m.Invalidate(context.Background())
	m.Invalidate(context.Background())
	assert.False(t, m.Authenticated())

	req, _ := http.NewRequest(http.MethodGet, "http://example/api/x", nil)
	m.AttachAuth(req)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestTokenRestoredFromStore(t *testing.T) {
	store := cache.NewMemoryCache()
	require.NoError(t, store.Set(context.Background(), tokenStorageKey, "persisted", 0))

	m := NewManager(xhttp.NewClient(), "http://example", store)
	assert.True(t, m.Authenticated())

	req, _ := http.NewRequest(http.MethodGet, "http://example/api/x", nil)
	m.AttachAuth(req)
	assert.Equal(t, "Bearer persisted", req.Header.Get("Authorization"))
}

func TestOnAuthFailureNotifiesObservers(t *testing.T) {
	m := NewManager(xhttp.NewClient(), "http://example", cache.NewMemoryCache())

	var first, second int
	unsub := m.OnSessionExpired(func() { first++ })
	m.OnSessionExpired(func() { second++ })

	m.OnAuthFailure(context.Background())
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.False(t, m.Authenticated())

	unsub()
	m.OnAuthFailure(context.Background())
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}
