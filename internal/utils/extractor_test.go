package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHeadersExtractor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-ID", " alice ")
	r.Header.Set("X-Tenant", "acme")

	key, err := NewHTTPHeadersExtractor("X-User-ID", "X-Tenant").Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "alice-acme", key)

	_, err = NewHTTPHeadersExtractor("X-Api-Key").Extract(r)
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestClientIPExtractor(t *testing.T) {
	var tests = []struct {
		name    string
		trust   bool
		remote  string
		forward string
		want    string
	}{
		{name: "remote addr", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "forwarded ignored when untrusted", remote: "10.0.0.1:5555", forward: "1.2.3.4", want: "10.0.0.1"},
		{name: "first forwarded hop", trust: true, remote: "10.0.0.1:5555", forward: "1.2.3.4, 10.0.0.9", want: "1.2.3.4"},
		{name: "empty forwarded falls back", trust: true, remote: "10.0.0.1:5555", forward: " ,", want: "10.0.0.1"},
		{name: "ipv6", remote: "[::1]:80", want: "::1"},
		{name: "no port", remote: "10.0.0.2", want: "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forward != "" {
				r.Header.Set("X-Forwarded-For", tt.forward)
			}
			got, err := NewClientIPExtractor(tt.trust).Extract(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = ""
	_, err := NewClientIPExtractor(false).Extract(r)
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestRouteExtractor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/users/42", nil)
	route, err := NewRouteExtractor().Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "/api/users/42", route)

	r.Pattern = "GET /api/users/{id}"
	route, err = NewRouteExtractor().Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "/api/users/{id}", route)

	r.Pattern = "/api/health"
	route, err = NewRouteExtractor().Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "/api/health", route)
}
