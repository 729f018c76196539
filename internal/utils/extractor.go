package utils

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrNoValue is returned when the request carries nothing to extract.
var ErrNoValue = errors.New("no value in request")

// Extractor represents the way we will extract a key part from an HTTP request: a header value, the
// client address, the route. Extractors never read the body of the request.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(r *http.Request) (string, error)

func (f ExtractorFunc) Extract(r *http.Request) (string, error) { return f(r) }

type httpHeaderExtractor struct {
	headers []string
}

// NewHTTPHeadersExtractor creates a new HTTP header extractor
func NewHTTPHeadersExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

// Extract joins the values of the configured headers. Every header must be set, use headers that
// are guaranteed to be unique for a client.
func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))

	for _, key := range h.headers {
		value := strings.TrimSpace(r.Header.Get(key))
		if value == "" {
			return "", fmt.Errorf("the header %v must have a value set: %w", key, ErrNoValue)
		}
		values = append(values, value)
	}

	return strings.Join(values, "-"), nil
}

type clientIPExtractor struct {
	trustForwarded bool
}

// NewClientIPExtractor extracts the client address. X-Forwarded-For is only
// consulted when the service runs behind a trusted proxy.
func NewClientIPExtractor(trustForwarded bool) Extractor {
	return &clientIPExtractor{trustForwarded: trustForwarded}
}

func (c *clientIPExtractor) Extract(r *http.Request) (string, error) {
	if c.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			// the first hop is the original client
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip, nil
			}
		}
	}
	return RemoteIP(r.RemoteAddr)
}

// RemoteIP strips the port from a host:port address.
func RemoteIP(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty remote address: %w", ErrNoValue)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// no port
		return addr, nil
	}
	return host, nil
}

// NewRouteExtractor extracts the route template: the pattern matched by
// http.ServeMux when there is one, else the URL path.
func NewRouteExtractor() Extractor {
	return ExtractorFunc(func(r *http.Request) (string, error) {
		if r.Pattern != "" {
			if _, path, ok := strings.Cut(r.Pattern, " "); ok {
				return path, nil
			}
			return r.Pattern, nil
		}
		if r.URL == nil || r.URL.Path == "" {
			return "/", nil
		}
		return r.URL.Path, nil
	})
}
