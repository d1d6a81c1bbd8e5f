package client

import (
	"context"
	"net/http"
	"sync"
)

type retryAfterKey struct{}

// retryAfterHolder receives the Retry-After header of a throttled response for one call
type retryAfterHolder struct {
	mu    sync.Mutex
	value string
}

func (h *retryAfterHolder) set(v string) {
	h.mu.Lock()
	h.value = v
	h.mu.Unlock()
}

func (h *retryAfterHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

func withRetryAfterHolder(ctx context.Context) (context.Context, *retryAfterHolder) {
	h := &retryAfterHolder{}
	return context.WithValue(ctx, retryAfterKey{}, h), h
}

// hintTransport copies the Retry-After header of 429 and 503 responses into the holder
// carried by the request context. The JSON-RPC client only surfaces the status code.
type hintTransport struct {
	base http.RoundTripper
}

func (t *hintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if h, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHolder); ok {
			h.set(resp.Header.Get("Retry-After"))
		}
	}
	return resp, nil
}

// newHTTPClient wraps base's transport so throttled responses keep their retry hint
func newHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c := *base
	c.Transport = &hintTransport{base: rt}
	return &c
}
