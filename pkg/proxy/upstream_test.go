package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *upstreamClient {
	t.Helper()
	c, err := newUpstreamClient(baseURL, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestForwardPreservesPathAndQuery(t *testing.T) {
	var wantHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.RawQuery != "a=b" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if r.Host != wantHost {
			t.Errorf("expected Host rewritten to %s, got %s", wantHost, r.Host)
		}
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()
	u, _ := url.Parse(upstream.URL)
	wantHost = u.Host

	c := newTestClient(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions?a=b", strings.NewReader("{}"))

	resp, err := c.forward(req, []byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.streaming() {
		t.Error("expected buffered response")
	}
	if resp.status != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.status)
	}
	if string(resp.body) != `{}` {
		t.Errorf("unexpected body: %q", resp.body)
	}
}

func TestForwardTagsEventStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}"))

	resp, err := c.forward(req, []byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.streaming() {
		t.Fatal("expected stream-tagged response")
	}
	defer resp.stream.Close()
	if resp.body != nil {
		t.Error("stream response must not carry a buffered body")
	}
}

func TestForwardConnectionFailure(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}"))

	_, err := c.forward(req, []byte("{}"))
	if err == nil {
		t.Fatal("expected connection failure")
	}
	var ce *connectError
	if !errors.As(err, &ce) {
		t.Errorf("expected connectError, got %T: %v", err, err)
	}
}

func TestForwardStripsHopByHopHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Custom") != "kept" {
			t.Error("expected end-to-end header forwarded")
		}
		// The transport manages its own connection headers; the
		// client's must not leak through.
		if r.Header.Get("Keep-Alive") != "" {
			t.Error("hop-by-hop header leaked upstream")
		}
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}"))
	req.Header.Set("X-Custom", "kept")
	req.Header.Set("Keep-Alive", "timeout=5")

	if _, err := c.forward(req, []byte("{}")); err != nil {
		t.Fatal(err)
	}
}

func TestNewUpstreamClientRejectsBadURL(t *testing.T) {
	if _, err := newUpstreamClient("not-a-url", time.Second); err == nil {
		t.Error("expected error for URL without scheme")
	}
	if _, err := newUpstreamClient("://", time.Second); err == nil {
		t.Error("expected error for malformed URL")
	}
}
