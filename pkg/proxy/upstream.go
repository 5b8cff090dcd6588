package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// connectError marks a transport-level failure reaching the upstream:
// DNS, refused connection, or timeout. The orchestrator turns these into
// a synthesized gateway error for the caller.
type connectError struct {
	err error
}

func (e *connectError) Error() string {
	return fmt.Sprintf("upstream connection failed: %v", e.err)
}

func (e *connectError) Unwrap() error {
	return e.err
}

// upstreamResponse is the tagged result of one forwarded request:
// either a fully buffered body or a live stream, never both.
type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
	stream io.ReadCloser
}

func (r *upstreamResponse) streaming() bool {
	return r.stream != nil
}

// upstreamClient forwards requests to the language-model server.
type upstreamClient struct {
	base   *url.URL
	client *http.Client
}

func newUpstreamClient(baseURL string, timeout time.Duration) (*upstreamClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", baseURL)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	}

	return &upstreamClient{
		base: base,
		// No overall client timeout: it would cut off long-lived
		// streams. The transport bounds dialing and header waits.
		client: &http.Client{Transport: transport},
	}, nil
}

// forward replays the inbound request against the upstream, preserving
// method, path, query, headers, and body. The result is tagged Stream
// when the upstream itself answers with text/event-stream; the inbound
// stream flag is not trusted for this. The caller owns the stream and
// must close it.
func (c *upstreamClient) forward(r *http.Request, body []byte) (*upstreamResponse, error) {
	target := *c.base
	target.Path = strings.TrimRight(c.base.Path, "/") + r.URL.Path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	for k, vals := range r.Header {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	// Host must name the upstream, not this proxy.
	req.Host = target.Host

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &connectError{err: err}
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return &upstreamResponse{
			status: resp.StatusCode,
			header: resp.Header,
			stream: resp.Body,
		}, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &connectError{err: fmt.Errorf("read upstream response: %w", err)}
	}

	return &upstreamResponse{
		status: resp.StatusCode,
		header: resp.Header,
		body:   respBody,
	}, nil
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/event-stream")
}

var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[http.CanonicalHeaderKey(name)]
}

// copyHeaders relays upstream response headers to the caller, skipping
// hop-by-hop headers that belong to each individual connection.
func copyHeaders(dst http.Header, src http.Header) {
	for k, vals := range src {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
