package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokentap/tokentap/pkg/models"
)

const (
	maxRequestBody = 8 << 20
	maxErrorBody   = 4096
)

// handleProxy is the single entry point for forwarded requests. It
// guarantees exactly one usage record per request: every path out of
// this function goes through finish.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UTC()
	endpoint := r.URL.Path

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		rec := models.NewUsageRecord(endpoint, "unknown", start, "")
		rec.Fail(time.Now().UTC(), "failed to read request body: "+err.Error(), http.StatusBadRequest)
		s.finish(rec)
		return
	}
	r.Body.Close()

	model, prompt, wantStream := inspectRequest(body)
	rec := models.NewUsageRecord(endpoint, model, start, prompt)

	w.Header().Set("X-Tokentap-Request-ID", uuid.NewString())

	resp, err := s.upstream.forward(r, body)
	if err != nil {
		slog.Error("upstream request failed", "endpoint", endpoint, "error", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		rec.Fail(time.Now().UTC(), err.Error(), http.StatusBadGateway)
		s.finish(rec)
		return
	}

	if resp.streaming() != wantStream {
		slog.Warn("stream mode mismatch",
			"endpoint", endpoint,
			"requested_stream", wantStream,
			"delivered_stream", resp.streaming())
	}

	if resp.streaming() {
		s.relayStream(w, resp, rec)
	} else {
		s.relayBuffered(w, resp, rec)
	}
	s.finish(rec)
}

// inspectRequest recovers the model name, prompt text, and requested
// stream mode from the request body. Malformed or empty bodies are not
// an error: they are forwarded as opaque bytes and recorded with
// defaults.
func inspectRequest(body []byte) (model, prompt string, stream bool) {
	model = "unknown"
	if len(body) == 0 {
		return model, "", false
	}

	var req models.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return model, string(body), false
	}
	if req.Model != "" {
		model = req.Model
	}
	switch {
	case len(req.Messages) > 0:
		prompt = string(req.Messages)
	case req.Prompt != "":
		prompt = req.Prompt
	default:
		prompt = string(body)
	}
	return model, prompt, req.Stream
}

// relayBuffered forwards a fully buffered upstream response and decodes
// it once for usage extraction. The bytes returned to the caller are the
// upstream's bytes whether or not decoding succeeds.
func (s *Server) relayBuffered(w http.ResponseWriter, resp *upstreamResponse, rec *models.UsageRecord) {
	copyHeaders(w.Header(), resp.header)
	w.WriteHeader(resp.status)
	if _, err := w.Write(resp.body); err != nil {
		slog.Warn("client write failed", "endpoint", rec.Endpoint, "error", err)
	}
	end := time.Now().UTC()

	if resp.status < 200 || resp.status >= 300 {
		rec.Fail(end, truncate(string(resp.body), maxErrorBody), resp.status)
		return
	}

	ex, ok := extractBody(resp.body)
	if !ok {
		rec.Fail(end, "failed to decode upstream response", resp.status)
		return
	}

	rec.Complete(end, ex.output, ex.usage.PromptTokens, ex.usage.CompletionTokens, resp.status, false)
	if ex.model != "" {
		rec.Model = ex.model
	}
	rec.RequestID = ex.requestID
}

// relayStream forwards an SSE response line by line, feeding the tee so
// the extractor sees the same frames in the same order. The relay never
// waits on the extractor; the extractor result is collected only after
// the last byte has been sent.
func (s *Server) relayStream(w http.ResponseWriter, resp *upstreamResponse, rec *models.UsageRecord) {
	defer resp.stream.Close()

	copyHeaders(w.Header(), resp.header)
	w.WriteHeader(resp.status)

	flusher, _ := w.(http.Flusher)
	tee := newStreamTee(s.cfg.Upstream.StreamBufferFrames)
	results := runExtractor(tee.frames)

	reader := bufio.NewReaderSize(resp.stream, 32*1024)
	var (
		clientGone bool
		streamErr  error
		doneAt     time.Time
	)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				clientGone = true
				break
			}
			frame := strings.TrimRight(string(line), "\r\n")
			if frame == "" && flusher != nil {
				flusher.Flush()
			}
			tee.Publish(frame)
			if frame == ssePrefix+sseTerminator && doneAt.IsZero() {
				doneAt = time.Now().UTC()
			}
		}
		if err != nil {
			if err != io.EOF {
				streamErr = err
			}
			break
		}
	}
	if flusher != nil {
		flusher.Flush()
	}

	tee.Close()
	ex := <-results

	end := doneAt
	if end.IsZero() {
		end = time.Now().UTC()
	}

	rec.Complete(end, ex.output, ex.usage.PromptTokens, ex.usage.CompletionTokens, resp.status, true)
	if ex.model != "" {
		rec.Model = ex.model
	}
	rec.RequestID = ex.requestID

	switch {
	case clientGone:
		rec.IsError = true
		rec.ErrorMessage = "client disconnected mid-stream"
	case streamErr != nil:
		slog.Error("upstream stream read failed", "endpoint", rec.Endpoint, "error", streamErr)
		rec.IsError = true
		rec.ErrorMessage = "upstream stream interrupted: " + streamErr.Error()
	case resp.status < 200 || resp.status >= 300:
		rec.IsError = true
		rec.ErrorMessage = "upstream returned status " + strconv.Itoa(resp.status)
	case tee.Overflowed():
		// Bytes reached the client intact, only extraction was cut short.
		rec.ErrorMessage = "usage extraction abandoned: frame buffer overflow"
	}
}

// finish is the single persistence point: one metrics observation and
// one record handoff per request, after the response is determined.
func (s *Server) finish(rec *models.UsageRecord) {
	duration := time.Duration(rec.DurationMs) * time.Millisecond
	s.metrics.ObserveRequest(rec.Endpoint, strconv.Itoa(rec.HTTPStatus), rec.WasStreamed, duration)
	s.metrics.ObserveTokens(rec.Model, rec.InputTokens, rec.OutputTokens)
	s.recorder.Enqueue(rec)
}

func truncate(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
