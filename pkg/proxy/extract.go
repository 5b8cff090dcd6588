package proxy

import (
	"encoding/json"
	"strings"

	"github.com/tokentap/tokentap/pkg/models"
)

const (
	ssePrefix     = "data: "
	sseTerminator = "[DONE]"
)

// bodyExtract holds what could be recovered from a buffered response.
type bodyExtract struct {
	model     string
	output    string
	requestID string
	usage     models.Usage
}

// extractBody attempts JSON extraction of usage fields from a complete
// response body. Missing fields stay at their zero defaults; ok is false
// only when the body is not a completion object at all.
func extractBody(body []byte) (bodyExtract, bool) {
	var resp models.CompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return bodyExtract{}, false
	}

	ex := bodyExtract{
		model:     resp.Model,
		requestID: resp.ID,
		output:    choiceText(resp.Choices),
	}
	if resp.Usage != nil {
		ex.usage = *resp.Usage
	}
	if ex.usage.TotalTokens == 0 {
		ex.usage.TotalTokens = ex.usage.PromptTokens + ex.usage.CompletionTokens
	}
	return ex, true
}

func choiceText(choices []models.Choice) string {
	if len(choices) == 0 {
		return ""
	}
	first := choices[0]
	if first.Message != nil && first.Message.Content != "" {
		return first.Message.Content
	}
	return first.Text
}

// streamExtractor accumulates usage and content across the frames of one
// SSE response. Frames must be ingested in arrival order; usage-bearing
// frames merge per field, with the last non-empty value winning, since
// some servers split usage across frames. Once finalized, further frames
// and repeated finalization are no-ops.
type streamExtractor struct {
	content   strings.Builder
	usage     models.Usage
	model     string
	requestID string
	done      bool
}

// Ingest consumes one raw SSE line. Non-data lines and blank separators
// are ignored; data payloads that fail to parse as JSON are kept as
// plain text output rather than dropped.
func (e *streamExtractor) Ingest(line string) {
	if e.done {
		return
	}
	if !strings.HasPrefix(line, ssePrefix) {
		return
	}
	data := strings.TrimPrefix(line, ssePrefix)
	if data == sseTerminator {
		e.done = true
		return
	}

	var chunk models.CompletionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		e.content.WriteString(data)
		return
	}

	if chunk.ID != "" {
		e.requestID = chunk.ID
	}
	if chunk.Model != "" {
		e.model = chunk.Model
	}
	if len(chunk.Choices) > 0 {
		first := chunk.Choices[0]
		if first.Delta != nil && first.Delta.Content != "" {
			e.content.WriteString(first.Delta.Content)
		} else if first.Text != "" {
			e.content.WriteString(first.Text)
		}
	}
	if chunk.Usage != nil {
		e.observeUsage(chunk.Usage)
	}
}

// observeUsage merges a usage object field by field, keeping the most
// recently observed non-zero value for each.
func (e *streamExtractor) observeUsage(u *models.Usage) {
	if u.PromptTokens > 0 {
		e.usage.PromptTokens = u.PromptTokens
	}
	if u.CompletionTokens > 0 {
		e.usage.CompletionTokens = u.CompletionTokens
	}
	if u.TotalTokens > 0 {
		e.usage.TotalTokens = u.TotalTokens
	}
}

// streamExtract is the finalized result of one streamed response.
type streamExtract struct {
	model     string
	output    string
	requestID string
	usage     models.Usage
}

// Finalize closes the accumulator and returns it. Calling it again
// returns the same result without double-appending anything.
func (e *streamExtractor) Finalize() streamExtract {
	e.done = true
	usage := e.usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return streamExtract{
		model:     e.model,
		output:    e.content.String(),
		requestID: e.requestID,
		usage:     usage,
	}
}

// runExtractor consumes frames from the tee on its own goroutine and
// delivers the finalized result once the frame channel closes.
func runExtractor(frames <-chan string) <-chan streamExtract {
	out := make(chan streamExtract, 1)
	go func() {
		var ex streamExtractor
		for line := range frames {
			ex.Ingest(line)
		}
		out <- ex.Finalize()
	}()
	return out
}
