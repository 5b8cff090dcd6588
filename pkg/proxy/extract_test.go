package proxy

import "testing"

func TestExtractBodyChatResponse(t *testing.T) {
	body := `{
		"id": "chatcmpl-1",
		"model": "m",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
	}`

	ex, ok := extractBody([]byte(body))
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if ex.model != "m" {
		t.Errorf("expected model m, got %q", ex.model)
	}
	if ex.usage.PromptTokens != 10 || ex.usage.CompletionTokens != 20 || ex.usage.TotalTokens != 30 {
		t.Errorf("unexpected usage: %+v", ex.usage)
	}
	if ex.output != "hello there" {
		t.Errorf("unexpected output: %q", ex.output)
	}
	if ex.requestID != "chatcmpl-1" {
		t.Errorf("unexpected request id: %q", ex.requestID)
	}
}

func TestExtractBodyLegacyCompletion(t *testing.T) {
	body := `{"id": "cmpl-9", "model": "m", "choices": [{"text": "plain text output"}]}`

	ex, ok := extractBody([]byte(body))
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if ex.output != "plain text output" {
		t.Errorf("expected text fallback, got %q", ex.output)
	}
	if ex.usage.PromptTokens != 0 || ex.usage.TotalTokens != 0 {
		t.Errorf("expected zero usage defaults, got %+v", ex.usage)
	}
}

func TestExtractBodyNotJSON(t *testing.T) {
	if _, ok := extractBody([]byte("<html>not json</html>")); ok {
		t.Error("expected extraction to fail on non-JSON body")
	}
}

func TestStreamExtractorAccumulatesContent(t *testing.T) {
	var ex streamExtractor
	ex.Ingest(`data: {"id":"chatcmpl-1","model":"m","choices":[{"delta":{"content":"Hel"}}]}`)
	ex.Ingest("")
	ex.Ingest(`data: {"choices":[{"delta":{"content":"lo "}}]}`)
	ex.Ingest("")
	ex.Ingest(`data: {"choices":[{"delta":{}}],"usage":{"prompt_tokens":5,"completion_tokens":15,"total_tokens":20}}`)
	ex.Ingest(`data: [DONE]`)

	got := ex.Finalize()
	if got.output != "Hello " {
		t.Errorf("expected ordered concatenation, got %q", got.output)
	}
	if got.usage.PromptTokens != 5 || got.usage.CompletionTokens != 15 || got.usage.TotalTokens != 20 {
		t.Errorf("unexpected usage: %+v", got.usage)
	}
	if got.model != "m" || got.requestID != "chatcmpl-1" {
		t.Errorf("unexpected model/id: %q/%q", got.model, got.requestID)
	}
}

func TestStreamExtractorLastNonEmptyWins(t *testing.T) {
	var ex streamExtractor
	// Usage split across frames: fields merge independently.
	ex.Ingest(`data: {"usage":{"prompt_tokens":7}}`)
	ex.Ingest(`data: {"usage":{"completion_tokens":3}}`)
	ex.Ingest(`data: {"usage":{"prompt_tokens":9}}`)

	got := ex.Finalize()
	if got.usage.PromptTokens != 9 {
		t.Errorf("expected last prompt_tokens value 9, got %d", got.usage.PromptTokens)
	}
	if got.usage.CompletionTokens != 3 {
		t.Errorf("expected completion_tokens 3 to survive, got %d", got.usage.CompletionTokens)
	}
	if got.usage.TotalTokens != 12 {
		t.Errorf("expected derived total 12, got %d", got.usage.TotalTokens)
	}
}

func TestStreamExtractorNonJSONFrameKeptAsText(t *testing.T) {
	var ex streamExtractor
	ex.Ingest(`data: {"choices":[{"delta":{"content":"a"}}]}`)
	ex.Ingest(`data: raw text payload`)
	ex.Ingest(`data: {"choices":[{"delta":{"content":"b"}}]}`)

	got := ex.Finalize()
	if got.output != "araw text payloadb" {
		t.Errorf("expected raw payload preserved in order, got %q", got.output)
	}
}

func TestStreamExtractorFinalizeIdempotent(t *testing.T) {
	var ex streamExtractor
	ex.Ingest(`data: {"choices":[{"delta":{"content":"once"}}]}`)
	ex.Ingest(`data: [DONE]`)

	first := ex.Finalize()
	// Frames after the terminator are dead; finalizing again must not
	// change or duplicate anything.
	ex.Ingest(`data: {"choices":[{"delta":{"content":"twice"}}]}`)
	second := ex.Finalize()

	if first.output != "once" || second.output != "once" {
		t.Errorf("expected stable output, got %q then %q", first.output, second.output)
	}
	if second != first {
		t.Errorf("expected identical results, got %+v vs %+v", first, second)
	}
}

func TestStreamExtractorIgnoresNonDataLines(t *testing.T) {
	var ex streamExtractor
	ex.Ingest(`event: message`)
	ex.Ingest(`: keepalive comment`)
	ex.Ingest(`data: {"choices":[{"delta":{"content":"x"}}]}`)

	if got := ex.Finalize(); got.output != "x" {
		t.Errorf("expected only data payloads consumed, got %q", got.output)
	}
}
