package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord captures everything observed about one proxied request:
// timing, token counts, content, and error metadata. Exactly one record
// is produced per request, success or failure.
type UsageRecord struct {
	ID           int64     `json:"id"`
	Endpoint     string    `json:"endpoint"`
	Model        string    `json:"model"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationMs   int64     `json:"duration_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	Prompt       string    `json:"prompt"`
	Output       string    `json:"output"`
	RequestID    string    `json:"request_id,omitempty"`
	IsError      bool      `json:"is_error"`
	ErrorMessage string    `json:"error_message,omitempty"`
	HTTPStatus   int       `json:"http_status"`
	WasStreamed  bool      `json:"was_streamed"`
}

// NewUsageRecord creates a record for a request that just arrived.
func NewUsageRecord(endpoint, model string, start time.Time, prompt string) *UsageRecord {
	return &UsageRecord{
		Endpoint:   endpoint,
		Model:      model,
		StartTime:  start,
		Prompt:     prompt,
		HTTPStatus: 200,
	}
}

// Complete finalizes a successful record. Total tokens are derived from
// the input and output counts.
func (r *UsageRecord) Complete(end time.Time, output string, inputTokens, outputTokens, httpStatus int, streamed bool) {
	r.EndTime = end
	r.Output = output
	r.InputTokens = inputTokens
	r.OutputTokens = outputTokens
	r.TotalTokens = inputTokens + outputTokens
	r.HTTPStatus = httpStatus
	r.WasStreamed = streamed
	r.DurationMs = durationMs(r.StartTime, end)
}

// Fail finalizes a record for a failed request. Token counts keep their
// zero defaults.
func (r *UsageRecord) Fail(end time.Time, message string, httpStatus int) {
	r.EndTime = end
	r.IsError = true
	r.ErrorMessage = message
	r.HTTPStatus = httpStatus
	r.DurationMs = durationMs(r.StartTime, end)
}

func durationMs(start, end time.Time) int64 {
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// SummaryStats aggregates usage across all recorded requests.
type SummaryStats struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	TotalInputTokens   int64   `json:"total_input_tokens"`
	TotalOutputTokens  int64   `json:"total_output_tokens"`
	TotalTokens        int64   `json:"total_tokens"`
	AvgInputTokens     float64 `json:"avg_input_tokens"`
	AvgOutputTokens    float64 `json:"avg_output_tokens"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
}

// ModelStats aggregates successful requests per model.
type ModelStats struct {
	Model               string  `json:"model"`
	Requests            int64   `json:"requests"`
	TotalTokens         int64   `json:"total_tokens"`
	AvgTokensPerRequest float64 `json:"avg_tokens_per_request"`
}

// RecentRequest is the trimmed view of a record returned by the recent
// requests listing.
type RecentRequest struct {
	ID           int64     `json:"id"`
	Endpoint     string    `json:"endpoint"`
	Model        string    `json:"model"`
	StartTime    time.Time `json:"start_time"`
	DurationMs   int64     `json:"duration_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	IsError      bool      `json:"is_error"`
}
