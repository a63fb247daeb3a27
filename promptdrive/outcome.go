package promptdrive

import "time"

// ReportZone is the fixed offset used for all human-readable timestamps in
// outcomes and summary reports.
var ReportZone = time.FixedZone("UTC-3", -3*60*60)

// FormatTimestamp renders an absolute wall time as ISO-8601 in ReportZone.
func FormatTimestamp(t time.Time) string {
	return t.In(ReportZone).Format("2006-01-02T15:04:05-07:00")
}

// FormatReportTime renders a wall time the way summary reports expect it.
func FormatReportTime(t time.Time) string {
	return t.In(ReportZone).Format("2006-01-02 15:04:05")
}

// ErrorDetails captures the failure taxonomy for a terminal request failure.
type ErrorDetails struct {
	Type    string `json:"error_type"`
	Message string `json:"error_message"`
	Stack   string `json:"stack_trace,omitempty"`
}

// Outcome is the canonical per-request result record. One is produced for
// every request that terminates, success or terminal failure.
//
// Field order is fixed so that consumers serializing outcomes row-wise see
// a stable column order.
type Outcome struct {
	ID             string `json:"id"`
	StartTimestamp string `json:"start_timestamp"`
	Success        bool   `json:"success"`

	// Populated on success.
	Content      string  `json:"content,omitempty"`
	Parsed       any     `json:"parsed_content,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`

	// Populated on failure.
	Error        string        `json:"error,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`

	// Always populated.
	APIResponseTime float64 `json:"api_response_time"`
	Attempts        int     `json:"attempts"`
}
