// Package promptdrive provides the core types for the adaptive API
// orchestration engine: the remote inference client contract, the chat
// request/response shapes, and the per-request outcome record.
package promptdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ChatMessage is a single message in a chat-completion conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat requests structured output from the remote model.
//
// Only JSON-schema mode is modeled; adapters that cannot honor it must
// reject the request rather than silently ignore it.
type ResponseFormat struct {
	// SchemaName identifies the schema to the provider (required by OpenAI).
	SchemaName string

	// Schema is the raw JSON schema document.
	Schema json.RawMessage
}

// Request is a single chat-completion request submitted to a remote
// inference provider.
type Request struct {
	Model          string
	Messages       []ChatMessage
	Temperature    float32
	MaxTokens      int
	ResponseFormat *ResponseFormat
}

// Usage holds the token accounting reported by the provider for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// CachedTokens is the portion of PromptTokens served from the
	// provider's prompt cache, when reported. Zero otherwise.
	CachedTokens int `json:"cached_tokens"`
}

// Response is the provider's answer to a Request.
type Response struct {
	Content string
	Usage   Usage

	// Headers carries provider response headers when available
	// (e.g. Retry-After on throttled requests).
	Headers http.Header
}

// Client is the remote inference capability. Implementations live in
// adapter/llm; tests substitute stubs.
//
// Submit must honor ctx cancellation. It returns either a complete
// Response or an error; partial responses are not modeled.
type Client interface {
	Submit(ctx context.Context, req *Request) (*Response, error)
}

// APIError is a provider-level failure carrying enough detail for the
// orchestrator to classify it and, for throttling errors, to extract the
// provider-mandated wait from the Retry-After header.
type APIError struct {
	StatusCode int
	Message    string
	Headers    http.Header
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}
