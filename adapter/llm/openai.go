package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

// OpenAIClient is an adapter for OpenAI's chat completion API.
//
// Wraps the go-openai SDK behind the promptdrive.Client interface.
// Supports native JSON-schema structured output and reports cached
// prompt tokens when the API returns them.
//
// Example:
//
//	client := NewOpenAIClient("sk-...")
//	resp, err := client.Submit(ctx, &promptdrive.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []promptdrive.ChatMessage{{Role: "user", Content: "Hello!"}},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Content)
type OpenAIClient struct {
	client *openai.Client
}

var _ promptdrive.Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new OpenAI adapter.
//
// Parameters:
//   - apiKey: OpenAI API key
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey)}
}

// NewOpenAIClientWithConfig creates an adapter from a full go-openai
// client config, for custom base URLs and OpenAI-compatible gateways.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Submit issues one chat completion request.
//
// Rate-limit and other API errors are returned as *promptdrive.APIError
// carrying the HTTP status code, so the retry layer can classify them.
func (c *OpenAIClient) Submit(ctx context.Context, req *promptdrive.Request) (*promptdrive.Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.ResponseFormat != nil {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.ResponseFormat.SchemaName,
				Schema: json.RawMessage(req.ResponseFormat.Schema),
				Strict: true,
			},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	usage := promptdrive.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if resp.Usage.PromptTokensDetails != nil {
		usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	return &promptdrive.Response{
		Content: resp.Choices[0].Message.Content,
		Usage:   usage,
	}, nil
}

// convertOpenAIError maps SDK errors onto promptdrive.APIError so the
// status code survives for retry classification. Non-API errors (network,
// context) pass through unchanged.
func convertOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &promptdrive.APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &promptdrive.APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		}
	}
	return fmt.Errorf("openai api error: %w", err)
}

// Unwrap returns the underlying go-openai client for direct API access.
func (c *OpenAIClient) Unwrap() *openai.Client {
	return c.client
}
