package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

// GeminiClient is an adapter for Google's Gemini models.
//
// Structured output requests enable JSON response mode and inject the
// schema as a system instruction; Gemini's typed response schemas are
// not derivable from raw JSON schema documents.
//
// Example:
//
//	client, err := NewGeminiClient("your-api-key")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
type GeminiClient struct {
	client *genai.Client
}

var _ promptdrive.Client = (*GeminiClient)(nil)

// NewGeminiClient creates a new Gemini adapter.
//
// Parameters:
//   - apiKey: Google API key. If empty, will use GEMINI_API_KEY or
//     GOOGLE_API_KEY env var
func NewGeminiClient(apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini api key required: provide apiKey parameter or set GEMINI_API_KEY or GOOGLE_API_KEY environment variable")
		}
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{client: client}, nil
}

// Submit issues one generation request.
//
// Quota errors are returned as *promptdrive.APIError carrying the HTTP
// status and response headers, so Retry-After hints reach the retry
// layer.
func (c *GeminiClient) Submit(ctx context.Context, req *promptdrive.Request) (*promptdrive.Response, error) {
	model := c.client.GenerativeModel(req.Model)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	var systemParts []genai.Part
	var userParts []genai.Part
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, genai.Text(msg.Content))
			continue
		}
		userParts = append(userParts, genai.Text(msg.Content))
	}

	if req.ResponseFormat != nil {
		model.ResponseMIMEType = "application/json"
		systemParts = append(systemParts, genai.Text(schemaInstruction(req.ResponseFormat)))
	}
	if len(systemParts) > 0 {
		model.SystemInstruction = &genai.Content{Parts: systemParts}
	}
	if len(userParts) == 0 {
		return nil, errors.New("gemini request has no user content")
	}

	resp, err := model.GenerateContent(ctx, userParts...)
	if err != nil {
		return nil, convertGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini returned no candidates")
	}

	var content string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			content += string(text)
		}
	}

	var usage promptdrive.Usage
	if resp.UsageMetadata != nil {
		usage = promptdrive.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			CachedTokens:     int(resp.UsageMetadata.CachedContentTokenCount),
		}
	}

	return &promptdrive.Response{
		Content: content,
		Usage:   usage,
	}, nil
}

// convertGeminiError maps Google API errors onto promptdrive.APIError.
func convertGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &promptdrive.APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Headers:    gerr.Header,
		}
	}
	return fmt.Errorf("gemini api error: %w", err)
}

// Close releases the underlying client connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Unwrap returns the underlying GenAI client for direct API access.
func (c *GeminiClient) Unwrap() *genai.Client {
	return c.client
}
