package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

// BedrockClient is an adapter for Amazon Bedrock foundation models via
// the Converse API.
//
// Supports the full AWS credential chain:
//   - Explicit credentials (access key ID, secret access key)
//   - AWS profiles (~/.aws/config)
//   - Environment variables (AWS_ACCESS_KEY_ID, etc.)
//   - IAM roles (EC2, ECS, EKS)
//
// Bedrock has no JSON-schema request field, so structured output
// requests are injected as a system instruction; callers should only
// enable json_schema in the pricing table for models that follow it
// reliably.
//
// Example:
//
//	client, err := NewBedrockClient(context.Background(), BedrockConfig{
//	    Region: "us-west-2",
//	})
type BedrockClient struct {
	client *bedrockruntime.Client
}

var _ promptdrive.Client = (*BedrockClient)(nil)

// BedrockConfig holds configuration for creating a Bedrock adapter.
type BedrockConfig struct {
	// Region is the AWS region (default: us-east-1)
	Region string

	// Profile is the AWS profile name (optional)
	Profile string

	// AccessKeyID is the AWS access key (optional)
	AccessKeyID string

	// SecretAccessKey is the AWS secret key (optional)
	SecretAccessKey string

	// SessionToken is the AWS session token (optional)
	SessionToken string

	// EndpointURL is a custom endpoint URL for VPC endpoints (optional)
	EndpointURL string
}

// NewBedrockClient creates a new Bedrock adapter.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(awsConfig, clientOpts...),
	}, nil
}

// Submit issues one Converse request.
//
// Throttling errors are returned as *promptdrive.APIError with status
// 429 so the retry layer treats them as provider pushback.
func (c *BedrockClient) Submit(ctx context.Context, req *promptdrive.Request) (*promptdrive.Response, error) {
	bedrockMessages, systemPrompts := convertBedrockMessages(req.Messages)

	if req.ResponseFormat != nil {
		systemPrompts = append(systemPrompts, &types.SystemContentBlockMemberText{
			Value: schemaInstruction(req.ResponseFormat),
		})
	}

	inferenceConfig := &types.InferenceConfiguration{
		Temperature: aws.Float32(req.Temperature),
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	inferenceConfig.MaxTokens = aws.Int32(int32(maxTokens))

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		Messages:        bedrockMessages,
		InferenceConfig: inferenceConfig,
	}
	if len(systemPrompts) > 0 {
		input.System = systemPrompts
	}

	output, err := c.client.Converse(ctx, input)
	if err != nil {
		var throttled *types.ThrottlingException
		if errors.As(err, &throttled) {
			return nil, &promptdrive.APIError{
				StatusCode: http.StatusTooManyRequests,
				Message:    "bedrock rate limit: " + aws.ToString(throttled.Message),
			}
		}
		return nil, fmt.Errorf("bedrock api error: %w", err)
	}

	var content string
	if output.Output != nil {
		if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
			for _, block := range msg.Value.Content {
				if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
					content += textBlock.Value
				}
			}
		}
	}

	var usage promptdrive.Usage
	if output.Usage != nil {
		usage = promptdrive.Usage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.TotalTokens)),
			CachedTokens:     int(aws.ToInt32(output.Usage.CacheReadInputTokens)),
		}
	}

	return &promptdrive.Response{
		Content: content,
		Usage:   usage,
	}, nil
}

// convertBedrockMessages maps chat messages onto the Converse format.
// System messages go into the separate system parameter; every other
// role maps to user or assistant.
func convertBedrockMessages(messages []promptdrive.ChatMessage) ([]types.Message, []types.SystemContentBlock) {
	var bedrockMessages []types.Message
	var systemPrompts []types.SystemContentBlock

	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompts = append(systemPrompts, &types.SystemContentBlockMemberText{
				Value: msg.Content,
			})
			continue
		}

		role := types.ConversationRoleAssistant
		if msg.Role == "user" {
			role = types.ConversationRoleUser
		}

		bedrockMessages = append(bedrockMessages, types.Message{
			Role: role,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: msg.Content},
			},
		})
	}

	return bedrockMessages, systemPrompts
}

// Unwrap returns the underlying Bedrock runtime client for direct API
// access.
func (c *BedrockClient) Unwrap() *bedrockruntime.Client {
	return c.client
}
