// Package llm provides provider adapters implementing promptdrive.Client.
//
// Each adapter wraps one provider SDK and normalizes three things the
// orchestration engine depends on:
//
//   - Token usage, including provider-reported cached prompt tokens,
//     mapped onto promptdrive.Usage.
//   - Rate-limit pushback, surfaced as *promptdrive.APIError with the
//     HTTP status and any response headers the SDK exposes, so the
//     retry layer can extract Retry-After hints.
//   - Structured output requests, translated to whatever the provider
//     supports (native JSON-schema mode, JSON mode, or a schema
//     instruction in the prompt).
//
// Swapping providers:
//
//	// Same orchestrator code, different provider
//	client := llm.NewOpenAIClient("sk-...")
//	client, err := llm.NewBedrockClient(ctx, llm.BedrockConfig{Region: "us-west-2"})
package llm

import (
	"encoding/json"
	"fmt"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

// schemaInstruction renders a response-format request as a prompt
// instruction for providers without a native JSON-schema request field.
func schemaInstruction(format *promptdrive.ResponseFormat) string {
	schema := json.RawMessage(`{}`)
	if len(format.Schema) > 0 {
		schema = format.Schema
	}
	return fmt.Sprintf(
		"Respond with a single JSON object conforming to the schema %q. Schema: %s. Output only the JSON object, no prose.",
		format.SchemaName, string(schema))
}
