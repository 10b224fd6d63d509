package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// bedrockMessage/bedrockRequest/bedrockResponse mirror the Anthropic
// Messages API shape Bedrock's InvokeModel expects for Claude models —
// Bedrock has no typed SDK model for it, so the payload is hand-built
// JSON per AWS's documented "anthropic_version: bedrock-2023-05-31"
// contract.
type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature,omitempty"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// titanEmbedRequest/titanEmbedResponse mirror Amazon Titan Text
// Embeddings' InvokeModel payload shape.
type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockProvider calls the secondary (fallback) provider: Claude models
// served through Amazon Bedrock, used when the Anthropic breaker opens.
type BedrockProvider struct {
	rt *bedrockruntime.Client
}

// NewBedrockProvider constructs a BedrockProvider over an already
// configured bedrockruntime.Client (region/credentials resolved at the
// composition root via aws-sdk-go-v2/config).
func NewBedrockProvider(rt *bedrockruntime.Client) *BedrockProvider {
	return &BedrockProvider{rt: rt}
}

// Complete invokes modelID (a Bedrock model ARN/ID, e.g.
// "anthropic.claude-3-5-sonnet-20241022-v2:0") via InvokeModel.
func (p *BedrockProvider) Complete(ctx context.Context, modelID string, req Request) (Response, error) {
	messages := make([]bedrockMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, bedrockMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           req.SystemPrompt,
		Messages:         messages,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm/client: marshal bedrock request: %w", err)
	}

	out, err := p.rt.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm/client: bedrock invoke failed: %w", err)
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return Response{}, fmt.Errorf("llm/client: unmarshal bedrock response: %w", err)
	}

	var text bytes.Buffer
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return Response{
		Text:         text.String(),
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		StopReason:   parsed.StopReason,
	}, nil
}

// EmbedText invokes an Amazon Titan embeddings model (e.g.
// "amazon.titan-embed-text-v2:0") and returns the resulting vector. It
// satisfies pkg/migration.EmbedFunc's signature by currying the model id.
func (p *BedrockProvider) EmbedText(ctx context.Context, modelID, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("llm/client: marshal titan embed request: %w", err)
	}

	out, err := p.rt.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("llm/client: titan embed invoke failed: %w", err)
	}

	var parsed titanEmbedResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, fmt.Errorf("llm/client: unmarshal titan embed response: %w", err)
	}
	return parsed.Embedding, nil
}
