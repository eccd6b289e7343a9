package gateway

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API with a structured response schema.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.5-pro"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Generate(ctx context.Context, prompt Prompt) (string, error) {
	parts := make([]*genai.Part, 0, 2*len(prompt.Images)+1)
	for _, img := range prompt.Images {
		if img.Label != "" {
			parts = append(parts, genai.NewPartFromText(img.Label))
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(prompt.Instruction))

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(prompt.Kind),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

func responseSchema(kind PromptKind) *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	if kind == KindVerification {
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"is_real": {Type: genai.TypeBoolean},
				"reason":  str,
				"audit": {
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"overall_score": {Type: genai.TypeInteger},
						"authenticity":  str,
						"context_match": str,
						"findings":      {Type: genai.TypeArray, Items: str},
					},
					Required: []string{"overall_score", "authenticity", "context_match", "findings"},
				},
			},
			Required: []string{"is_real", "reason", "audit"},
		}
	}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"type":            str,
				"confidence":      {Type: genai.TypeNumber},
				"timestamp":       str,
				"description":     str,
				"location":        str,
				"detectedObjects": {Type: genai.TypeArray, Items: str},
				"licensePlate":    str,
				"matchedTargetId": str,
				"locationInImage": str,
			},
			Required: []string{"type", "confidence", "description"},
		},
	}
}
