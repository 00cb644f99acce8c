package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Image is an image payload sent to or returned by a model.
type Image struct {
	MIMEType string
	Data     []byte
}

// ImageRequest asks the image model for one image. References are sent as inline images
// in order, after the prompt.
type ImageRequest struct {
	Prompt      string
	References  []Image
	Temperature *float32
}

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateJSON generates JSON content using the specified model tier
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateImage generates or edits an image with the image tier model
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
	// GetModel returns the underlying provider model for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider %q", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// GenerateJSON generates JSON content using the specified model tier
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	modelName := c.config.GetModel(tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(c.config.Temperature)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// GenerateImage sends the prompt and reference images to the image model and returns the
// first image part of the response.
func (c *GeminiClient) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	modelName := c.config.GetModel(TierImage)
	if modelName == "" {
		return Image{}, fmt.Errorf("no model configured for tier %s", TierImage)
	}

	model := c.client.GenerativeModel(modelName)
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}

	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, ref := range req.References {
		parts = append(parts, genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return Image{}, fmt.Errorf("failed to generate image: %w", err)
	}
	return extractImageFromResponse(resp)
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errNoCandidates
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errNoContent
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no text parts in response", errNoContent)
	}

	return strings.Join(parts, ""), nil
}

// extractImageFromResponse returns the first inline image of the first candidate.
func extractImageFromResponse(resp *genai.GenerateContentResponse) (Image, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Image{}, errNoCandidates
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return Image{}, errNoContent
	}
	for _, part := range candidate.Content.Parts {
		if blob, ok := part.(genai.Blob); ok && strings.HasPrefix(blob.MIMEType, "image/") && len(blob.Data) > 0 {
			return Image{MIMEType: blob.MIMEType, Data: blob.Data}, nil
		}
	}
	return Image{}, fmt.Errorf("%w: no image parts in response", errNoContent)
}
