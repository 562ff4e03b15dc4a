package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the chat-completions endpoint of the AI gateway.
	DefaultBaseURL = "https://ai.gateway.lovable.dev/v1/chat/completions"

	// DefaultModel is the image-capable model requested from the gateway.
	DefaultModel = "google/gemini-2.5-flash-image-preview"

	// MaxImageSize caps source images accepted for editing (20MB).
	MaxImageSize = 20 * 1024 * 1024
)

// GatewayConfig configures the hosted AI gateway provider.
type GatewayConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// Gateway implements Provider against an OpenAI-compatible chat-completions
// API with image output modality.
type Gateway struct {
	config GatewayConfig
	client *http.Client
	logger *slog.Logger
}

// NewGateway creates a gateway-backed image provider.
func NewGateway(config GatewayConfig, logger *slog.Logger) (*Gateway, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("imagegen: gateway API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}

	return &Gateway{
		config: config,
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// Generate produces an image from a text prompt.
func (g *Gateway) Generate(ctx context.Context, params GenerateParams) (*Result, error) {
	if params.Prompt == "" {
		return nil, WrapError("generate", fmt.Errorf("prompt is required"))
	}

	req := chatRequest{
		Model: g.config.Model,
		Messages: []chatMessage{
			{Role: "user", Content: params.Prompt},
		},
		Modalities: []string{"image", "text"},
	}
	return g.execute(ctx, "generate", req)
}

// Edit produces a new image from a source image and an instruction prompt.
func (g *Gateway) Edit(ctx context.Context, params EditParams) (*Result, error) {
	if params.Prompt == "" || len(params.ImageData) == 0 {
		return nil, WrapError("edit", fmt.Errorf("image and prompt are required"))
	}
	if len(params.ImageData) > MaxImageSize {
		return nil, WrapError("edit", fmt.Errorf("source image exceeds %d bytes", MaxImageSize))
	}

	contentType := params.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(params.ImageData)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(params.ImageData))

	// The gateway has no dedicated edit endpoint; editing is a multimodal
	// completion conditioned on the source image.
	prompt := fmt.Sprintf("Based on this image, create a new image with the following changes: %s. "+
		"Maintain the overall style and composition while making the requested modifications.", params.Prompt)

	req := chatRequest{
		Model: g.config.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
					{Type: "text", Text: prompt},
				},
			},
		},
		Modalities: []string{"image", "text"},
	}
	return g.execute(ctx, "edit", req)
}

func (g *Gateway) execute(ctx context.Context, operation string, payload chatRequest) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(operation, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		g.logger.Error("image gateway error",
			"operation", operation, "status", resp.StatusCode, "body", string(errBody))
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, ErrRateLimited
		case http.StatusPaymentRequired:
			return nil, ErrPaymentRequired
		}
		return nil, WrapError(operation, fmt.Errorf("gateway returned status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, WrapError(operation, err)
	}

	rawURL := parsed.imageURL()
	if rawURL == "" {
		return nil, WrapError(operation, fmt.Errorf("no image in gateway response"))
	}

	return resultFromURL(rawURL)
}

// resultFromURL normalizes the gateway's image reference: inline data URLs
// are decoded to bytes for storage, hosted URLs are passed through.
func resultFromURL(rawURL string) (*Result, error) {
	if !strings.HasPrefix(rawURL, "data:") {
		return &Result{URL: rawURL}, nil
	}

	meta, encoded, ok := strings.Cut(strings.TrimPrefix(rawURL, "data:"), ",")
	if !ok {
		return nil, WrapError("decode", fmt.Errorf("malformed data URL"))
	}
	contentType := strings.TrimSuffix(meta, ";base64")

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, WrapError("decode", err)
	}
	return &Result{Data: data, ContentType: contentType}, nil
}

// =============================================================================
// Wire types
// =============================================================================

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL imageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *chatResponse) imageURL() string {
	if len(r.Choices) == 0 {
		return ""
	}
	images := r.Choices[0].Message.Images
	if len(images) == 0 {
		return ""
	}
	return images[0].ImageURL.URL
}
