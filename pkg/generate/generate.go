// Package generate produces new catalog images from a text prompt.
package generate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	openai "github.com/sashabaranov/go-openai"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// DefaultGenerateTimeout bounds one image generation request.
const DefaultGenerateTimeout = 2 * time.Minute

// ErrEmptyPrompt is returned when no prompt is given.
var ErrEmptyPrompt = errors.New("prompt is required")

// Image is a generated image.
type Image struct {
	Prompt string
	URL    string
}

// Generator turns a prompt into an image.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// Prompts is the built-in prompt list used for seeding and mock generation.
var Prompts = []string{
	"pixel art cat sitting on a rainbow cloud",
	"neon cyberpunk street market at night",
	"abstract geometric waves in pastel colors",
	"retro 8-bit spaceship battle scene",
	"watercolor landscape of floating islands",
	"minimalist line art portrait of a fox",
	"vaporwave sunset over digital ocean",
	"isometric pixel art coffee shop interior",
	"glitch art portrait with neon distortion",
	"low-poly mountain scene at golden hour",
	"kawaii food characters having a party",
	"steampunk mechanical bird in flight",
	"synthwave grid with palm trees silhouette",
	"hand-drawn botanical illustration of alien plants",
	"pixel art medieval castle under northern lights",
}

// RandomPrompt picks one of Prompts.
func RandomPrompt() string {
	return Prompts[rand.IntN(len(Prompts))]
}

// MockGenerator returns placeholder images from picsum.photos.
type MockGenerator struct {
	// Seed returns the picsum seed. Defaults to a random value below 10000.
	Seed func() int
}

// Generate implements Generator.
func (g MockGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	seed := g.Seed
	if seed == nil {
		seed = func() int { return rand.IntN(10000) }
	}
	return &Image{
		Prompt: prompt,
		URL:    fmt.Sprintf("https://picsum.photos/seed/%d/1024/1024", seed()),
	}, nil
}

// OpenAIGenerator generates images with the OpenAI images API.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	size    string
	timeout time.Duration
}

// OpenAIOption configures an OpenAIGenerator
type OpenAIOption func(*OpenAIGenerator)

// WithModel overrides the image model (default dall-e-3).
func WithModel(model string) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.model = model
	}
}

// WithSize overrides the image size (default 1024x1024).
func WithSize(size string) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.size = size
	}
}

// WithTimeout overrides DefaultGenerateTimeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.timeout = d
	}
}

// NewOpenAIGenerator creates a generator over client.
func NewOpenAIGenerator(client *openai.Client, opts ...OpenAIOption) *OpenAIGenerator {
	g := &OpenAIGenerator{
		client:  client,
		model:   openai.CreateImageModelDallE3,
		size:    openai.CreateImageSize1024x1024,
		timeout: DefaultGenerateTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           g.size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: image generation: %v", x402.ErrUpstreamUnavailable, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, fmt.Errorf("%w: image generation returned no image", x402.ErrUpstreamUnavailable)
	}

	return &Image{Prompt: prompt, URL: resp.Data[0].URL}, nil
}
