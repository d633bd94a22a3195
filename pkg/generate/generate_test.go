package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc, opts ...OpenAIOption) *OpenAIGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"
	return NewOpenAIGenerator(openai.NewClientWithConfig(config), opts...)
}

func TestMockGenerator(t *testing.T) {
	g := MockGenerator{Seed: func() int { return 42 }}

	image, err := g.Generate(context.Background(), "a fox")
	require.NoError(t, err)
	assert.Equal(t, "a fox", image.Prompt)
	assert.Equal(t, "https://picsum.photos/seed/42/1024/1024", image.URL)

	_, err = g.Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestRandomPrompt(t *testing.T) {
	assert.Contains(t, Prompts, RandomPrompt())
	assert.Len(t, Prompts, 15)
}

func TestOpenAIGenerator(t *testing.T) {
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ImageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "neon city", req.Prompt)
		assert.Equal(t, openai.CreateImageModelDallE3, req.Model)
		assert.Equal(t, 1, req.N)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"created":1,"data":[{"url":"https://images.example/1.png"}]}`))
	})

	image, err := g.Generate(context.Background(), "neon city")
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/1.png", image.URL)
}

func TestOpenAIGeneratorEmptyResult(t *testing.T) {
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"created":1,"data":[]}`))
	})

	_, err := g.Generate(context.Background(), "neon city")
	assert.True(t, errors.Is(err, x402.ErrUpstreamUnavailable))
}

func TestOpenAIGeneratorUpstreamError(t *testing.T) {
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"content policy","type":"invalid_request_error"}}`))
	})

	_, err := g.Generate(context.Background(), "neon city")
	assert.True(t, errors.Is(err, x402.ErrUpstreamUnavailable))
	assert.Contains(t, err.Error(), "content policy")
}

func TestOpenAIGeneratorTimesOut(t *testing.T) {
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := g.Generate(context.Background(), "neon city")
	assert.True(t, errors.Is(err, x402.ErrUpstreamUnavailable))
	assert.Less(t, time.Since(start), 2*time.Second)
}
