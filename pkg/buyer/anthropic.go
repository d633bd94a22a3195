package buyer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultRankerModel is the model the collector prompt is sent to.
	DefaultRankerModel = "claude-haiku-4-5-20251001"

	// DefaultRankerTimeout bounds one ranking call. The call is not retried.
	DefaultRankerTimeout = 15 * time.Second

	rankerMaxTokens = 100
	rankerPrompt    = "You are an art collector AI. Pick the most interesting image to buy from this gallery listing. Reply with ONLY the index number.\n\n"
)

// AnthropicRanker ranks candidates with a Claude model.
type AnthropicRanker struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnthropicRanker creates a ranker with a DefaultRankerTimeout deadline
// and SDK retries disabled. Extra request options (base URL, HTTP client)
// are passed to the SDK client.
func NewAnthropicRanker(apiKey string, opts ...option.RequestOption) *AnthropicRanker {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(DefaultRankerTimeout),
		option.WithMaxRetries(0),
	}, opts...)
	return &AnthropicRanker{
		client:  anthropic.NewClient(opts...),
		model:   DefaultRankerModel,
		timeout: DefaultRankerTimeout,
	}
}

// Rank implements Ranker. A reply that is not a number yields -1.
func (r *AnthropicRanker) Rank(ctx context.Context, candidates []Candidate) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	response, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: rankerMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(rankerPrompt + listing(candidates))),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("ranker request failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text = tb.Text
			break
		}
	}

	idx, err := strconv.Atoi(firstNumber(text))
	if err != nil {
		return -1, nil
	}
	return idx, nil
}

func listing(candidates []Candidate) string {
	lines := make([]string, len(candidates))
	for i, c := range candidates {
		lines[i] = fmt.Sprintf("%d: \"%s\" (price: %s)", i, c.Prompt, c.Price)
	}
	return strings.Join(lines, "\n")
}

// firstNumber returns the leading digits of s after trimming whitespace.
func firstNumber(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
