package buyer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
)

// Candidate is an unsold listing offered to a Strategy.
type Candidate struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Price  string `json:"price"`
}

// Strategy picks the index of the candidate to buy.
type Strategy interface {
	Pick(ctx context.Context, candidates []Candidate) (int, error)
}

// Ranker asks an external model for the best candidate. An index outside
// the candidate list is accepted and degrades to the first candidate.
type Ranker interface {
	Rank(ctx context.Context, candidates []Candidate) (int, error)
}

var errNoCandidates = errors.New("no candidates to pick from")

// RandomStrategy picks uniformly at random.
type RandomStrategy struct {
	// Intn defaults to math/rand/v2.IntN.
	Intn func(n int) int
}

// Pick implements Strategy.
func (s RandomStrategy) Pick(ctx context.Context, candidates []Candidate) (int, error) {
	if len(candidates) == 0 {
		return 0, errNoCandidates
	}
	intn := s.Intn
	if intn == nil {
		intn = rand.IntN
	}
	return intn(len(candidates)), nil
}

// RankingStrategy asks Ranker first and falls back to Fallback when the
// ranker fails.
type RankingStrategy struct {
	Ranker   Ranker
	Fallback Strategy
	Logger   *slog.Logger
}

// Pick implements Strategy.
func (s RankingStrategy) Pick(ctx context.Context, candidates []Candidate) (int, error) {
	if len(candidates) == 0 {
		return 0, errNoCandidates
	}
	fallback := s.Fallback
	if fallback == nil {
		fallback = RandomStrategy{}
	}
	if s.Ranker == nil {
		return fallback.Pick(ctx, candidates)
	}

	idx, err := s.Ranker.Rank(ctx, candidates)
	if err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("ranker failed, falling back", "error", err)
		return fallback.Pick(ctx, candidates)
	}
	if idx < 0 || idx >= len(candidates) {
		return 0, nil
	}
	return idx, nil
}
