package seller

import (
	"context"
	"fmt"

	"github.com/tlguszz1010/Pixel-Pay/pkg/generate"
)

// DefaultSeedCount is how many mock images an empty catalog starts with.
const DefaultSeedCount = 3

// Seed fills an empty catalog with n mock images so buyers have something
// to purchase. It does nothing when the catalog already has images.
func (s *Server) Seed(ctx context.Context, n int) (int, error) {
	existing, err := s.store.ListResources(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list catalog: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for i := 0; i < n; i++ {
		image, err := s.mock.Generate(ctx, generate.RandomPrompt())
		if err != nil {
			return i, err
		}
		resource, err := s.addImage(ctx, image, LogAutoGenerate, fmt.Sprintf("Auto generated: %q", image.Prompt))
		if err != nil {
			return i, fmt.Errorf("failed to seed catalog: %w", err)
		}
		s.logger.Info("seeded catalog image", "id", resource.ID, "prompt", resource.Prompt)
	}
	return n, nil
}
