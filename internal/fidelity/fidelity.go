// Package fidelity reports similarity metrics between a source image and its
// refinement.
package fidelity

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/esnunes/renderpilot/internal/models"
)

// Provider computes fidelity metrics for a before/after image pair.
type Provider interface {
	Measure(ctx context.Context, before, after string) (models.Metrics, error)
}

// Simulated draws plausible metrics at random. Each call is a single draw; it
// never inspects the images.
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ Provider = (*Simulated)(nil)

func NewSimulated(seed uint64) *Simulated {
	return &Simulated{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *Simulated) Measure(_ context.Context, _, _ string) (models.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Metrics{
		SSIM:  fmt.Sprintf("%.1f%%", 97+s.rng.Float64()*2.9),
		IoU:   fmt.Sprintf("%.1f%%", 92+s.rng.Float64()*5),
		MSE:   fmt.Sprintf("%.3f", 0.01+s.rng.Float64()*0.04),
		LPIPS: fmt.Sprintf("%.3f", 0.02+s.rng.Float64()*0.05),
	}, nil
}
