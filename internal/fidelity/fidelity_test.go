package fidelity

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	require.NoError(t, err)
	return v
}

func TestSimulatedRanges(t *testing.T) {
	s := NewSimulated(42)
	for range 200 {
		m, err := s.Measure(context.Background(), "a", "b")
		require.NoError(t, err)

		assert.True(t, strings.HasSuffix(m.SSIM, "%"))
		assert.True(t, strings.HasSuffix(m.IoU, "%"))
		assert.InDelta(t, 98.45, parse(t, m.SSIM), 1.5)
		assert.InDelta(t, 94.5, parse(t, m.IoU), 2.5)
		assert.InDelta(t, 0.03, parse(t, m.MSE), 0.0201)
		assert.InDelta(t, 0.045, parse(t, m.LPIPS), 0.0251)
	}
}

func TestSimulatedDeterministicPerSeed(t *testing.T) {
	a, _ := NewSimulated(7).Measure(context.Background(), "", "")
	b, _ := NewSimulated(7).Measure(context.Background(), "", "")
	assert.Equal(t, a, b)
}
