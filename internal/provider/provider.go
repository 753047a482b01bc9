// Package provider is the boundary to the generative-AI capability provider.
// Every call is fallible and attempted exactly once; callers decide how to surface
// the failure.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/esnunes/renderpilot/internal/models"
)

var (
	// ErrMissingAPIKey is fatal for any AI-dependent action. No client is built without it.
	ErrMissingAPIKey = errors.New("provider API key not found: set OPENAI_API_KEY (or RENDERPILOT_API_KEY); routing terminated")
	ErrEmptyResult   = errors.New("provider returned no result")
	ErrTimeout       = errors.New("AI is taking too long, please try again")
)

// Provider offers the turn-based capabilities the orchestrator drives.
// Image arguments and results are data URLs (or remote URLs) the ledger references.
type Provider interface {
	GenerateImages(ctx context.Context, prompt string, count int) ([]string, error)
	EnhanceImage(ctx context.Context, img models.Image, prompt string) (string, error)
	AnalyzeImage(ctx context.Context, img models.Image) (*Analysis, error)
	GenerateIntentScreenshot(ctx context.Context, img models.Image, prompt string) (string, error)
	GeneratePreRenderAudit(ctx context.Context, imageURL, prompt string) (string, error)
	// GenerateHTML returns the raw model output. It may contain a build plan comment,
	// markdown fences and the hero placeholder; callers post-process it.
	GenerateHTML(ctx context.Context, imageURL, prompt, auditReport string) (string, error)
	ConfirmRefinement(ctx context.Context, original models.Image, refinedURL, prompt string) (string, error)
	CropImage(ctx context.Context, imageURL string) (string, error)
	Chat(ctx context.Context, history []Turn, message string) (string, error)
}

type Turn struct {
	Role    models.Role
	Content string
}

// Analysis is the structured vision parse of an uploaded image.
type Analysis struct {
	OpeningStatement string   `json:"openingStatement"`
	BulletPoints     []string `json:"bulletPoints"`
	ClosingStatement string   `json:"closingStatement"`
}

func parseAnalysis(output string) (*Analysis, error) {
	text := strings.TrimSpace(stripFences(output))
	var a Analysis
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		// Models sometimes wrap the object in prose; retry on the outermost braces.
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("parsing image analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
			return nil, fmt.Errorf("parsing image analysis: %w", err)
		}
	}
	if a.OpeningStatement == "" && len(a.BulletPoints) == 0 {
		return nil, fmt.Errorf("parsing image analysis: %w", ErrEmptyResult)
	}
	return &a, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, fence := range []string{"```json", "```html", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}
	return strings.TrimSpace(s)
}
