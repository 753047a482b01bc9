// Package providertest provides scripted provider implementations for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/provider"
)

// Fake is a scripted provider.Provider. Nil hooks return canned results.
// Every call is recorded by method name.
type Fake struct {
	GenerateImagesFn    func(ctx context.Context, prompt string, count int) ([]string, error)
	EnhanceImageFn      func(ctx context.Context, img models.Image, prompt string) (string, error)
	AnalyzeImageFn      func(ctx context.Context, img models.Image) (*provider.Analysis, error)
	IntentScreenshotFn  func(ctx context.Context, img models.Image, prompt string) (string, error)
	PreRenderAuditFn    func(ctx context.Context, imageURL, prompt string) (string, error)
	GenerateHTMLFn      func(ctx context.Context, imageURL, prompt, audit string) (string, error)
	ConfirmRefinementFn func(ctx context.Context, original models.Image, refinedURL, prompt string) (string, error)
	CropImageFn         func(ctx context.Context, imageURL string) (string, error)
	ChatFn              func(ctx context.Context, history []provider.Turn, message string) (string, error)

	mu    sync.Mutex
	calls []string
}

var _ provider.Provider = (*Fake)(nil)

// Canned results returned when no hook is set.
const (
	GeneratedURL  = "data:image/png;base64,Z2VuZXJhdGVk"
	EnhancedURL   = "data:image/png;base64,ZW5oYW5jZWQ="
	IntentURL     = "data:image/png;base64,aW50ZW50"
	CroppedURL    = "data:image/png;base64,Y3JvcHBlZA=="
	AuditReport   = "- Parsed Directive Summary: ok"
	Refinement    = "Snapshot B confirmed."
	ChatReply     = "Here is my answer."
	HTMLDocument  = "<!-- BUILD PLAN: hero, cards | STYLES: tailwind -->\n<html><body><img src=\"{{HERO_IMAGE_BASE64}}\"></body></html>"
	AnalysisLead  = "I see your annotations."
	AnalysisClose = "Shall I render it?"
)

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

// Calls returns the names of the methods invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count reports how many times the named method was invoked.
func (f *Fake) Count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *Fake) GenerateImages(ctx context.Context, prompt string, count int) ([]string, error) {
	f.record("GenerateImages")
	if f.GenerateImagesFn != nil {
		return f.GenerateImagesFn(ctx, prompt, count)
	}
	urls := make([]string, count)
	for i := range urls {
		urls[i] = GeneratedURL
	}
	return urls, nil
}

func (f *Fake) EnhanceImage(ctx context.Context, img models.Image, prompt string) (string, error) {
	f.record("EnhanceImage")
	if f.EnhanceImageFn != nil {
		return f.EnhanceImageFn(ctx, img, prompt)
	}
	return EnhancedURL, nil
}

func (f *Fake) AnalyzeImage(ctx context.Context, img models.Image) (*provider.Analysis, error) {
	f.record("AnalyzeImage")
	if f.AnalyzeImageFn != nil {
		return f.AnalyzeImageFn(ctx, img)
	}
	return &provider.Analysis{
		OpeningStatement: AnalysisLead,
		BulletPoints:     []string{"Move the hero up", "Enlarge the headline"},
		ClosingStatement: AnalysisClose,
	}, nil
}

func (f *Fake) GenerateIntentScreenshot(ctx context.Context, img models.Image, prompt string) (string, error) {
	f.record("GenerateIntentScreenshot")
	if f.IntentScreenshotFn != nil {
		return f.IntentScreenshotFn(ctx, img, prompt)
	}
	return IntentURL, nil
}

func (f *Fake) GeneratePreRenderAudit(ctx context.Context, imageURL, prompt string) (string, error) {
	f.record("GeneratePreRenderAudit")
	if f.PreRenderAuditFn != nil {
		return f.PreRenderAuditFn(ctx, imageURL, prompt)
	}
	return AuditReport, nil
}

func (f *Fake) GenerateHTML(ctx context.Context, imageURL, prompt, audit string) (string, error) {
	f.record("GenerateHTML")
	if f.GenerateHTMLFn != nil {
		return f.GenerateHTMLFn(ctx, imageURL, prompt, audit)
	}
	return HTMLDocument, nil
}

func (f *Fake) ConfirmRefinement(ctx context.Context, original models.Image, refinedURL, prompt string) (string, error) {
	f.record("ConfirmRefinement")
	if f.ConfirmRefinementFn != nil {
		return f.ConfirmRefinementFn(ctx, original, refinedURL, prompt)
	}
	return Refinement, nil
}

func (f *Fake) CropImage(ctx context.Context, imageURL string) (string, error) {
	f.record("CropImage")
	if f.CropImageFn != nil {
		return f.CropImageFn(ctx, imageURL)
	}
	return CroppedURL, nil
}

func (f *Fake) Chat(ctx context.Context, history []provider.Turn, message string) (string, error) {
	f.record("Chat")
	if f.ChatFn != nil {
		return f.ChatFn(ctx, history, message)
	}
	return ChatReply, nil
}

// Fail returns a hook-compatible error for scripted failures.
func Fail(op string) error {
	return fmt.Errorf("%s: scripted failure", op)
}
