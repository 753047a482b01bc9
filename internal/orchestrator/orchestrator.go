// Package orchestrator drives visual artifacts through the render pipeline,
// gates irreversible steps behind user confirmation and records every step in
// the revision ledger.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/esnunes/renderpilot/internal/chat"
	"github.com/esnunes/renderpilot/internal/fidelity"
	"github.com/esnunes/renderpilot/internal/htmlgen"
	"github.com/esnunes/renderpilot/internal/ledger"
	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/provider"
	"github.com/esnunes/renderpilot/internal/session"
	"github.com/esnunes/renderpilot/internal/telemetry"
)

// State is the render pipeline state.
type State string

const (
	StateIdle                 State = "Idle"
	StateAwaitingActivation   State = "AwaitingUserRenderConfirmation"
	StatePreRenderAudit       State = "PreRenderAudit"
	StateEnhancing            State = "Enhancing"
	StateBuildingHTML         State = "BuildingHtml"
	StateAwaitingConfirmation State = "AwaitingFidelityConfirmation"
)

// DefaultRenderPrompt is used when the activated artifact carries no prompt.
const DefaultRenderPrompt = "Create a professional webpage based on the visual structure."

const feedbackAck = "Feedback received. Logged for consensus analysis."

// Persister is the durable side of a session. *session.Store satisfies it.
type Persister interface {
	Load() session.State
	// Save logs its own failures. A failed save never rolls back in-memory state.
	Save(revs []models.Revision, msgs []models.Message) error
	MarkLoaded()
	Clear()
}

type Options struct {
	// Provider may be nil when no credentials are configured; AI actions then fail
	// with provider.ErrMissingAPIKey.
	Provider provider.Provider
	// Fidelity defaults to a simulated provider.
	Fidelity fidelity.Provider
	// Store may be nil for an in-memory session.
	Store     Persister
	Telemetry *telemetry.Metrics
	Converter *htmlgen.Converter

	LedgerCap  int
	MessageCap int
	Logger     *slog.Logger
}

// Session owns the ledger, the message stream and the pending render of one
// application instance. mu is never held across a provider call; gate flags are
// set under it before the first call so single-flight checks are atomic.
type Session struct {
	provider  provider.Provider
	fidelity  fidelity.Provider
	store     Persister
	telemetry *telemetry.Metrics
	conv      *htmlgen.Converter
	logger    *slog.Logger

	mu     sync.Mutex
	ledger *ledger.Ledger
	stream *chat.Stream
	view   models.View
	state  State
	render models.PendingRender
	busy   bool
	// epoch changes on Clear. Pipelines started in an older epoch drop their results.
	epoch uint64
}

// New restores persisted state and seeds the first-run entry.
func New(opts Options) *Session {
	s := &Session{
		provider:  opts.Provider,
		fidelity:  opts.Fidelity,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		conv:      opts.Converter,
		logger:    opts.Logger,
		ledger:    ledger.New(opts.LedgerCap),
		stream:    chat.New(opts.MessageCap),
		view:      models.ViewImage,
		state:     StateIdle,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.fidelity == nil {
		s.fidelity = fidelity.NewSimulated(uint64(time.Now().UnixNano()))
	}
	if s.conv == nil {
		s.conv = htmlgen.NewConverter()
	}
	if s.store == nil {
		return s
	}

	st := s.store.Load()
	s.ledger.Restore(st.Revisions)
	s.stream.Restore(st.Messages)
	s.logger.Info("Session restored",
		"revisions", s.ledger.Len(),
		"messages", s.stream.Len(),
		"next_version", s.ledger.NextVersion(),
	)
	if st.FirstRun {
		s.appendLocked(models.Revision{
			Description: "Core directives installed. Pipeline ready for input.",
			Confirmed:   true,
			Payload:     models.DirectiveInstall{},
		})
		s.persistLocked()
		s.store.MarkLoaded()
	}
	return s
}

func (s *Session) requireProvider() error {
	if s.provider == nil {
		return provider.ErrMissingAPIKey
	}
	return nil
}

func (s *Session) appendLocked(rev models.Revision) models.Revision {
	rev = s.ledger.Append(rev)
	s.telemetry.RevisionAppended(string(rev.Kind()))
	s.logger.Info(fmt.Sprintf("Revision v%d logged: %s", rev.Version, rev.Kind()))
	return rev
}

func (s *Session) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.ledger.All(), s.stream.All()); err != nil {
		s.logger.Debug("Continuing with unsaved session state", "error", err)
	}
}

// commit runs fn under the lock and persists, unless the session was cleared
// since epoch was captured.
func (s *Session) commit(epoch uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.Warn("Session cleared during request, dropping result")
		return false
	}
	fn()
	s.persistLocked()
	return true
}

func (s *Session) setState(epoch uint64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.state = st
	}
}

// GenerateVisual runs the text-to-visual path. The new entry is unconfirmed; the
// user must confirm it before it can be rendered.
func (s *Session) GenerateVisual(ctx context.Context, prompt string) (models.Revision, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return models.Revision{}, ErrEmptyPrompt
	}
	if err := s.requireProvider(); err != nil {
		return models.Revision{}, err
	}
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	done := s.telemetry.Stage(telemetry.StageGenerate)
	urls, err := s.provider.GenerateImages(ctx, prompt, 1)
	done(err)
	if err != nil {
		s.logger.Error("Visual generation failed", "error", err)
		return models.Revision{}, fmt.Errorf("generating visual: %w", err)
	}
	if len(urls) == 0 {
		err := fmt.Errorf("generating visual: %w", provider.ErrEmptyResult)
		s.logger.Error("Visual generation returned no image", "error", err)
		return models.Revision{}, err
	}

	var rev models.Revision
	s.commit(epoch, func() {
		rev = s.appendLocked(models.Revision{
			Description: fmt.Sprintf("Text-to-visual render complete.\n- **Prompt:** %q\n- **Aspect ratio:** locked\n- **Artifacts:** suppressed", prompt),
			Confirmed:   false,
			Payload: models.VisualGeneration{
				UserPrompt:             prompt,
				OutputPreviewURL:       urls[0],
				Enhancements:           enhancementStack,
				SandboxInjectionStatus: models.InjectionPending,
				IntentUnderstanding:    textToVisualIntent(prompt),
			},
		})
	})
	return rev, nil
}

func validateImage(img *models.Image) error {
	if img != nil && !strings.HasPrefix(img.MIMEType, "image/") {
		return ErrNotImage
	}
	return nil
}

// beginRequest appends the user message and a loading placeholder. The caller
// holds no lock.
func (s *Session) beginRequest(user models.Message) (epoch uint64, loadingID string, history []provider.Turn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return 0, "", nil, ErrBusy
	}
	history = chatHistory(s.stream.All())
	s.stream.Append(user)
	loadingID = s.stream.BeginLoading()
	s.busy = true
	s.persistLocked()
	return s.epoch, loadingID, history, nil
}

// endRequest settles the placeholder with terminal and clears the busy flag.
func (s *Session) endRequest(epoch uint64, loadingID string, terminal models.Message) models.Message {
	var settled models.Message
	s.commit(epoch, func() {
		settled = s.stream.Settle(loadingID, terminal)
		s.busy = false
	})
	return settled
}

func chatHistory(msgs []models.Message) []provider.Turn {
	var turns []provider.Turn
	for _, m := range msgs {
		if m.Type == models.TypeLoading || strings.TrimSpace(m.Text) == "" {
			continue
		}
		turns = append(turns, provider.Turn{Role: m.Role, Content: m.Text})
	}
	return turns
}

// SendChat handles a chat turn. With an image it runs the image-to-image path;
// otherwise it is a plain chat completion. Provider failures are returned and also
// replace the placeholder with an error message.
func (s *Session) SendChat(ctx context.Context, text string, img *models.Image) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyPrompt
	}
	if err := validateImage(img); err != nil {
		return models.Message{}, err
	}
	if err := s.requireProvider(); err != nil {
		return models.Message{}, err
	}

	user := models.Message{Role: models.RoleUser, Text: text, Type: models.TypeResponse}
	if img != nil {
		user.ImageURL = img.URL
	}
	epoch, loadingID, history, err := s.beginRequest(user)
	if err != nil {
		return models.Message{}, err
	}

	var terminal models.Message
	if img == nil {
		done := s.telemetry.Stage(telemetry.StageChat)
		var reply string
		reply, err = s.provider.Chat(ctx, history, text)
		done(err)
		terminal = models.Message{Role: models.RoleModel, Type: models.TypeResponse, Text: reply}
	} else {
		done := s.telemetry.Stage(telemetry.StageImageToImage)
		terminal, err = s.imageToImage(ctx, epoch, text, *img)
		done(err)
	}
	if err != nil {
		s.logger.Error("Chat request failed", "error", err)
		s.endRequest(epoch, loadingID, models.Message{
			Role: models.RoleModel,
			Type: models.TypeResponse,
			Text: fmt.Sprintf("I encountered an error trying to process your request: %s", err),
		})
		return models.Message{}, fmt.Errorf("processing chat message: %w", err)
	}
	return s.endRequest(epoch, loadingID, terminal), nil
}

func (s *Session) imageToImage(ctx context.Context, epoch uint64, prompt string, img models.Image) (models.Message, error) {
	s.commit(epoch, func() {
		s.appendLocked(models.Revision{
			Description: "Fidelity audit on uploaded visual.\n- **Action:** scanned for UI artifacts and sandbox bleed.\n- **Result:** PASS, suitable as Snapshot A.",
			Confirmed:   true,
			Payload:     models.FidelityAudit{PreviewURL: img.URL},
		})
		s.appendLocked(models.Revision{
			Description: "User upload locked as Snapshot A.\n- **Status:** awaiting parsing and enhancement.",
			Confirmed:   true,
			Payload:     models.VisualAnchorLocked{PreviewURL: img.URL},
		})
	})

	intentURL, err := s.provider.GenerateIntentScreenshot(ctx, img, prompt)
	if err != nil {
		return models.Message{}, err
	}
	s.logger.Info("Intent screenshot generated")

	enhanced, err := s.provider.EnhanceImage(ctx, img, prompt)
	if err != nil {
		return models.Message{}, err
	}
	s.logger.Info("Enhanced visual (Snapshot B) generated")

	narrative, err := s.provider.ConfirmRefinement(ctx, img, enhanced, prompt)
	if err != nil {
		return models.Message{}, err
	}

	metrics, err := s.fidelity.Measure(ctx, img.URL, enhanced)
	if err != nil {
		return models.Message{}, fmt.Errorf("measuring fidelity: %w", err)
	}

	s.commit(epoch, func() {
		s.appendLocked(models.Revision{
			Description: narrative,
			Confirmed:   false,
			Payload: models.ImageToImage{
				UserPrompt:             prompt,
				PreviewURL:             img.URL,
				OutputPreviewURL:       enhanced,
				IntentScreenshotURL:    intentURL,
				ComparisonSummary:      "1:1 Fidelity Trace (Annotation-driven)",
				Metrics:                &metrics,
				IntentUnderstanding:    imageToImageIntent(prompt, narrative),
				SandboxInjectionStatus: models.InjectionPending,
			},
		})
	})

	return models.Message{
		Role:         models.RoleModel,
		Type:         models.TypeVisual,
		Text:         narrative,
		ThumbnailURL: enhanced,
		UserPrompt:   prompt,
	}, nil
}

// AnalyzeUpload runs a structured vision analysis of an uploaded image.
func (s *Session) AnalyzeUpload(ctx context.Context, img models.Image) (models.Message, error) {
	if err := validateImage(&img); err != nil {
		return models.Message{}, err
	}
	if err := s.requireProvider(); err != nil {
		return models.Message{}, err
	}
	epoch, loadingID, _, err := s.beginRequest(models.Message{
		Role:     models.RoleUser,
		Type:     models.TypeResponse,
		ImageURL: img.URL,
	})
	if err != nil {
		return models.Message{}, err
	}

	done := s.telemetry.Stage(telemetry.StageAnalyze)
	analysis, err := s.provider.AnalyzeImage(ctx, img)
	done(err)
	if err != nil {
		s.logger.Error("Image analysis failed", "error", err)
		s.endRequest(epoch, loadingID, models.Message{
			Role: models.RoleModel,
			Type: models.TypeResponse,
			Text: fmt.Sprintf("I encountered an error trying to process your request: %s", err),
		})
		return models.Message{}, fmt.Errorf("analyzing upload: %w", err)
	}

	s.commit(epoch, func() {
		s.appendLocked(models.Revision{
			Description: analysis.OpeningStatement,
			Confirmed:   true,
			Payload:     models.ImageUpload{PreviewURL: img.URL},
		})
	})
	return s.endRequest(epoch, loadingID, models.Message{
		Role: models.RoleModel,
		Type: models.TypeCognition,
		Text: analysis.OpeningStatement,
		Cognition: &models.Cognition{
			Summary:      analysis.OpeningStatement,
			BulletPoints: analysis.BulletPoints,
			Closing:      analysis.ClosingStatement,
		},
	}), nil
}
