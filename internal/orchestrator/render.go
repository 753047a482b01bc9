package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/esnunes/renderpilot/internal/htmlgen"
	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/provider"
	"github.com/esnunes/renderpilot/internal/telemetry"
)

func (s *Session) renderBusyLocked() bool {
	return s.render.IsRendering || s.render.IsAwaitingConfirmation ||
		(s.state != StateIdle && s.state != StateAwaitingActivation)
}

// ActivateRender opens the confirmation gate for a confirmed artifact. No provider
// call is made until ConfirmRender.
func (s *Session) ActivateRender(revisionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderBusyLocked() {
		return ErrRenderBusy
	}
	rev, ok := s.ledger.Get(revisionID)
	if !ok {
		return ErrRevisionNotFound
	}
	if !rev.Renderable() {
		return ErrNotRenderable
	}
	if !rev.Confirmed {
		return ErrArtifactNotConfirmed
	}
	s.render.RenderImageURL = rev.OutputPreviewURL()
	s.render.PromptForRender = rev.UserPrompt()
	s.state = StateAwaitingActivation
	s.logger.Info("Render activation initiated", "revision", rev.Version)
	return nil
}

// CancelRenderActivation closes the gate opened by ActivateRender.
func (s *Session) CancelRenderActivation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingActivation {
		return
	}
	s.state = StateIdle
	s.render.RenderImageURL = ""
	s.render.PromptForRender = ""
}

// ConfirmRender runs the pre-render audit and HTML generation for the activated
// artifact. On success the HTML awaits fidelity confirmation in the sandbox.
func (s *Session) ConfirmRender(ctx context.Context) error {
	if err := s.requireProvider(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != StateAwaitingActivation {
		s.mu.Unlock()
		return ErrNoPendingActivation
	}
	s.render.RenderedHTML = ""
	s.render.ConfirmedRenderHTML = ""
	s.render.IsRendering = true
	s.state = StatePreRenderAudit
	epoch := s.epoch
	imageURL := s.render.RenderImageURL
	prompt := s.render.PromptForRender
	if prompt == "" {
		prompt = DefaultRenderPrompt
	}
	s.mu.Unlock()
	s.logger.Info("Render confirmed")

	doc, err := s.buildHTML(ctx, epoch, imageURL, prompt)
	if err != nil {
		s.logger.Error("Render failed", "error", err)
		s.commit(epoch, func() {
			s.stream.Append(models.Message{
				Role: models.RoleModel,
				Type: models.TypeResponse,
				Text: fmt.Sprintf("I couldn't complete the render process. Error: %s", err),
			})
			s.render.IsRendering = false
			s.render.RenderImageURL = ""
			s.render.PromptForRender = ""
			s.state = StateIdle
			s.view = models.ViewChat
		})
		return fmt.Errorf("rendering html: %w", err)
	}

	s.commit(epoch, func() {
		s.render.RenderedHTML = doc.HTML
		s.render.IsRendering = false
		s.render.IsAwaitingConfirmation = true
		s.state = StateAwaitingConfirmation
		s.view = models.ViewSandbox
	})
	s.logger.Info("HTML conversion complete, awaiting fidelity confirmation")
	return nil
}

// buildHTML runs the shared downstream stages: pre-render audit, HTML generation
// bound by the audit, and post-processing.
func (s *Session) buildHTML(ctx context.Context, epoch uint64, imageURL, prompt string) (htmlgen.Document, error) {
	s.setState(epoch, StatePreRenderAudit)
	done := s.telemetry.Stage(telemetry.StagePreRenderAudit)
	audit, err := s.provider.GeneratePreRenderAudit(ctx, imageURL, prompt)
	done(err)
	if err != nil {
		return htmlgen.Document{}, err
	}
	s.commit(epoch, func() {
		s.appendLocked(models.Revision{
			Description: "Pre-render self-audit complete against the user directive.",
			Confirmed:   true,
			Payload:     models.PreRenderAudit{PreviewURL: imageURL, AuditReport: audit},
		})
		s.state = StateBuildingHTML
	})

	done = s.telemetry.Stage(telemetry.StageBuildHTML)
	raw, err := s.provider.GenerateHTML(ctx, imageURL, prompt, audit)
	if err == nil && strings.TrimSpace(htmlgen.StripFences(raw)) == "" {
		err = fmt.Errorf("generating html: %w", provider.ErrEmptyResult)
	}
	done(err)
	if err != nil {
		return htmlgen.Document{}, err
	}

	doc := htmlgen.Postprocess(raw, imageURL)
	desc := "Build plan generated and executed after the audit."
	if !doc.HasPlan {
		s.logger.Warn("Generated HTML carries no build plan")
		desc = "Build plan generated and executed after the audit (no build plan supplied)."
	}
	s.commit(epoch, func() {
		s.appendLocked(models.Revision{
			Description: desc,
			Confirmed:   true,
			Payload:     models.ConstructionPlan{BuildPlan: doc.BuildPlan},
		})
	})
	return doc, nil
}

// RefineSandbox regenerates the sandbox layout from a follow-up directive. The
// source is the uploaded image or, failing that, the confirmed render source.
func (s *Session) RefineSandbox(ctx context.Context, text string, img *models.Image) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyPrompt
	}
	if err := validateImage(img); err != nil {
		return err
	}
	if err := s.requireProvider(); err != nil {
		return err
	}

	s.mu.Lock()
	var source models.Image
	switch {
	case img != nil:
		source = *img
	case s.render.ConfirmedRenderSourceURL != "":
		source = models.Image{URL: s.render.ConfirmedRenderSourceURL, MIMEType: provider.GuessMIME(s.render.ConfirmedRenderSourceURL)}
	default:
		s.mu.Unlock()
		return ErrNoSourceImage
	}
	if s.renderBusyLocked() {
		s.mu.Unlock()
		return ErrRenderBusy
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	user := models.Message{Role: models.RoleUser, Type: models.TypeResponse, Text: text, Source: models.SourceSandbox}
	if img != nil {
		user.ImageURL = img.URL
	}
	s.stream.Append(user)
	loadingID := s.stream.BeginLoading()
	s.busy = true
	s.render.IsRendering = true
	s.state = StateEnhancing
	epoch := s.epoch
	s.persistLocked()
	s.mu.Unlock()
	s.logger.Info("Sandbox refinement initiated", "directive", text)

	done := s.telemetry.Stage(telemetry.StageRefineSandbox)
	enhanced, doc, err := s.refine(ctx, epoch, text, source)
	done(err)
	if err != nil {
		s.logger.Error("Sandbox refinement failed", "error", err)
		s.commit(epoch, func() {
			s.stream.Settle(loadingID, models.Message{
				Role:   models.RoleModel,
				Type:   models.TypeResponse,
				Text:   fmt.Sprintf("Sorry, I couldn't refine the layout. Error: %s", err),
				Source: models.SourceSandbox,
			})
			s.busy = false
			s.render.IsRendering = false
			s.state = StateIdle
		})
		return fmt.Errorf("refining sandbox: %w", err)
	}

	s.commit(epoch, func() {
		s.stream.Discard(loadingID)
		s.busy = false
		s.render.RenderImageURL = enhanced
		s.render.PromptForRender = text
		s.render.RenderedHTML = doc.HTML
		s.render.IsRendering = false
		s.render.IsAwaitingConfirmation = true
		s.state = StateAwaitingConfirmation
		s.view = models.ViewSandbox
	})
	s.logger.Info("HTML layout refined, awaiting fidelity confirmation")
	return nil
}

func (s *Session) refine(ctx context.Context, epoch uint64, text string, source models.Image) (string, htmlgen.Document, error) {
	enhanced, err := s.provider.EnhanceImage(ctx, source, text)
	if err != nil {
		return "", htmlgen.Document{}, err
	}
	narrative, err := s.provider.ConfirmRefinement(ctx, source, enhanced, text)
	if err != nil {
		return "", htmlgen.Document{}, err
	}
	s.commit(epoch, func() {
		s.appendLocked(models.Revision{
			Description: narrative,
			Confirmed:   false,
			Payload: models.ImageToImage{
				UserPrompt:             text,
				PreviewURL:             source.URL,
				OutputPreviewURL:       enhanced,
				ComparisonSummary:      "1:1 Fidelity Trace (Refinement)",
				IntentUnderstanding:    imageToImageIntent(text, narrative),
				SandboxInjectionStatus: models.InjectionPending,
			},
		})
	})
	doc, err := s.buildHTML(ctx, epoch, enhanced, text)
	if err != nil {
		return "", htmlgen.Document{}, err
	}
	return enhanced, doc, nil
}

const acceptNote = "\n\nSystem Update: Snapshot B (Post-Render) & Lock\n- **Action:** User confirmed render fidelity.\n- **Status:** HTML is now live in the sandbox."

// AcceptRender locks the pending HTML into the sandbox. It reports false, changing
// nothing, unless HTML is awaiting confirmation.
func (s *Session) AcceptRender() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.render.IsAwaitingConfirmation {
		return false
	}
	url := s.render.RenderImageURL
	s.render.ConfirmedRenderHTML = s.render.RenderedHTML
	s.render.ConfirmedRenderSourceURL = url
	s.render.RenderedHTML = ""

	src, ok := s.ledger.LatestMatching(func(r models.Revision) bool {
		return r.Renderable() && r.OutputPreviewURL() == url
	})
	if ok {
		s.ledger.Update(src.ID, func(r *models.Revision) {
			r.Confirmed = true
			r.MarkInjected()
			r.Description += acceptNote
		})
	} else {
		s.logger.Warn("Render source revision no longer in ledger, injection status not updated")
	}

	s.appendLocked(models.Revision{
		Description: "User confirmed render fidelity and locked the HTML into the sandbox.",
		Confirmed:   true,
		Payload:     models.AcceptLock{PreviewURL: url},
	})
	s.render.IsAwaitingConfirmation = false
	s.render.RenderImageURL = ""
	s.render.PromptForRender = ""
	s.state = StateIdle
	s.persistLocked()
	s.logger.Info("Fidelity confirmed, render locked into sandbox")
	return true
}

// RejectRender discards the pending HTML and returns to chat. It reports false,
// changing nothing, unless HTML is awaiting confirmation.
func (s *Session) RejectRender() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.render.IsAwaitingConfirmation {
		return false
	}
	url := s.render.RenderImageURL
	s.render.RenderedHTML = ""
	s.render.IsAwaitingConfirmation = false
	s.render.RenderImageURL = ""
	s.render.PromptForRender = ""
	s.state = StateIdle
	s.view = models.ViewChat
	s.appendLocked(models.Revision{
		Description: "User rejected the render due to a perceived fidelity mismatch.",
		Confirmed:   true,
		Payload:     models.RejectMismatch{PreviewURL: url},
	})
	s.persistLocked()
	s.logger.Info("Render rejected, returned to pre-render state")
	return true
}
