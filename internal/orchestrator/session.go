package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/esnunes/renderpilot/internal/chat"
	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/telemetry"
)

const declineResponse = "Understood. I've held that design. What would you like to change or try next?"

// DeclineVisual records that the user turned down a visual response.
func (s *Session) DeclineVisual(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.stream.Find(messageID)
	if !ok {
		return chat.ErrMessageNotFound
	}
	s.appendLocked(models.Revision{
		Description: fmt.Sprintf("User declined visual render.\n- **Action:** render held, awaiting new instructions.\n- **Source prompt:** %q", msg.UserPrompt),
		Confirmed:   true,
		Payload:     models.FidelityMismatch{PreviewURL: msg.ThumbnailURL, UserPrompt: msg.UserPrompt},
	})
	s.stream.Append(models.Message{Role: models.RoleModel, Type: models.TypeResponse, Text: declineResponse})
	s.persistLocked()
	return nil
}

// Feedback records a feedback signal. Each message accepts one signal.
func (s *Session) Feedback(messageID string, signal models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stream.SetFeedback(messageID, signal, feedbackAck); err != nil {
		return err
	}
	s.appendLocked(models.Revision{
		Description: fmt.Sprintf("User feedback logged.\n- **Signal:** %s\n- **Action:** aggregated for consensus analysis.", signal),
		Confirmed:   true,
		Payload:     models.UserFeedback{MessageID: messageID, Signal: signal},
	})
	s.persistLocked()
	return nil
}

func (s *Session) ToggleConfirmed(revisionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ledger.ToggleConfirmed(revisionID) {
		return ErrRevisionNotFound
	}
	s.persistLocked()
	return nil
}

// Navigate switches the active view. Leaving the sandbox while HTML awaits
// confirmation discards that HTML.
func (s *Session) Navigate(view models.View) error {
	if !view.Valid() {
		return ErrInvalidView
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if view != models.ViewSandbox && s.render.IsAwaitingConfirmation {
		s.render.RenderedHTML = ""
		s.render.IsAwaitingConfirmation = false
		s.render.RenderImageURL = ""
		s.render.PromptForRender = ""
		s.state = StateIdle
		s.logger.Info("Left sandbox, pending render discarded")
	}
	s.view = view
	return nil
}

// CropImage reframes an image around its primary subject and returns the new URL.
func (s *Session) CropImage(ctx context.Context, imageURL string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", ErrNoSourceImage
	}
	if err := s.requireProvider(); err != nil {
		return "", err
	}
	done := s.telemetry.Stage(telemetry.StageCrop)
	out, err := s.provider.CropImage(ctx, imageURL)
	done(err)
	if err != nil {
		s.logger.Error("Intelligent crop failed", "error", err)
		return "", fmt.Errorf("cropping image: %w", err)
	}
	return out, nil
}

// Clear resets the session to empty and removes the persisted state. Requests
// still in flight drop their results.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.ledger.Reset()
	s.stream.Reset()
	s.render = models.PendingRender{}
	s.state = StateIdle
	s.view = models.ViewImage
	s.busy = false
	if s.store != nil {
		s.store.Clear()
	}
	s.logger.Info("Session cleared")
}

func (s *Session) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	render := s.render
	render.State = string(s.state)
	return models.Snapshot{
		View:      s.view,
		Revisions: s.ledger.All(),
		Messages:  s.stream.All(),
		Render:    render,
		IsLoading: s.busy || s.stream.Loading(),
		TakenAt:   time.Now(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordRevision appends an entry on behalf of a collaborator such as the live
// session manager.
func (s *Session) RecordRevision(payload models.Payload, description string, confirmed bool) models.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.appendLocked(models.Revision{Description: description, Confirmed: confirmed, Payload: payload})
	s.persistLocked()
	return rev
}

const contextRevisions = 10

// SessionContext summarizes recent ledger activity and the confirmed sandbox
// layout for a live voice session.
func (s *Session) SessionContext() string {
	s.mu.Lock()
	revs := s.ledger.All()
	sandbox := s.render.ConfirmedRenderHTML
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("Recent session activity:\n")
	if len(revs) == 0 {
		b.WriteString("- none\n")
	}
	for _, r := range revs[max(0, len(revs)-contextRevisions):] {
		line, _, _ := strings.Cut(r.Description, "\n")
		fmt.Fprintf(&b, "- v%d %s: %s\n", r.Version, r.Kind(), line)
	}
	if sandbox != "" {
		digest, err := s.conv.Markdown(sandbox)
		if err != nil {
			s.logger.Warn("Failed to summarize sandbox layout", "error", err)
		} else {
			b.WriteString("\nCurrent sandbox layout:\n")
			b.WriteString(digest)
			b.WriteString("\n")
		}
	}
	return b.String()
}
