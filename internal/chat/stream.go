// Package chat holds the ordered, capped conversation shown to the user.
package chat

import (
	"errors"
	"slices"

	"github.com/esnunes/renderpilot/internal/models"

	"github.com/google/uuid"
)

const DefaultCap = 100

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrFeedbackSet     = errors.New("feedback already recorded for this message")
	ErrInvalidFeedback = errors.New("invalid feedback signal")
)

// Stream keeps at most one loading placeholder, always at the tail.
// It is not safe for concurrent use.
type Stream struct {
	cap      int
	messages []models.Message
}

func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Stream{cap: capacity}
}

// Append adds a terminal message. A trailing placeholder stays at the tail.
func (s *Stream) Append(msg models.Message) models.Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Type == models.TypeLoading {
		return s.putLoading(msg)
	}
	if n := len(s.messages); n > 0 && s.messages[n-1].Type == models.TypeLoading {
		s.messages = slices.Insert(s.messages, n-1, msg)
	} else {
		s.messages = append(s.messages, msg)
	}
	s.trim()
	return msg
}

// BeginLoading appends a placeholder and returns its id. Any previous placeholder
// is dropped first.
func (s *Stream) BeginLoading() string {
	return s.putLoading(models.Message{
		ID:   uuid.New().String(),
		Role: models.RoleModel,
		Text: "Thinking...",
		Type: models.TypeLoading,
	}).ID
}

func (s *Stream) putLoading(msg models.Message) models.Message {
	s.messages = slices.DeleteFunc(s.messages, func(m models.Message) bool {
		return m.Type == models.TypeLoading
	})
	s.messages = append(s.messages, msg)
	s.trim()
	return msg
}

// Settle removes the placeholder and appends the terminal message in its place.
func (s *Stream) Settle(loadingID string, terminal models.Message) models.Message {
	s.Discard(loadingID)
	return s.Append(terminal)
}

// Discard removes the placeholder without a replacement.
func (s *Stream) Discard(loadingID string) {
	s.messages = slices.DeleteFunc(s.messages, func(m models.Message) bool {
		return m.ID == loadingID && m.Type == models.TypeLoading
	})
}

// Loading reports whether a placeholder is pending.
func (s *Stream) Loading() bool {
	n := len(s.messages)
	return n > 0 && s.messages[n-1].Type == models.TypeLoading
}

// SetFeedback records the user's signal once per message.
func (s *Stream) SetFeedback(id string, signal models.Feedback, response string) error {
	if !signal.Valid() {
		return ErrInvalidFeedback
	}
	i := slices.IndexFunc(s.messages, func(m models.Message) bool { return m.ID == id })
	if i < 0 {
		return ErrMessageNotFound
	}
	if s.messages[i].Feedback != "" {
		return ErrFeedbackSet
	}
	s.messages[i].Feedback = signal
	s.messages[i].FeedbackResponse = &models.FeedbackResponse{Text: response}
	return nil
}

func (s *Stream) Find(id string) (models.Message, bool) {
	i := slices.IndexFunc(s.messages, func(m models.Message) bool { return m.ID == id })
	if i < 0 {
		return models.Message{}, false
	}
	return s.messages[i], true
}

func (s *Stream) All() []models.Message {
	return slices.Clone(s.messages)
}

func (s *Stream) Len() int { return len(s.messages) }

// Restore loads persisted messages. A trailing placeholder means the process stopped
// mid-request; it is dropped and Restore reports true.
func (s *Stream) Restore(msgs []models.Message) (stale bool) {
	msgs, stale = Reconcile(msgs)
	s.messages = msgs
	s.trim()
	return stale
}

func (s *Stream) Reset() {
	s.messages = nil
}

func (s *Stream) trim() {
	if over := len(s.messages) - s.cap; over > 0 {
		s.messages = slices.Delete(s.messages, 0, over)
	}
}

// Reconcile drops a trailing loading placeholder left behind by an interrupted request.
func Reconcile(msgs []models.Message) ([]models.Message, bool) {
	out := slices.Clone(msgs)
	if n := len(out); n > 0 && out[n-1].Type == models.TypeLoading {
		return out[:n-1], true
	}
	return out, false
}
