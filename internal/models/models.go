package models

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type MessageType string

const (
	TypeLoading   MessageType = "loading"
	TypeResponse  MessageType = "response"
	TypeVisual    MessageType = "visual"
	TypeCognition MessageType = "cognition"
	TypeUpsell    MessageType = "upsell"
)

// UnmarshalText rejects message types this build does not know how to render.
func (t *MessageType) UnmarshalText(b []byte) error {
	switch v := MessageType(b); v {
	case TypeLoading, TypeResponse, TypeVisual, TypeCognition, TypeUpsell:
		*t = v
		return nil
	case "":
		*t = TypeResponse
		return nil
	default:
		return fmt.Errorf("unknown message type %q", string(b))
	}
}

type Feedback string

const (
	FeedbackUp   Feedback = "up"
	FeedbackDown Feedback = "down"
	FeedbackIdea Feedback = "idea"
)

func (f Feedback) Valid() bool {
	switch f {
	case FeedbackUp, FeedbackDown, FeedbackIdea:
		return true
	}
	return false
}

// SourceSandbox marks messages synchronized in from the sandbox conversation.
const SourceSandbox = "sandbox"

type Message struct {
	ID               string            `json:"id"`
	Role             Role              `json:"role"`
	Text             string            `json:"text"`
	Type             MessageType       `json:"type,omitempty"`
	ImageURL         string            `json:"imageUrl,omitempty"`
	ThumbnailURL     string            `json:"thumbnailUrl,omitempty"`
	UserPrompt       string            `json:"userPrompt,omitempty"`
	Source           string            `json:"source,omitempty"`
	Feedback         Feedback          `json:"feedback,omitempty"`
	FeedbackResponse *FeedbackResponse `json:"feedbackResponse,omitempty"`
	Cognition        *Cognition        `json:"cognition,omitempty"`
}

type FeedbackResponse struct {
	Text string `json:"text"`
}

// Cognition is the structured vision analysis attached to cognition messages.
type Cognition struct {
	Summary      string   `json:"summary"`
	BulletPoints []string `json:"bulletPoints"`
	Closing      string   `json:"closing"`
}

type View string

const (
	ViewImage     View = "IMAGE"
	ViewStreaming View = "STREAMING"
	ViewChat      View = "CHAT"
	ViewSandbox   View = "SANDBOX"
)

func (v View) Valid() bool {
	switch v {
	case ViewImage, ViewStreaming, ViewChat, ViewSandbox:
		return true
	}
	return false
}

// Image is an inline visual payload: a data URL (or remote URL) plus its MIME type.
type Image struct {
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
}

// PendingRender is the transient render orchestration state. It is never persisted.
type PendingRender struct {
	State                    string `json:"state"`
	RenderImageURL           string `json:"renderImageUrl,omitempty"`
	PromptForRender          string `json:"promptForRender,omitempty"`
	RenderedHTML             string `json:"renderedHtml,omitempty"`
	ConfirmedRenderHTML      string `json:"confirmedRenderHtml,omitempty"`
	ConfirmedRenderSourceURL string `json:"confirmedRenderSourceUrl,omitempty"`
	IsAwaitingConfirmation   bool   `json:"isAwaitingConfirmation"`
	IsRendering              bool   `json:"isRendering"`
}

type Snapshot struct {
	View      View          `json:"view"`
	Revisions []Revision    `json:"revisions"`
	Messages  []Message     `json:"messages"`
	Render    PendingRender `json:"render"`
	IsLoading bool          `json:"isLoading"`
	TakenAt   time.Time     `json:"takenAt"`
}
