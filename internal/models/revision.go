package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the pipeline step a revision records.
type Kind string

const (
	KindPromptInput        Kind = "PROMPT_INPUT"
	KindImageUpload        Kind = "IMAGE_UPLOAD"
	KindStreamToggle       Kind = "STREAM_TOGGLE"
	KindVoiceChange        Kind = "VOICE_CHANGE"
	KindVisualGeneration   Kind = "VISUAL_GENERATION"
	KindFidelityAudit      Kind = "FIDELITY_AUDIT"
	KindVisualAnchorLocked Kind = "VISUAL_ANCHOR_LOCKED"
	KindImageToImage       Kind = "IMAGE_TO_IMAGE_PARSING"
	KindPreRenderAudit     Kind = "PRE_RENDER_AUDIT"
	KindConstructionPlan   Kind = "CONSTRUCTION_PLAN"
	KindAcceptLock         Kind = "ACCEPT_LOCK"
	KindRejectMismatch     Kind = "REJECT_MISMATCH"
	KindFidelityMismatch   Kind = "FIDELITY_MISMATCH"
	KindUserFeedback       Kind = "USER_FEEDBACK"
	KindDirectiveInstall   Kind = "DIRECTIVE_INSTALL"
)

// AllKinds lists every revision kind. decodePayload must handle each of them.
var AllKinds = []Kind{
	KindPromptInput, KindImageUpload, KindStreamToggle, KindVoiceChange,
	KindVisualGeneration, KindFidelityAudit, KindVisualAnchorLocked, KindImageToImage,
	KindPreRenderAudit, KindConstructionPlan, KindAcceptLock, KindRejectMismatch,
	KindFidelityMismatch, KindUserFeedback, KindDirectiveInstall,
}

type InjectionStatus string

const (
	InjectionPending  InjectionStatus = "pending"
	InjectionComplete InjectionStatus = "complete"
)

// Payload carries the fields specific to one revision kind.
type Payload interface {
	Kind() Kind
}

// Revision is one ledger entry: a common envelope around a kind-specific payload.
type Revision struct {
	ID          string
	Version     int
	Timestamp   time.Time
	Description string
	Confirmed   bool
	Payload     Payload
}

func (r Revision) Kind() Kind {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Kind()
}

// PreviewURL returns the "before" snapshot reference, if the kind has one.
func (r Revision) PreviewURL() string {
	switch p := r.Payload.(type) {
	case ImageUpload:
		return p.PreviewURL
	case FidelityAudit:
		return p.PreviewURL
	case VisualAnchorLocked:
		return p.PreviewURL
	case ImageToImage:
		return p.PreviewURL
	case PreRenderAudit:
		return p.PreviewURL
	case AcceptLock:
		return p.PreviewURL
	case RejectMismatch:
		return p.PreviewURL
	case FidelityMismatch:
		return p.PreviewURL
	}
	return ""
}

// OutputPreviewURL returns the "after" snapshot of renderable kinds.
func (r Revision) OutputPreviewURL() string {
	switch p := r.Payload.(type) {
	case VisualGeneration:
		return p.OutputPreviewURL
	case ImageToImage:
		return p.OutputPreviewURL
	}
	return ""
}

// UserPrompt returns the prompt that produced the revision, if recorded.
func (r Revision) UserPrompt() string {
	switch p := r.Payload.(type) {
	case PromptInput:
		return p.Prompt
	case VisualGeneration:
		return p.UserPrompt
	case ImageToImage:
		return p.UserPrompt
	case FidelityMismatch:
		return p.UserPrompt
	}
	return ""
}

// Renderable reports whether the revision can be promoted into the HTML pipeline.
func (r Revision) Renderable() bool {
	return r.OutputPreviewURL() != ""
}

// MarkInjected flips the sandbox injection status of renderable kinds to complete.
func (r *Revision) MarkInjected() bool {
	switch p := r.Payload.(type) {
	case VisualGeneration:
		p.SandboxInjectionStatus = InjectionComplete
		r.Payload = p
	case ImageToImage:
		p.SandboxInjectionStatus = InjectionComplete
		r.Payload = p
	default:
		return false
	}
	return true
}

type PromptInput struct {
	Prompt string `json:"prompt"`
}

type ImageUpload struct {
	PreviewURL string `json:"previewUrl"`
}

type StreamToggle struct {
	Started bool   `json:"started"`
	Voice   string `json:"voice,omitempty"`
}

type VoiceChange struct {
	Voice string `json:"voice"`
}

type VisualGeneration struct {
	UserPrompt             string               `json:"userPrompt"`
	OutputPreviewURL       string               `json:"outputPreviewUrl"`
	Enhancements           []string             `json:"enhancements,omitempty"`
	SandboxInjectionStatus InjectionStatus      `json:"sandboxInjectionStatus"`
	IntentUnderstanding    *IntentUnderstanding `json:"intentUnderstanding,omitempty"`
}

type FidelityAudit struct {
	PreviewURL string `json:"previewUrl"`
}

type VisualAnchorLocked struct {
	PreviewURL string `json:"previewUrl"`
}

type ImageToImage struct {
	UserPrompt             string               `json:"userPrompt"`
	PreviewURL             string               `json:"previewUrl"`
	OutputPreviewURL       string               `json:"outputPreviewUrl"`
	IntentScreenshotURL    string               `json:"intentScreenshotUrl,omitempty"`
	ComparisonSummary      string               `json:"comparisonSummary,omitempty"`
	Metrics                *Metrics             `json:"metrics,omitempty"`
	IntentUnderstanding    *IntentUnderstanding `json:"intentUnderstanding,omitempty"`
	SandboxInjectionStatus InjectionStatus      `json:"sandboxInjectionStatus"`
}

type PreRenderAudit struct {
	PreviewURL  string `json:"previewUrl"`
	AuditReport string `json:"auditReport"`
}

type ConstructionPlan struct {
	BuildPlan string `json:"buildPlan"`
}

type AcceptLock struct {
	PreviewURL string `json:"previewUrl"`
}

type RejectMismatch struct {
	PreviewURL string `json:"previewUrl"`
}

type FidelityMismatch struct {
	PreviewURL string `json:"previewUrl"`
	UserPrompt string `json:"userPrompt"`
}

type UserFeedback struct {
	MessageID string   `json:"messageId"`
	Signal    Feedback `json:"signal"`
}

type DirectiveInstall struct{}

func (PromptInput) Kind() Kind        { return KindPromptInput }
func (ImageUpload) Kind() Kind        { return KindImageUpload }
func (StreamToggle) Kind() Kind       { return KindStreamToggle }
func (VoiceChange) Kind() Kind        { return KindVoiceChange }
func (VisualGeneration) Kind() Kind   { return KindVisualGeneration }
func (FidelityAudit) Kind() Kind      { return KindFidelityAudit }
func (VisualAnchorLocked) Kind() Kind { return KindVisualAnchorLocked }
func (ImageToImage) Kind() Kind       { return KindImageToImage }
func (PreRenderAudit) Kind() Kind     { return KindPreRenderAudit }
func (ConstructionPlan) Kind() Kind   { return KindConstructionPlan }
func (AcceptLock) Kind() Kind         { return KindAcceptLock }
func (RejectMismatch) Kind() Kind     { return KindRejectMismatch }
func (FidelityMismatch) Kind() Kind   { return KindFidelityMismatch }
func (UserFeedback) Kind() Kind       { return KindUserFeedback }
func (DirectiveInstall) Kind() Kind   { return KindDirectiveInstall }

// Metrics are the fidelity scores attached to an image-to-image step.
type Metrics struct {
	SSIM  string `json:"ssim"`
	IoU   string `json:"iou"`
	MSE   string `json:"mse"`
	LPIPS string `json:"lpips"`
}

type IntentUnderstanding struct {
	Intent              []string            `json:"intent"`
	VisualParsing       []string            `json:"visualParsing"`
	FidelityRules       []string            `json:"fidelityRules"`
	ExecutionSteps      []string            `json:"executionSteps"`
	UIDiscipline        []string            `json:"uiDiscipline"`
	PreservationSummary PreservationSummary `json:"preservationSummary"`
	CapabilitiesUsed    []string            `json:"capabilitiesUsed,omitempty"`
	UserUnderstanding   *UserUnderstanding  `json:"userUnderstanding,omitempty"`
}

type PreservationSummary struct {
	Preserved []string `json:"preserved"`
	Excluded  []string `json:"excluded"`
}

type UserUnderstanding struct {
	Requested   string `json:"requested"`
	Interpreted string `json:"interpreted"`
	Delivered   string `json:"delivered"`
	Pending     string `json:"pending"`
}

type envelope struct {
	ID          string    `json:"id"`
	Version     int       `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	Type        Kind      `json:"type"`
	Description string    `json:"description"`
	Confirmed   bool      `json:"confirmed"`
}

// MarshalJSON flattens the payload fields next to the envelope, keyed by "type".
func (r Revision) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return nil, fmt.Errorf("revision %s has no payload", r.ID)
	}
	fields := map[string]json.RawMessage{}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", r.Kind(), err)
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("flattening %s payload: %w", r.Kind(), err)
	}
	env, err := json.Marshal(envelope{
		ID:          r.ID,
		Version:     r.Version,
		Timestamp:   r.Timestamp,
		Type:        r.Kind(),
		Description: r.Description,
		Confirmed:   r.Confirmed,
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (r *Revision) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := decodePayload(env.Type, data)
	if err != nil {
		return err
	}
	*r = Revision{
		ID:          env.ID,
		Version:     env.Version,
		Timestamp:   env.Timestamp,
		Description: env.Description,
		Confirmed:   env.Confirmed,
		Payload:     payload,
	}
	return nil
}

func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindPromptInput:
		return decodeAs[PromptInput](data)
	case KindImageUpload:
		return decodeAs[ImageUpload](data)
	case KindStreamToggle:
		return decodeAs[StreamToggle](data)
	case KindVoiceChange:
		return decodeAs[VoiceChange](data)
	case KindVisualGeneration:
		return decodeAs[VisualGeneration](data)
	case KindFidelityAudit:
		return decodeAs[FidelityAudit](data)
	case KindVisualAnchorLocked:
		return decodeAs[VisualAnchorLocked](data)
	case KindImageToImage:
		return decodeAs[ImageToImage](data)
	case KindPreRenderAudit:
		return decodeAs[PreRenderAudit](data)
	case KindConstructionPlan:
		return decodeAs[ConstructionPlan](data)
	case KindAcceptLock:
		return decodeAs[AcceptLock](data)
	case KindRejectMismatch:
		return decodeAs[RejectMismatch](data)
	case KindFidelityMismatch:
		return decodeAs[FidelityMismatch](data)
	case KindUserFeedback:
		return decodeAs[UserFeedback](data)
	case KindDirectiveInstall:
		return decodeAs[DirectiveInstall](data)
	}
	return nil, fmt.Errorf("unknown revision type %q", kind)
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding revision payload: %w", err)
	}
	return p, nil
}
