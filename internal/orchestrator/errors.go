package orchestrator

import "errors"

// Input errors are rejected before any provider call.
var (
	ErrEmptyPrompt   = errors.New("please enter a prompt")
	ErrNotImage      = errors.New("uploaded file is not an image")
	ErrNoSourceImage = errors.New("cannot refine layout without a visual source: upload an image or confirm a base render")
	ErrInvalidView   = errors.New("unknown view")
)

// Gate errors report an action that is not allowed in the current state.
var (
	ErrBusy                 = errors.New("a request is already in progress")
	ErrRenderBusy           = errors.New("a render is already in progress or awaiting confirmation")
	ErrRevisionNotFound     = errors.New("revision not found")
	ErrNotRenderable        = errors.New("revision has no visual output to render")
	ErrArtifactNotConfirmed = errors.New("artifact must be confirmed before it can be rendered")
	ErrNoPendingActivation  = errors.New("no render activation is pending")
)

// IsInputError reports whether err was caused by invalid user input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) ||
		errors.Is(err, ErrNotImage) ||
		errors.Is(err, ErrNoSourceImage) ||
		errors.Is(err, ErrInvalidView)
}

// IsGateError reports whether err was caused by the session state rather than input.
func IsGateError(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrRenderBusy) ||
		errors.Is(err, ErrRevisionNotFound) ||
		errors.Is(err, ErrNotRenderable) ||
		errors.Is(err, ErrArtifactNotConfirmed) ||
		errors.Is(err, ErrNoPendingActivation)
}
