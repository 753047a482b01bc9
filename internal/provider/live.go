package provider

import "context"

// LiveConfig configures one bidirectional voice session.
type LiveConfig struct {
	// Voice is the provider-side voice name.
	Voice             string
	SystemInstruction string
	InputSampleRate   int
	OutputSampleRate  int
}

// LiveEvent is one of the Live* event types below.
type LiveEvent interface{ liveEvent() }

type (
	LiveOpened struct{}
	// InputTranscript carries the cumulative transcript of the current user utterance.
	// Final marks a completed utterance.
	InputTranscript struct {
		Text  string
		Final bool
	}
	// OutputTranscript carries the cumulative transcript of the current model turn.
	OutputTranscript struct{ Text string }
	TurnComplete     struct{}
	// AudioChunk is 16-bit little-endian mono PCM at the output sample rate.
	AudioChunk  struct{ PCM []byte }
	Interrupted struct{}
	LiveClosed  struct{}
	LiveErrored struct{ Err error }
)

func (LiveOpened) liveEvent()       {}
func (InputTranscript) liveEvent()  {}
func (OutputTranscript) liveEvent() {}
func (TurnComplete) liveEvent()     {}
func (AudioChunk) liveEvent()       {}
func (Interrupted) liveEvent()      {}
func (LiveClosed) liveEvent()       {}
func (LiveErrored) liveEvent()      {}

// LiveConn is an open voice session. Events is closed after a LiveClosed or
// LiveErrored event has been delivered.
type LiveConn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	Events() <-chan LiveEvent
	Close() error
}

type LiveDialer interface {
	DialLive(ctx context.Context, cfg LiveConfig) (LiveConn, error)
}
