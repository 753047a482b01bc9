package audio

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied = errors.New("microphone access was denied")
	ErrNoDevice         = errors.New("no audio device found")
	ErrClosed           = errors.New("audio device closed")
)

// Capture delivers microphone frames until closed.
type Capture interface {
	Chunks() <-chan []float32
	Close() error
}

// Output schedules PCM chunks against its own clock.
type Output interface {
	// Now is the output clock in seconds.
	Now() float64
	// Play schedules 16-bit mono PCM to start at the given clock time.
	Play(pcm []byte, at float64) (Source, error)
	Close() error
}

// Source is one scheduled output buffer.
type Source interface {
	Stop()
	// Done is closed when the buffer finished playing or was stopped.
	Done() <-chan struct{}
	// End is the clock time at which the buffer stops playing.
	End() float64
}

type Devices interface {
	OpenCapture(ctx context.Context) (Capture, error)
	OpenOutput(rate int) (Output, error)
}
