package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/esnunes/renderpilot/internal/audio"
	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/provider"
	"github.com/esnunes/renderpilot/internal/provider/providertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct {
	ch     chan []float32
	once   sync.Once
	closes atomic.Int32
}

func (c *fakeCapture) Chunks() <-chan []float32 { return c.ch }

func (c *fakeCapture) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.ch) })
	return nil
}

// clock is a manually advanced output clock in seconds.
type clock struct{ bits atomic.Uint64 }

func (c *clock) Now() float64   { return math.Float64frombits(c.bits.Load()) }
func (c *clock) Set(t float64) { c.bits.Store(math.Float64bits(t)) }

type fakeDevices struct {
	captureErr error
	clock      clock

	mu       sync.Mutex
	captures []*fakeCapture
	outputs  []*audio.VirtualOutput
	starts   []float64
}

func (d *fakeDevices) OpenCapture(context.Context) (audio.Capture, error) {
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeCapture{ch: make(chan []float32, 8)}
	d.captures = append(d.captures, c)
	return c, nil
}

func (d *fakeDevices) OpenOutput(rate int) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := audio.NewVirtualOutput(rate, d.clock.Now)
	out.Sink = func(_ uint64, _ []byte, at float64) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.starts = append(d.starts, at)
	}
	d.outputs = append(d.outputs, out)
	return out, nil
}

func (d *fakeDevices) Starts() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.starts...)
}

func (d *fakeDevices) capture(i int) *fakeCapture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures[i]
}

type recorder struct {
	mu   sync.Mutex
	revs []models.Revision
}

func (r *recorder) RecordRevision(p models.Payload, desc string, confirmed bool) models.Revision {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev := models.Revision{Description: desc, Confirmed: confirmed, Payload: p}
	r.revs = append(r.revs, rev)
	return rev
}

func (r *recorder) Descriptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.revs))
	for i, rev := range r.revs {
		out[i] = rev.Description
	}
	return out
}

type fixture struct {
	m       *Manager
	dialer  *providertest.Dialer
	devices *fakeDevices
	rec     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dialer:  &providertest.Dialer{},
		devices: &fakeDevices{},
		rec:     &recorder{},
	}
	f.m = New(Options{
		Dialer:     f.dialer,
		Devices:    f.devices,
		Recorder:   f.rec,
		Context:    func() string { return "Recent session activity:\n- v1 DIRECTIVE_INSTALL" },
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		OutputRate: 24000,
	})
	t.Cleanup(f.m.Stop)
	return f
}

func (f *fixture) eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func (f *fixture) state(t *testing.T, want State) {
	t.Helper()
	f.eventually(t, func() bool { return f.m.Status().State == want })
}

// chunk is 0.1s of silence at 24kHz, long is 1s.
var (
	chunk = make([]byte, 4800)
	long  = make([]byte, 48000)
)

func TestStartOpensSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))

	st := f.m.Status()
	assert.Equal(t, StateListening, st.State)
	assert.True(t, st.Open)
	assert.Equal(t, "GT-Pilot", st.Voice.Name)

	cfgs := f.dialer.Configs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, "ash", cfgs[0].Voice)
	assert.Equal(t, 24000, cfgs[0].OutputSampleRate)
	assert.Contains(t, cfgs[0].SystemInstruction, "DIRECTIVE_INSTALL")
	assert.Contains(t, cfgs[0].SystemInstruction, "'GT-Pilot Mode'")
	assert.Equal(t, []string{"Voice streaming session started with GT-Pilot."}, f.rec.Descriptions())

	// Starting again is a no-op.
	require.NoError(t, f.m.Start(context.Background()))
	assert.Len(t, f.dialer.Configs(), 1)
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"permission denied", audio.ErrPermissionDenied, "Microphone access was denied"},
		{"no device", audio.ErrNoDevice, "No microphone was found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.devices.captureErr = tt.err

			err := f.m.Start(context.Background())
			require.ErrorIs(t, err, tt.err)

			st := f.m.Status()
			assert.Equal(t, StateIdle, st.State)
			assert.False(t, st.Open)
			assert.Contains(t, st.Error, tt.want)
			assert.Empty(t, f.dialer.Configs())
			assert.Empty(t, f.rec.Descriptions())
		})
	}
}

func TestStartDialFailureReleasesDevices(t *testing.T) {
	f := newFixture(t)
	f.dialer.Err = errors.New("handshake failed")

	require.Error(t, f.m.Start(context.Background()))
	assert.Equal(t, StateIdle, f.m.Status().State)
	assert.EqualValues(t, 1, f.devices.capture(0).closes.Load())
	_, err := f.devices.outputs[0].Play(chunk, 0)
	assert.ErrorIs(t, err, audio.ErrClosed)
}

func TestStartWithoutDialer(t *testing.T) {
	m := New(Options{Devices: &fakeDevices{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	err := m.Start(context.Background())
	assert.ErrorIs(t, err, provider.ErrMissingAPIKey)
	assert.Equal(t, StateIdle, m.Status().State)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()
	conn.Push(provider.AudioChunk{PCM: chunk})
	f.state(t, StateTalking)

	f.m.Stop()
	f.m.Stop()

	assert.Equal(t, StateIdle, f.m.Status().State)
	assert.False(t, f.m.Status().Open)
	assert.EqualValues(t, 1, f.devices.capture(0).closes.Load())
	assert.Zero(t, f.devices.outputs[0].Active())
	assert.Equal(t, []string{
		"Voice streaming session started with GT-Pilot.",
		"Voice streaming session ended.",
	}, f.rec.Descriptions())
}

func TestProviderCloseTearsDown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()

	conn.Push(provider.LiveErrored{Err: errors.New("socket reset")})
	conn.Close()

	f.state(t, StateIdle)
	f.eventually(t, func() bool { return len(f.rec.Descriptions()) == 2 })
	assert.Contains(t, f.m.Status().Error, "session error")

	f.m.Stop()
	assert.Len(t, f.rec.Descriptions(), 2)
}

func TestTranscriptAggregation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()

	conn.Push(provider.InputTranscript{Text: "make"})
	conn.Push(provider.InputTranscript{Text: "make it blue"})
	f.eventually(t, func() bool { return f.m.Status().Caption == "make it blue" })

	conn.Push(provider.TurnComplete{})
	f.state(t, StateThinking)
	assert.Empty(t, f.m.Status().Caption)
	f.eventually(t, func() bool { return len(f.rec.Descriptions()) == 2 })
	assert.Equal(t, `Voice command: "make it blue"`, f.rec.Descriptions()[1])

	conn.Push(provider.OutputTranscript{Text: "Sure"})
	conn.Push(provider.OutputTranscript{Text: "Sure, switching"})
	f.state(t, StateTalking)
	f.eventually(t, func() bool { return f.m.Status().Caption == "Sure, switching" })

	conn.Push(provider.TurnComplete{})
	f.state(t, StateListening)
	assert.Len(t, f.rec.Descriptions(), 2)
}

func TestFinalInputTranscriptFlushesOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()

	conn.Push(provider.InputTranscript{Text: "render it", Final: true})
	f.state(t, StateThinking)
	conn.Push(provider.TurnComplete{})
	conn.Push(provider.InputTranscript{Text: "   ", Final: true})
	conn.Push(provider.OutputTranscript{Text: "ok"})
	f.state(t, StateTalking)

	var prompts int
	for _, d := range f.rec.Descriptions() {
		if d == `Voice command: "render it"` {
			prompts++
		}
	}
	assert.Equal(t, 1, prompts)
	assert.Len(t, f.rec.Descriptions(), 2)
}

func TestFinalTranscriptWhileTalkingKeepsTalking(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()

	conn.Push(provider.OutputTranscript{Text: "Sure"})
	f.state(t, StateTalking)
	conn.Push(provider.InputTranscript{Text: "make it blue", Final: true})
	f.eventually(t, func() bool { return len(f.rec.Descriptions()) == 2 })
	assert.Equal(t, StateTalking, f.m.Status().State)
	assert.Equal(t, "Sure", f.m.Status().Caption)

	conn.Push(provider.TurnComplete{})
	f.state(t, StateListening)
	assert.Equal(t, `Voice command: "make it blue"`, f.rec.Descriptions()[1])
}

func TestFinalTranscriptAfterReplyStaysListening(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()

	conn.Push(provider.OutputTranscript{Text: "Done"})
	conn.Push(provider.TurnComplete{})
	f.state(t, StateListening)

	conn.Push(provider.InputTranscript{Text: "make it blue", Final: true})
	f.eventually(t, func() bool { return len(f.rec.Descriptions()) == 2 })
	assert.Equal(t, StateListening, f.m.Status().State)

	// The next utterance waits for its reply again.
	conn.Push(provider.InputTranscript{Text: "now red", Final: true})
	f.state(t, StateThinking)
	f.eventually(t, func() bool { return len(f.rec.Descriptions()) == 3 })
}

func TestPlaybackIsGapFree(t *testing.T) {
	f := newFixture(t)
	f.devices.clock.Set(1)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()

	for range 3 {
		conn.Push(provider.AudioChunk{PCM: chunk})
	}
	f.eventually(t, func() bool { return len(f.devices.Starts()) == 3 })

	starts := f.devices.Starts()
	assert.InDelta(t, 1.0, starts[0], 1e-9)
	assert.InDelta(t, 1.1, starts[1], 1e-9)
	assert.InDelta(t, 1.2, starts[2], 1e-9)
}

func TestInterruptionResetsCursor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	conn := f.dialer.Last()

	conn.Push(provider.AudioChunk{PCM: long})
	conn.Push(provider.AudioChunk{PCM: long})
	f.eventually(t, func() bool { return len(f.devices.Starts()) == 2 })
	assert.Equal(t, 2, f.devices.outputs[0].Active())

	f.devices.clock.Set(0.05)
	conn.Push(provider.Interrupted{})
	f.eventually(t, func() bool { return f.devices.outputs[0].Active() == 0 })

	conn.Push(provider.AudioChunk{PCM: long})
	f.eventually(t, func() bool { return len(f.devices.Starts()) == 3 })
	assert.InDelta(t, 0.05, f.devices.Starts()[2], 1e-9)
}

func TestCaptureIsForwarded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))

	f.devices.capture(0).ch <- []float32{0, 0.5, -1}
	conn := f.dialer.Last()
	f.eventually(t, func() bool { return len(conn.Sent()) == 1 })
	assert.Equal(t, audio.EncodePCM16([]float32{0, 0.5, -1}), conn.Sent()[0])
}

func TestSetVoice(t *testing.T) {
	f := newFixture(t)

	err := f.m.SetVoice(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUnknownVoice)

	require.NoError(t, f.m.SetVoice(context.Background(), "oracle"))
	assert.Equal(t, "Oracle", f.m.Status().Voice.Name)
	assert.Empty(t, f.dialer.Configs())

	require.NoError(t, f.m.Start(context.Background()))
	first := f.dialer.Last()
	require.NoError(t, f.m.SetVoice(context.Background(), "titan"))

	cfgs := f.dialer.Configs()
	require.Len(t, cfgs, 2)
	assert.Equal(t, "sage", cfgs[0].Voice)
	assert.Equal(t, "verse", cfgs[1].Voice)
	assert.NotSame(t, first, f.dialer.Last())
	assert.Positive(t, first.Closes())
	assert.True(t, f.m.Status().Open)

	assert.Equal(t, []string{
		"Switched voice to Oracle.",
		"Voice streaming session started with Oracle.",
		"Switched voice to Titan.",
		"Voice streaming session ended.",
		"Voice streaming session started with Titan.",
	}, f.rec.Descriptions())
}

func TestLookupVoice(t *testing.T) {
	v, ok := LookupVoice(DefaultVoiceID)
	require.True(t, ok)
	assert.Equal(t, "GT-Pilot", v.Name)
	_, ok = LookupVoice("")
	assert.False(t, ok)
	assert.Len(t, Voices(), 15)
}
