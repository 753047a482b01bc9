// Package live runs the bidirectional voice session: microphone frames go to the
// realtime provider, model audio is scheduled gap-free on the output device, and
// completed turns are recorded in the revision ledger.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/esnunes/renderpilot/internal/audio"
	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/provider"
	"github.com/esnunes/renderpilot/internal/telemetry"
)

var ErrUnknownVoice = errors.New("unknown voice")

// State is the live session state.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateTalking   State = "talking"
)

// Recorder appends ledger entries. *orchestrator.Session satisfies it.
type Recorder interface {
	RecordRevision(payload models.Payload, description string, confirmed bool) models.Revision
}

type Options struct {
	// Dialer may be nil when no credentials are configured; Start then fails with
	// provider.ErrMissingAPIKey.
	Dialer   provider.LiveDialer
	Devices  audio.Devices
	Recorder Recorder
	// Context returns the session summary handed to the model on open.
	Context   func() string
	Telemetry *telemetry.Metrics
	Logger    *slog.Logger

	DefaultVoice string
	InputRate    int
	OutputRate   int
}

// Status is a point-in-time view of the manager.
type Status struct {
	State   State  `json:"state"`
	Open    bool   `json:"open"`
	Caption string `json:"caption"`
	Voice   Voice  `json:"voice"`
	Error   string `json:"error,omitempty"`
}

type Manager struct {
	dialer    provider.LiveDialer
	devices   audio.Devices
	recorder  Recorder
	summary   func() string
	telemetry *telemetry.Metrics
	logger    *slog.Logger
	inRate    int
	outRate   int

	// op serializes Start, Stop and SetVoice.
	op sync.Mutex

	mu        sync.Mutex
	state     State
	voice     Voice
	run       *run
	userTurn  string
	modelTurn string
	// heard is set once the current user utterance has been flushed. answered is
	// set when the model replied before the utterance's final transcript arrived.
	heard    bool
	answered bool
	caption  string
	lastErr   string
}

// run holds the resources of one open session.
type run struct {
	conn    provider.LiveConn
	capture audio.Capture
	out     audio.Output
	cancel  context.CancelFunc

	// sources and cursor are guarded by Manager.mu.
	sources []audio.Source
	cursor  float64
	synced  bool

	once sync.Once
	wg   sync.WaitGroup
}

func New(opts Options) *Manager {
	m := &Manager{
		dialer:    opts.Dialer,
		devices:   opts.Devices,
		recorder:  opts.Recorder,
		summary:   opts.Context,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
		inRate:    opts.InputRate,
		outRate:   opts.OutputRate,
		state:     StateIdle,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.inRate <= 0 {
		m.inRate = 16000
	}
	if m.outRate <= 0 {
		m.outRate = 24000
	}
	v, ok := LookupVoice(opts.DefaultVoice)
	if !ok {
		v, _ = LookupVoice(DefaultVoiceID)
	}
	m.voice = v
	return m
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:   m.state,
		Open:    m.run != nil,
		Caption: m.caption,
		Voice:   m.voice,
		Error:   m.lastErr,
	}
}

// Start opens a session with the current voice. Starting an open session is a
// no-op. On failure every acquired resource is released and the state stays idle.
func (m *Manager) Start(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	return m.start(ctx)
}

func (m *Manager) start(ctx context.Context) error {
	m.mu.Lock()
	if m.run != nil {
		m.mu.Unlock()
		return nil
	}
	voice := m.voice
	m.lastErr = ""
	m.mu.Unlock()

	if err := m.open(ctx, voice); err != nil {
		m.mu.Lock()
		m.lastErr = userMessage(err)
		m.mu.Unlock()
		m.logger.Error("Failed to start live session", "error", err)
		return fmt.Errorf("starting live session: %w", err)
	}
	return nil
}

func (m *Manager) open(ctx context.Context, voice Voice) error {
	if m.dialer == nil {
		return provider.ErrMissingAPIKey
	}
	if m.devices == nil {
		return audio.ErrNoDevice
	}
	capture, err := m.devices.OpenCapture(ctx)
	if err != nil {
		return err
	}
	out, err := m.devices.OpenOutput(m.outRate)
	if err != nil {
		capture.Close()
		return err
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, err := m.dialer.DialLive(rctx, provider.LiveConfig{
		Voice:             voice.ProviderVoice,
		SystemInstruction: m.instruction(voice),
		InputSampleRate:   m.inRate,
		OutputSampleRate:  m.outRate,
	})
	if err != nil {
		cancel()
		capture.Close()
		out.Close()
		return fmt.Errorf("dialing provider: %w", err)
	}

	r := &run{conn: conn, capture: capture, out: out, cancel: cancel}
	m.mu.Lock()
	m.run = r
	m.state = StateListening
	m.caption = ""
	m.userTurn, m.modelTurn = "", ""
	m.heard, m.answered = false, false
	m.mu.Unlock()

	m.telemetry.LiveOpened()
	m.record(models.StreamToggle{Started: true, Voice: voice.Name}, fmt.Sprintf("Voice streaming session started with %s.", voice.Name))
	m.logger.Info("Live session opened", "voice", voice.Name)

	r.wg.Go(func() { m.events(r) })
	r.wg.Go(func() { m.pump(rctx, r) })
	return nil
}

func (m *Manager) instruction(voice Voice) string {
	var summary string
	if m.summary != nil {
		summary = m.summary()
	}
	return fmt.Sprintf("%s\n\nYou are GT Pilot. When asked about your voice, refer to it as '%s Mode'. "+
		"Your voice is %s You must respond with full awareness of the provided context about "+
		"what was previously said, rendered, and what decisions were made.",
		strings.TrimSpace(summary), voice.Name, strings.ToLower(voice.Description))
}

// Stop tears the open session down. It is safe to call at any time and any number
// of times.
func (m *Manager) Stop() {
	m.op.Lock()
	defer m.op.Unlock()
	m.stop()
}

func (m *Manager) stop() {
	m.mu.Lock()
	r := m.run
	m.mu.Unlock()
	if r == nil {
		return
	}
	m.teardown(r)
	r.wg.Wait()
}

// SetVoice switches the active voice. An open session is closed and reopened with
// the new voice.
func (m *Manager) SetVoice(ctx context.Context, id string) error {
	v, ok := LookupVoice(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, id)
	}
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	m.voice = v
	open := m.run != nil
	m.mu.Unlock()

	m.logger.Info(fmt.Sprintf("Voice updated. GT is now speaking in %s Mode.", v.Name))
	m.record(models.VoiceChange{Voice: v.Name}, fmt.Sprintf("Switched voice to %s.", v.Name))
	if !open {
		return nil
	}
	m.stop()
	return m.start(ctx)
}

// teardown releases every resource of r exactly once.
func (m *Manager) teardown(r *run) {
	r.once.Do(func() {
		r.cancel()

		m.mu.Lock()
		stopSources(r)
		if m.run == r {
			m.run = nil
			m.state = StateIdle
			m.caption = ""
			m.userTurn, m.modelTurn = "", ""
			m.heard, m.answered = false, false
		}
		m.mu.Unlock()

		if err := r.capture.Close(); err != nil {
			m.logger.Warn("Failed to close capture", "error", err)
		}
		if err := r.out.Close(); err != nil {
			m.logger.Warn("Failed to close output", "error", err)
		}
		if err := r.conn.Close(); err != nil {
			m.logger.Warn("Failed to close live connection", "error", err)
		}
		m.telemetry.LiveClosed()
		m.record(models.StreamToggle{Started: false}, "Voice streaming session ended.")
		m.logger.Info("Live session closed")
	})
}

func stopSources(r *run) {
	for _, s := range r.sources {
		s.Stop()
	}
	r.sources = nil
	r.cursor = 0
}

func (m *Manager) record(p models.Payload, desc string) {
	if m.recorder == nil {
		return
	}
	m.recorder.RecordRevision(p, desc, true)
}

// pump forwards microphone frames until the capture or the run ends.
func (m *Manager) pump(ctx context.Context, r *run) {
	chunks := r.capture.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-chunks:
			if !ok {
				return
			}
			if err := r.conn.SendAudio(ctx, audio.EncodePCM16(samples)); err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("Failed to forward audio", "error", err)
				}
				return
			}
		}
	}
}

// events consumes provider events until the connection closes, then tears down.
func (m *Manager) events(r *run) {
	for ev := range r.conn.Events() {
		m.handle(r, ev)
	}
	m.teardown(r)
}

func (m *Manager) handle(r *run, ev provider.LiveEvent) {
	var flush string
	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return
	}
	switch ev := ev.(type) {
	case provider.LiveOpened:
		m.logger.Debug("Live provider session ready")

	case provider.InputTranscript:
		// Partials overwrite the turn buffer. Input never interrupts talking.
		m.userTurn = ev.Text
		if m.state != StateTalking {
			m.caption = ev.Text
		}
		if !ev.Final {
			break
		}
		late := m.answered
		m.answered = false
		flush = m.takeUserTurn()
		if flush != "" && !late {
			m.heard = true
			if m.state == StateListening {
				m.state = StateThinking
			}
		}

	case provider.OutputTranscript:
		if !r.synced {
			r.synced = true
			m.logger.Info("Live stream dialogue synced. GT is ready to discuss all system decisions.")
		}
		m.modelTurn = ev.Text
		m.caption = ev.Text
		m.state = StateTalking

	case provider.AudioChunk:
		m.schedule(r, ev.PCM)
		m.state = StateTalking

	case provider.TurnComplete:
		flush = m.takeUserTurn()
		switch {
		case strings.TrimSpace(m.modelTurn) != "":
			m.state = StateListening
			m.answered = !m.heard && flush == ""
			m.heard = false
		case flush != "":
			m.heard = true
			if m.state == StateListening {
				m.state = StateThinking
			}
		}
		m.modelTurn = ""
		m.caption = ""

	case provider.Interrupted:
		m.answered = false
		stopSources(r)
		m.logger.Info("Model speech interrupted, playback cleared")

	case provider.LiveErrored:
		m.lastErr = "A session error occurred. Please try again."
		m.logger.Error("Live session error", "error", ev.Err)

	case provider.LiveClosed:
		m.logger.Debug("Live provider session closed")
	}
	m.mu.Unlock()

	if flush != "" {
		m.record(models.PromptInput{Prompt: flush}, fmt.Sprintf("Voice command: %q", flush))
	}
}

// takeUserTurn clears the user buffer and returns its trimmed text. The caller
// holds m.mu.
func (m *Manager) takeUserTurn() string {
	text := strings.TrimSpace(m.userTurn)
	m.userTurn = ""
	return text
}

// schedule plays pcm back-to-back after previously scheduled chunks. The caller
// holds m.mu.
func (m *Manager) schedule(r *run, pcm []byte) {
	at := max(r.out.Now(), r.cursor)
	src, err := r.out.Play(pcm, at)
	if err != nil {
		m.logger.Warn("Failed to schedule audio", "error", err)
		return
	}
	r.cursor = src.End()

	live := r.sources[:0]
	for _, s := range r.sources {
		select {
		case <-s.Done():
		default:
			live = append(live, s)
		}
	}
	r.sources = append(live, src)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access was denied. Allow microphone access and try again."
	case errors.Is(err, audio.ErrNoDevice):
		return "No microphone was found. Connect an audio input device and try again."
	case errors.Is(err, provider.ErrMissingAPIKey):
		return "Voice streaming is unavailable: no API key is configured."
	default:
		return "Failed to start streaming session."
	}
}
