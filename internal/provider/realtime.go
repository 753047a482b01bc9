package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type RealtimeSettings struct {
	APIKey string
	URL    string
	Model  string
}

// Realtime dials the provider's realtime websocket endpoint.
type Realtime struct {
	settings RealtimeSettings
	logger   *slog.Logger
	// client is used for the handshake; nil means http.DefaultClient.
	client *http.Client
}

var _ LiveDialer = (*Realtime)(nil)

func NewRealtime(s RealtimeSettings, logger *slog.Logger) (*Realtime, error) {
	if s.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if s.URL == "" || s.Model == "" {
		return nil, errors.New("realtime url and model are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Realtime{settings: s, logger: logger}, nil
}

func (r *Realtime) DialLive(ctx context.Context, cfg LiveConfig) (LiveConn, error) {
	u, err := url.Parse(r.settings.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", r.settings.Model)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: r.client,
		HTTPHeader: http.Header{
			"Authorization": {"Bearer " + r.settings.APIKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing realtime session: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	rctx, cancel := context.WithCancel(context.Background())
	rc := &realtimeConn{
		conn:   conn,
		events: make(chan LiveEvent, 64),
		ctx:    rctx,
		cancel: cancel,
		logger: r.logger,
	}
	if err := wsjson.Write(ctx, conn, sessionUpdate(cfg)); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return nil, fmt.Errorf("configuring realtime session: %w", err)
	}
	go rc.readLoop()
	return rc, nil
}

func sessionUpdate(cfg LiveConfig) map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":                []string{"audio", "text"},
			"voice":                     cfg.Voice,
			"instructions":              cfg.SystemInstruction,
			"input_audio_format":        "pcm16",
			"output_audio_format":       "pcm16",
			"input_audio_transcription": map[string]any{"model": "whisper-1"},
			"turn_detection":            map[string]any{"type": "server_vad"},
		},
	}
}

type realtimeConn struct {
	conn   *websocket.Conn
	events chan LiveEvent
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
	// user and model accumulate transcript deltas of the current turn.
	user, model string
}

type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *realtimeConn) Events() <-chan LiveEvent { return c.events }

func (c *realtimeConn) SendAudio(ctx context.Context, pcm []byte) error {
	err := wsjson.Write(ctx, c.conn, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return fmt.Errorf("sending audio: %w", err)
	}
	return nil
}

func (c *realtimeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

func (c *realtimeConn) readLoop() {
	defer close(c.events)
	for {
		var ev serverEvent
		if err := wsjson.Read(c.ctx, c.conn, &ev); err != nil {
			if c.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.emit(LiveClosed{})
			} else {
				c.emit(LiveErrored{Err: fmt.Errorf("reading realtime event: %w", err)})
			}
			return
		}
		for _, out := range c.translate(ev) {
			c.emit(out)
		}
	}
}

func (c *realtimeConn) translate(ev serverEvent) []LiveEvent {
	switch ev.Type {
	case "session.created":
		return []LiveEvent{LiveOpened{}}
	case "conversation.item.input_audio_transcription.delta":
		c.user += ev.Delta
		return []LiveEvent{InputTranscript{Text: c.user}}
	case "conversation.item.input_audio_transcription.completed":
		text := ev.Transcript
		if text == "" {
			text = c.user
		}
		c.user = ""
		return []LiveEvent{InputTranscript{Text: text, Final: true}}
	case "response.audio_transcript.delta":
		c.model += ev.Delta
		return []LiveEvent{OutputTranscript{Text: c.model}}
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.logger.Warn("Dropping undecodable audio chunk", "error", err)
			return nil
		}
		return []LiveEvent{AudioChunk{PCM: pcm}}
	case "input_audio_buffer.speech_started":
		return []LiveEvent{Interrupted{}}
	case "response.done":
		c.model = ""
		return []LiveEvent{TurnComplete{}}
	case "error":
		msg := "unknown realtime error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return []LiveEvent{LiveErrored{Err: errors.New(msg)}}
	}
	return nil
}

func (c *realtimeConn) emit(ev LiveEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
		// Terminal events still get through to a reader draining after Close.
		switch ev.(type) {
		case LiveClosed, LiveErrored:
			select {
			case c.events <- ev:
			default:
			}
		}
	}
}
