package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/esnunes/renderpilot/internal/audio"
)

// Bridge exposes the audio devices of a browser tab connected to /live as
// audio.Devices. Binary frames from the browser are 16-bit mono PCM microphone
// audio. Scheduled output is sent back as JSON audio frames tagged with a source
// id, and a stop frame with the same id tells the browser to cut that buffer.
type Bridge struct {
	logger *slog.Logger

	mu      sync.Mutex
	peer    *peer
	denied  bool
	capture *bridgeCapture
}

type peer struct {
	conn *websocket.Conn
	out  chan outFrame
}

type outFrame struct {
	Type string  `json:"type"`
	ID   uint64  `json:"id,omitempty"`
	At   float64 `json:"at,omitempty"`
	PCM  []byte  `json:"pcm,omitempty"`
}

const (
	outQueue = 256
	// stopHeadroom keeps room in the queue for stop frames when audio backs up.
	stopHeadroom = 32
)

// controlFrame is a text frame from the browser.
type controlFrame struct {
	Type string `json:"type"`
}

func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{logger: logger}
}

func (b *Bridge) OpenCapture(ctx context.Context) (audio.Capture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer == nil {
		return nil, audio.ErrNoDevice
	}
	if b.denied {
		return nil, audio.ErrPermissionDenied
	}
	if b.capture != nil {
		b.capture.close()
	}
	b.capture = &bridgeCapture{bridge: b, ch: make(chan []float32, 64)}
	return b.capture, nil
}

func (b *Bridge) OpenOutput(rate int) (audio.Output, error) {
	b.mu.Lock()
	p := b.peer
	b.mu.Unlock()
	if p == nil {
		return nil, audio.ErrNoDevice
	}
	out := audio.NewVirtualOutput(rate, nil)
	out.Sink = func(id uint64, pcm []byte, at float64) {
		if len(p.out) >= outQueue-stopHeadroom {
			b.logger.Warn("Browser audio queue full, dropping chunk")
			return
		}
		p.send(outFrame{Type: "audio", ID: id, At: at, PCM: pcm})
	}
	out.Stopped = func(id uint64) {
		if !p.send(outFrame{Type: "stop", ID: id}) {
			b.logger.Warn("Browser audio queue full, dropping stop frame", "id", id)
		}
	}
	return out, nil
}

func (p *peer) send(f outFrame) bool {
	select {
	case p.out <- f:
		return true
	default:
		return false
	}
}

// ServeHTTP accepts the browser side of the bridge. One browser is attached at a
// time; a new connection replaces the previous one.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Error("Accepting live bridge connection", "error", err)
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	p := &peer{conn: conn, out: make(chan outFrame, outQueue)}
	b.attach(p)
	defer b.detach(p)
	b.logger.Info("Browser audio attached")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-p.out:
				if err := wsjson.Write(ctx, conn, f); err != nil {
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				b.logger.Debug("Live bridge read ended", "error", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			b.deliver(audio.DecodePCM16(data))
		case websocket.MessageText:
			var f controlFrame
			if err := json.Unmarshal(data, &f); err != nil {
				b.logger.Warn("Malformed live bridge control frame", "error", err)
				continue
			}
			b.control(f)
		}
	}
}

func (b *Bridge) attach(p *peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer != nil {
		b.peer.conn.Close(websocket.StatusGoingAway, "replaced by a new connection")
	}
	b.peer = p
	b.denied = false
}

func (b *Bridge) detach(p *peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer != p {
		return
	}
	b.peer = nil
	if b.capture != nil {
		b.capture.close()
		b.capture = nil
	}
	b.logger.Info("Browser audio detached")
}

func (b *Bridge) control(f controlFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch f.Type {
	case "denied":
		b.denied = true
		b.logger.Warn("Browser reported microphone permission denied")
	case "granted":
		b.denied = false
	}
}

func (b *Bridge) deliver(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capture == nil {
		return
	}
	select {
	case b.capture.ch <- samples:
	default:
		b.logger.Warn("Capture queue full, dropping microphone frame")
	}
}

// Attached reports whether a browser is connected.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer != nil
}

type bridgeCapture struct {
	bridge *Bridge
	ch     chan []float32
	once   sync.Once
}

func (c *bridgeCapture) Chunks() <-chan []float32 { return c.ch }

func (c *bridgeCapture) Close() error {
	c.bridge.mu.Lock()
	defer c.bridge.mu.Unlock()
	if c.bridge.capture == c {
		c.bridge.capture = nil
	}
	c.close()
	return nil
}

// close requires the bridge lock.
func (c *bridgeCapture) close() {
	c.once.Do(func() { close(c.ch) })
}
