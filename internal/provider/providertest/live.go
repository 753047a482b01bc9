package providertest

import (
	"context"
	"sync"

	"github.com/esnunes/renderpilot/internal/provider"
)

// Dialer hands out scripted live connections.
type Dialer struct {
	Err error

	mu      sync.Mutex
	conns   []*Conn
	configs []provider.LiveConfig
}

func (d *Dialer) DialLive(ctx context.Context, cfg provider.LiveConfig) (provider.LiveConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)
	if d.Err != nil {
		return nil, d.Err
	}
	c := &Conn{events: make(chan provider.LiveEvent, 64)}
	d.conns = append(d.conns, c)
	return c, nil
}

// Last returns the most recently dialed connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *Dialer) Configs() []provider.LiveConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]provider.LiveConfig(nil), d.configs...)
}

// Conn is a live connection driven by the test through Push.
type Conn struct {
	mu     sync.Mutex
	events chan provider.LiveEvent
	sent   [][]byte
	closed bool
	closes int
}

func (c *Conn) Events() <-chan provider.LiveEvent { return c.events }

func (c *Conn) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), pcm...))
	return nil
}

// Push delivers an event as if it came from the provider. It is a no-op after Close.
func (c *Conn) Push(ev provider.LiveEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
