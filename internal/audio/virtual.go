package audio

import (
	"sync"
	"time"
)

// VirtualOutput is a software output device. It keeps an accurate clock and
// source lifecycle but renders nothing itself. Sink and Stopped let a remote
// player mirror the schedule.
type VirtualOutput struct {
	rate int
	now  func() float64

	// Sink observes scheduled chunks. It must not block.
	Sink func(id uint64, pcm []byte, at float64)
	// Stopped observes sources cut off before they finished playing, including
	// those still playing when the output is closed. It must not block.
	Stopped func(id uint64)

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	sources map[*virtualSource]struct{}
}

// NewVirtualOutput returns an output whose clock starts at zero. A nil clock uses
// wall time.
func NewVirtualOutput(rate int, clock func() float64) *VirtualOutput {
	if clock == nil {
		start := time.Now()
		clock = func() float64 { return time.Since(start).Seconds() }
	}
	return &VirtualOutput{
		rate:    rate,
		now:     clock,
		sources: make(map[*virtualSource]struct{}),
	}
}

func (o *VirtualOutput) Now() float64 { return o.now() }

func (o *VirtualOutput) Play(pcm []byte, at float64) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	o.nextID++
	s := &virtualSource{
		id:   o.nextID,
		out:  o,
		end:  at + Duration(len(pcm), o.rate, 1).Seconds(),
		done: make(chan struct{}),
	}
	o.sources[s] = struct{}{}
	wait := time.Duration((s.end - o.now()) * float64(time.Second))
	s.timer = time.AfterFunc(max(wait, 0), s.expire)
	if o.Sink != nil {
		o.Sink(s.id, pcm, at)
	}
	return s, nil
}

// Active reports the number of sources that have not finished or been stopped.
func (o *VirtualOutput) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sources)
}

func (o *VirtualOutput) remove(s *virtualSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sources, s)
}

func (o *VirtualOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	sources := o.sources
	o.sources = make(map[*virtualSource]struct{})
	o.mu.Unlock()

	for s := range sources {
		s.Stop()
	}
	return nil
}

type virtualSource struct {
	id    uint64
	out   *VirtualOutput
	end   float64
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

func (s *virtualSource) Stop() { s.finish(true) }

// expire runs on the timer goroutine. Taking the output lock orders it after Play
// has stored the timer.
func (s *virtualSource) expire() {
	s.out.mu.Lock()
	s.out.mu.Unlock()
	s.finish(false)
}

func (s *virtualSource) finish(cut bool) {
	s.once.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.done)
		s.out.remove(s)
		if cut && s.out.Stopped != nil {
			s.out.Stopped(s.id)
		}
	})
}

func (s *virtualSource) Done() <-chan struct{} { return s.done }
func (s *virtualSource) End() float64          { return s.end }
