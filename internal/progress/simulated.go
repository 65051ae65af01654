package progress

import (
	"context"
	"io"
	"sync"
	"time"
)

// Simulated advances linearly with wall-clock time up to a cap.
type Simulated struct {
	cfg SimulatedConfig
	now func() time.Time

	mu     sync.Mutex
	value  float64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSimulated creates a simulated reporter. Zero config fields use defaults.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	return &Simulated{cfg: cfg.withDefaults(), now: time.Now}
}

// Track returns r unchanged; simulated progress ignores the body.
func (s *Simulated) Track(r io.Reader, _ int64) io.Reader { return r }

// Start launches the timer goroutine. A running timer is replaced.
func (s *Simulated) Start(ctx context.Context) {
	s.stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, s.now(), done)
}

func (s *Simulated) run(ctx context.Context, started time.Time, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := s.now().Sub(started)
			v := float64(elapsed) / float64(s.cfg.Expected) * s.cfg.Cap
			if v > s.cfg.Cap {
				v = s.cfg.Cap
			}
			s.raise(v)
		}
	}
}

// Value returns the current progress.
func (s *Simulated) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Finish stops the timer and steps the value to 100.
func (s *Simulated) Finish(ctx context.Context) {
	s.stop()

	step := s.Value()
	for step < Complete {
		step += s.cfg.FinishStep
		if step > Complete {
			step = Complete
		}
		s.raise(step)
		if step == Complete || s.cfg.FinishInterval == 0 {
			continue
		}

		t := time.NewTimer(s.cfg.FinishInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			s.raise(Complete)
			return
		case <-t.C:
		}
	}
	s.raise(Complete)
}

// Reset stops the timer and zeroes the value.
func (s *Simulated) Reset() {
	s.stop()
	s.mu.Lock()
	s.value = 0
	s.mu.Unlock()
}

func (s *Simulated) raise(v float64) {
	s.mu.Lock()
	if v > s.value {
		s.value = v
	}
	s.mu.Unlock()
}

// stop cancels the timer goroutine and waits for it to exit.
func (s *Simulated) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
