// Package poller runs one function on a fixed interval until stopped.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultInterval = 100 * time.Millisecond

// TickFunc is called once per tick. An error is logged and the loop goes on.
type TickFunc func(ctx context.Context) error

type Config struct {
	Name     string
	Interval time.Duration
	Tick     TickFunc
	// OnResult is called after every tick with its error, if set.
	OnResult func(err error)
}

// Poller is a repeating task that is started at most once at a time.
type Poller struct {
	name     string
	interval time.Duration
	tick     TickFunc
	onResult func(err error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(config Config) *Poller {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	onResult := config.OnResult
	if onResult == nil {
		onResult = func(error) {}
	}
	return &Poller{
		name:     config.Name,
		interval: interval,
		tick:     config.Tick,
		onResult: onResult,
	}
}

// Start launches the loop. It returns false without doing anything when the
// loop is already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)
	slog.Info("poller started", "poller", p.name, "interval", p.interval)
	return true
}

// Stop cancels the loop and waits for the current tick to finish. The
// poller may be started again afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
		close(done)
		slog.Info("poller stopped", "poller", p.name)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.runTick(ctx)
	}
}

func (p *Poller) runTick(ctx context.Context) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			slog.Error("poll tick panicked", "poller", p.name, "panic", r)
			p.onResult(fmt.Errorf("panic: %v", r))
			return
		}
		p.onResult(err)
	}()

	err = p.tick(ctx)
	if err != nil && ctx.Err() == nil {
		slog.Error("poll tick failed", "poller", p.name, "error", err)
	}
}
