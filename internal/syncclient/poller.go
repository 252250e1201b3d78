package syncclient

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// StatusPollInterval is the fixed cadence of the gateway status screen.
const StatusPollInterval = 5 * time.Second

// StatusPoller calls fetch on a fixed interval while active. Pausing only gates the call;
// the ticker keeps running and missed ticks are never replayed.
type StatusPoller struct {
	fetch     func(ctx context.Context) error
	logger    *slog.Logger
	active    atomic.Bool
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewStatusPoller returns an active poller.
func NewStatusPoller(fetch func(ctx context.Context) error, logger *slog.Logger) *StatusPoller {
	p := &StatusPoller{
		fetch:  fetch,
		logger: logger.With("component", "status_poller"),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	p.active.Store(true)
	return p
}

// SetActive turns polling on or off.
func (p *StatusPoller) SetActive(active bool) {
	p.active.Store(active)
}

// Active reports whether ticks currently fetch.
func (p *StatusPoller) Active() bool {
	return p.active.Load()
}

// Run ticks until ctx is cancelled.
func (p *StatusPoller) Run(ctx context.Context) {
	ticks, stop := p.newTicker(StatusPollInterval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			p.tick(ctx)
		}
	}
}

func (p *StatusPoller) tick(ctx context.Context) {
	if !p.active.Load() {
		return
	}
	if err := p.fetch(ctx); err != nil {
		p.logger.Warn("status poll failed", "error", err)
	}
}
