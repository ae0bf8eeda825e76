// Package connectivity tracks backend reachability for a terminal.
//
// The OS network status is not trusted: a terminal can hold a LAN address
// while the backend is unreachable. The monitor probes an HTTP endpoint
// (a generate-204 style URL) and drives a small posture state machine:
//
//	offline -> reconnecting -> syncing -> idle
//
// Any posture can drop back to offline when a probe fails. A reconnect is
// debounced before sync is triggered, so a flapping link does not start a
// sync storm.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ventapos/pkg/logger"
)

// Posture is the terminal's connectivity state.
type Posture string

const (
	PostureOffline      Posture = "offline"
	PostureReconnecting Posture = "reconnecting"
	PostureSyncing      Posture = "syncing"
	PostureIdle         Posture = "idle"
)

// SyncFunc is invoked after a debounced reconnect. It should drain the
// offline queue and return when done; errors are the engine's business.
type SyncFunc func(ctx context.Context)

// Config holds monitor tuning.
type Config struct {
	// ProbeURL is requested with HEAD; any status below 500 counts as
	// reachable. Connectivity check endpoints usually answer 204.
	ProbeURL string

	// Interval between probes.
	Interval time.Duration

	// Debounce is how long a restored link must hold before sync starts.
	Debounce time.Duration

	// ProbeTimeout bounds a single probe request.
	ProbeTimeout time.Duration
}

// DefaultConfig returns production probe timings.
func DefaultConfig(probeURL string) Config {
	return Config{
		ProbeURL:     probeURL,
		Interval:     5 * time.Second,
		Debounce:     2 * time.Second,
		ProbeTimeout: 3 * time.Second,
	}
}

// Monitor owns the probe loop and current posture.
type Monitor struct {
	cfg    Config
	client *http.Client
	sync   SyncFunc

	mu      sync.Mutex
	posture Posture
}

// NewMonitor creates a monitor in the offline posture. The first successful
// probe moves it through reconnecting into a sync.
func NewMonitor(cfg Config, syncFn SyncFunc) *Monitor {
	return &Monitor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		sync:    syncFn,
		posture: PostureOffline,
	}
}

// Posture returns the current connectivity posture.
func (m *Monitor) Posture() Posture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posture
}

func (m *Monitor) setPosture(ctx context.Context, p Posture) {
	m.mu.Lock()
	prev := m.posture
	m.posture = p
	m.mu.Unlock()

	if prev != p {
		logger.Info(ctx, "connectivity posture changed", "from", prev, "to", p)
	}
}

// Run probes until ctx is cancelled. Blocking; start it in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// Probe immediately so a terminal that starts online syncs its
	// backlog without waiting a full interval.
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	reachable := m.probe(ctx)

	switch {
	case !reachable:
		m.setPosture(ctx, PostureOffline)

	case m.Posture() == PostureOffline:
		m.setPosture(ctx, PostureReconnecting)
		if !m.holdDebounce(ctx) {
			return
		}
		m.setPosture(ctx, PostureSyncing)
		m.sync(ctx)
		if m.Posture() == PostureSyncing {
			m.setPosture(ctx, PostureIdle)
		}

	case m.Posture() == PostureReconnecting:
		// A tick landed while an earlier debounce aborted. Treat as a
		// fresh reconnect.
		m.setPosture(ctx, PostureOffline)
	}
}

// holdDebounce waits the debounce window and re-probes. Returns false when
// the link dropped again or ctx was cancelled.
func (m *Monitor) holdDebounce(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(m.cfg.Debounce):
	}
	if !m.probe(ctx) {
		m.setPosture(ctx, PostureOffline)
		return false
	}
	return true
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
