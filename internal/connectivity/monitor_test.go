package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(probeURL string) Config {
	return Config{
		ProbeURL:     probeURL,
		Interval:     20 * time.Millisecond,
		Debounce:     10 * time.Millisecond,
		ProbeTimeout: time.Second,
	}
}

func TestMonitor_StaysOfflineWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var synced atomic.Int32
	m := NewMonitor(testConfig(srv.URL), func(ctx context.Context) {
		synced.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, PostureOffline, m.Posture())
	assert.Equal(t, int32(0), synced.Load())
}

func TestMonitor_ReconnectTriggersSyncThenIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var synced atomic.Int32
	m := NewMonitor(testConfig(srv.URL), func(ctx context.Context) {
		synced.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		return m.Posture() == PostureIdle
	}, 2*time.Second, 10*time.Millisecond)

	// Once synced, steady reachable ticks must not resync.
	before := synced.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, synced.Load())
	assert.Equal(t, PostureIdle, m.Posture())
}

func TestMonitor_LinkDropDuringDebounceAbortsSync(t *testing.T) {
	// First probe succeeds, everything after fails: the link flaps
	// within the debounce window.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var synced atomic.Int32
	m := NewMonitor(testConfig(srv.URL), func(ctx context.Context) {
		synced.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, PostureOffline, m.Posture())
	assert.Equal(t, int32(0), synced.Load())
}

func TestMonitor_DropAfterIdleGoesOffline(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMonitor(testConfig(srv.URL), func(ctx context.Context) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		return m.Posture() == PostureIdle
	}, 2*time.Second, 10*time.Millisecond)

	down.Store(true)

	require.Eventually(t, func() bool {
		return m.Posture() == PostureOffline
	}, 2*time.Second, 10*time.Millisecond)
}
