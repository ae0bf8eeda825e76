package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ventapos/internal/connectivity"
	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/domain/document"
	"ventapos/internal/domain/sale"
	"ventapos/internal/domain/syncengine"
	"ventapos/internal/infrastructure/http/v1/dto"
	"ventapos/internal/infrastructure/storage/localqueue"
	"ventapos/pkg/eventbus"
	"ventapos/pkg/logger"
)

// Issuer is the online issuing path: the backend's document endpoint.
type Issuer interface {
	Issue(ctx context.Context, payload sale.Sale, localID *id.ID) (*document.Document, error)
}

// TerminalHandler serves the terminal's local API: sale capture, queue
// inspection, sync control and the event feed the register UI watches.
type TerminalHandler struct {
	BaseHandler
	businessID id.ID
	queue      *localqueue.Queue
	engine     *syncengine.Engine
	monitor    *connectivity.Monitor
	bus        *eventbus.Bus
	backend    Issuer
	upgrader   websocket.Upgrader
}

// NewTerminalHandler creates a terminal handler.
func NewTerminalHandler(
	businessID id.ID,
	queue *localqueue.Queue,
	engine *syncengine.Engine,
	monitor *connectivity.Monitor,
	bus *eventbus.Bus,
	backend Issuer,
) *TerminalHandler {
	return &TerminalHandler{
		businessID: businessID,
		queue:      queue,
		engine:     engine,
		monitor:    monitor,
		bus:        bus,
		backend:    backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local-only API, the UI connects from the same machine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *TerminalHandler) online() bool {
	p := h.monitor.Posture()
	return p == connectivity.PostureIdle || p == connectivity.PostureSyncing
}

// Capture accepts a sale at the register. Online it issues directly against
// the backend; offline (or when the backend flinches mid-request) the sale
// lands in the durable queue and gets its number at sync time.
// POST /v1/sales
func (h *TerminalHandler) Capture(c *gin.Context) {
	var req dto.SaleRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	payload := req.ToSale(h.businessID)

	// Reject garbage before it occupies the queue.
	if err := payload.Validate(ctx); err != nil {
		h.Error(c, err)
		return
	}

	if h.online() && h.backend != nil {
		localID := id.New()
		doc, err := h.backend.Issue(ctx, payload, &localID)
		if err == nil {
			resp := dto.FromDocument(doc)
			h.Created(c, dto.CaptureResponse{Mode: "issued", LocalID: localID.String(), Document: &resp})
			return
		}
		if !apperror.IsStoreUnavailable(err) {
			h.Error(c, err)
			return
		}
		logger.Warn(ctx, "backend unreachable during capture, queueing sale", "error", err)
	}

	localID, err := h.queue.Enqueue(ctx, payload)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.CaptureResponse{Mode: "queued", LocalID: localID.String()})
}

// PendingCount returns the offline queue depth.
// GET /v1/sales/pending/count
func (h *TerminalHandler) PendingCount(c *gin.Context) {
	count, err := h.queue.Count(c.Request.Context(), h.businessID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.PendingCountResponse{Count: count})
}

// TriggerSync starts a sync run immediately, ahead of the monitor's own
// schedule. A run already in flight answers 409.
// POST /v1/sync/trigger
func (h *TerminalHandler) TriggerSync(c *gin.Context) {
	summary, err := h.engine.Run(c.Request.Context(), h.businessID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.SyncTriggerResponse{
		Processed: summary.Processed,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
	})
}

// Status reports the connectivity posture and queue depth.
// GET /v1/status
func (h *TerminalHandler) Status(c *gin.Context) {
	count, err := h.queue.Count(c.Request.Context(), h.businessID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.StatusResponse{
		Posture:      string(h.monitor.Posture()),
		PendingSales: count,
	})
}

// DiscardFailed drops a permanently failed sale from the queue after manual
// review. Pending sales cannot be discarded this way.
// DELETE /v1/sales/failed/:localID
func (h *TerminalHandler) DiscardFailed(c *gin.Context) {
	localID, ok := h.ParamID(c, "localID")
	if !ok {
		return
	}
	if err := h.queue.Discard(c.Request.Context(), localID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

const (
	eventWriteTimeout = 10 * time.Second
	eventPingPeriod   = 30 * time.Second
)

// Events streams sync progress events over a websocket. The register UI
// subscribes here to show "syncing 3 of 7" style progress.
// GET /v1/sync/events
func (h *TerminalHandler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan eventbus.Event, 64)
	unsubscribe := h.bus.Subscribe(syncengine.Topic(h.businessID), func(ev eventbus.Event) {
		select {
		case events <- ev:
		default:
			// Slow consumer, drop rather than stall the sync loop.
		}
	})
	defer unsubscribe()

	// Reader goroutine: detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(gin.H{"event": ev.Name, "payload": ev.Payload}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
