package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventapos/internal/connectivity"
	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/domain/allocator"
	"ventapos/internal/domain/document"
	"ventapos/internal/domain/syncengine"
	"ventapos/internal/infrastructure/storage/localqueue"
	"ventapos/pkg/eventbus"
	"ventapos/pkg/logger"
)

type memDocStore struct {
	mu   sync.Mutex
	docs []*document.Document
}

func (s *memDocStore) Insert(ctx context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.LocalID != nil {
		for _, d := range s.docs {
			if d.LocalID != nil && *d.LocalID == *doc.LocalID {
				return apperror.NewDuplicateSubmission(doc.LocalID.String())
			}
		}
	}
	s.docs = append(s.docs, doc)
	return nil
}

func (s *memDocStore) FindByLocalID(ctx context.Context, businessID, localID id.ID) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.LocalID != nil && *d.LocalID == localID {
			return d, nil
		}
	}
	return nil, nil
}

const captureBody = `{
	"documentType": "boleta",
	"customerName": "Cliente Varios",
	"customerDocType": "dni",
	"customerDocNumber": "45871236",
	"items": [
		{"description": "Menu del dia", "quantity": "2", "unitPrice": "15.50"}
	],
	"opGravada": "26.27",
	"igv": "4.73",
	"total": "31.00",
	"paymentMethod": "cash"
}`

func newTerminalRouter(t *testing.T) (http.Handler, *memDocStore) {
	t.Helper()

	log := logger.Default()
	queue, err := localqueue.Open(localqueue.DefaultConfig(filepath.Join(t.TempDir(), "queue.db")), log)
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	docs := &memDocStore{}
	bus := eventbus.New(log)
	engine := syncengine.New(queue,
		allocator.New(allocator.NewMemStore(), allocator.DefaultConfig()),
		docs, bus, log)

	// Never started: the monitor stays offline, so captures hit the queue.
	monitor := connectivity.NewMonitor(connectivity.DefaultConfig("http://127.0.0.1:0/health/ready"), func(ctx context.Context) {})

	router := NewTerminalRouter(TerminalConfig{
		BusinessID: id.New(),
		Queue:      queue,
		Engine:     engine,
		Monitor:    monitor,
		Bus:        bus,
		Backend:    nil,
		Logger:     log,
	})
	return router, docs
}

func TestTerminalRouter_CaptureSyncDrain(t *testing.T) {
	router, docs := newTerminalRouter(t)

	// Capture offline: the sale must land in the queue.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sales", strings.NewReader(captureBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var capture struct {
		Mode    string `json:"mode"`
		LocalID string `json:"localId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &capture))
	assert.Equal(t, "queued", capture.Mode)
	assert.NotEmpty(t, capture.LocalID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sales/pending/count", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count": 1}`, rec.Body.String())

	// Manual sync drains the queue into the document store.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/trigger", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"processed": 1, "failed": 0, "skipped": 0}`, rec.Body.String())

	require.Len(t, docs.docs, 1)
	assert.Equal(t, "B001-00000001", docs.docs[0].FullNumber())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sales/pending/count", nil))
	assert.JSONEq(t, `{"count": 0}`, rec.Body.String())
}

func TestTerminalRouter_CaptureRejectsInvalidSale(t *testing.T) {
	router, _ := newTerminalRouter(t)

	body := `{"documentType": "boleta", "items": [], "total": "10.00"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sales", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), apperror.CodeValidation)
}

func TestTerminalRouter_StatusReportsPosture(t *testing.T) {
	router, _ := newTerminalRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"posture": "offline", "pendingSales": 0}`, rec.Body.String())
}

func TestTerminalRouter_DiscardFailedRejectsPending(t *testing.T) {
	router, _ := newTerminalRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sales", strings.NewReader(captureBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var capture struct {
		LocalID string `json:"localId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &capture))

	// The sale is pending, not failed: discard must refuse.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sales/failed/"+capture.LocalID, nil))
	assert.NotEqual(t, http.StatusNoContent, rec.Code)
}
