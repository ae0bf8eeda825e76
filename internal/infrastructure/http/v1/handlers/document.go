package handlers

import (
	"github.com/gin-gonic/gin"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/document"
	"ventapos/internal/infrastructure/http/v1/dto"
)

// DocumentHandler serves the backend issuing and series admin endpoints.
type DocumentHandler struct {
	BaseHandler
	service *document.Service
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(service *document.Service) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Issue handles the online issuing path: validate, allocate, write. When the
// request carries a localId the call is idempotent.
// POST /v1/businesses/:businessID/documents
func (h *DocumentHandler) Issue(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}

	var req dto.SaleRequest
	if !h.BindJSON(c, &req) {
		return
	}

	var localID *id.ID
	if req.LocalID != "" {
		parsed, err := id.Parse(req.LocalID)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid localId").WithDetail("localId", req.LocalID))
			return
		}
		localID = &parsed
	}

	doc, err := h.service.Issue(c.Request.Context(), req.ToSale(businessID), localID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromDocument(doc))
}

// Allocate reserves the next number of a series.
// POST /v1/businesses/:businessID/allocations
func (h *DocumentHandler) Allocate(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}

	var req dto.AllocateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	key := series.Key{
		BusinessID:   businessID,
		DocumentType: series.DocumentType(req.DocumentType),
	}
	if branchID, err := id.Parse(req.BranchID); err == nil && !id.IsNil(branchID) {
		key.BranchID = &branchID
	}

	allocated, err := h.service.Allocate(c.Request.Context(), key)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.AllocationResponse{
		Label:      allocated.Label,
		Number:     allocated.Number,
		FullNumber: allocated.String(),
	})
}

// Apply persists an already-numbered document from sync replay.
// POST /v1/businesses/:businessID/documents/apply
func (h *DocumentHandler) Apply(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}

	var req dto.ApplyDocumentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	docID, err := id.Parse(req.ID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid id").WithDetail("id", req.ID))
		return
	}

	doc := &document.Document{
		ID:           docID,
		BusinessID:   businessID,
		DocumentType: series.DocumentType(req.DocumentType),
		Label:        req.Label,
		Number:       req.Number,
		Payload:      req.Payload,
		Status:       document.StatusIssued,
		IssuedAt:     req.IssuedAt,
	}
	doc.Payload.BusinessID = businessID
	if branchID, err := id.Parse(req.BranchID); err == nil && !id.IsNil(branchID) {
		doc.BranchID = &branchID
	}
	if req.LocalID != "" {
		localID, err := id.Parse(req.LocalID)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid localId").WithDetail("localId", req.LocalID))
			return
		}
		doc.LocalID = &localID
	}

	if err := h.service.Apply(c.Request.Context(), doc); err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromDocument(doc))
}

// GetByLocalID looks up the idempotency marker for a queued sale.
// GET /v1/businesses/:businessID/documents/local/:localID
func (h *DocumentHandler) GetByLocalID(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}
	localID, ok := h.ParamID(c, "localID")
	if !ok {
		return
	}

	doc, err := h.service.FindByLocalID(c.Request.Context(), businessID, localID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if doc == nil {
		h.Error(c, apperror.NewNotFound("document", localID))
		return
	}

	h.OK(c, dto.FromDocument(doc))
}

// Get returns an issued document.
// GET /v1/businesses/:businessID/documents/:documentID
func (h *DocumentHandler) Get(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}
	docID, ok := h.ParamID(c, "documentID")
	if !ok {
		return
	}

	doc, err := h.service.Get(c.Request.Context(), businessID, docID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromDocument(doc))
}

// UpdateStatus records the fiscal authority's verdict on a document.
// PUT /v1/businesses/:businessID/documents/:documentID/status
func (h *DocumentHandler) UpdateStatus(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}
	docID, ok := h.ParamID(c, "documentID")
	if !ok {
		return
	}

	var req dto.UpdateStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	err := h.service.UpdateStatus(c.Request.Context(), businessID, docID, document.Status(req.Status))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.SuccessResponse{Success: true, Message: "status updated"})
}

// ListSeries returns every configured series for a business.
// GET /v1/businesses/:businessID/series
func (h *DocumentHandler) ListSeries(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}

	listed, err := h.service.ListSeries(c.Request.Context(), businessID)
	if err != nil {
		h.Error(c, err)
		return
	}

	out := make([]dto.SeriesResponse, 0, len(listed))
	for _, s := range listed {
		out = append(out, dto.FromSeries(s))
	}
	h.OK(c, gin.H{"series": out})
}

// ConfigureSeries sets a series label and minimum baseline.
// PUT /v1/businesses/:businessID/series/:documentType
func (h *DocumentHandler) ConfigureSeries(c *gin.Context) {
	businessID, ok := h.ParamID(c, "businessID")
	if !ok {
		return
	}

	var req dto.ConfigureSeriesRequest
	if !h.BindJSON(c, &req) {
		return
	}

	key := series.Key{
		BusinessID:   businessID,
		DocumentType: series.DocumentType(c.Param("documentType")),
	}
	if branchID, err := id.Parse(req.BranchID); err == nil && !id.IsNil(branchID) {
		key.BranchID = &branchID
	}

	err := h.service.ConfigureSeries(c.Request.Context(), key, req.Label, req.LastNumber)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.SuccessResponse{Success: true, Message: "series configured"})
}
