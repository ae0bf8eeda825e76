// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/document"
	"ventapos/internal/domain/sale"
)

// --- Request DTOs ---

// SaleItemRequest is one line of a captured sale.
type SaleItemRequest struct {
	Description string          `json:"description" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unitPrice" binding:"required"`
	Affectation string          `json:"affectation,omitempty"`
}

// SaleRequest is the capture/issue payload shared by the backend issue
// endpoint and the terminal capture endpoint.
type SaleRequest struct {
	BranchID      string            `json:"branchId,omitempty"`
	DocumentType  string            `json:"documentType" binding:"required"`
	CustomerName  string            `json:"customerName,omitempty"`
	CustomerDoc   string            `json:"customerDocType,omitempty"` // "dni" | "ruc" | "none"
	CustomerDocNo string            `json:"customerDocNumber,omitempty"`
	Items         []SaleItemRequest `json:"items" binding:"required,min=1,dive"`
	OpGravada     decimal.Decimal   `json:"opGravada"`
	IGV           decimal.Decimal   `json:"igv"`
	Total         decimal.Decimal   `json:"total" binding:"required"`
	PaymentMethod string            `json:"paymentMethod,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	LocalID       string            `json:"localId,omitempty"`
}

// ToSale converts the request to the domain payload. Field-level validation
// beyond shape lives in sale.Validate.
func (r *SaleRequest) ToSale(businessID id.ID) sale.Sale {
	s := sale.Sale{
		BusinessID:   businessID,
		DocumentType: series.DocumentType(r.DocumentType),
		Customer: sale.Customer{
			Name:      r.CustomerName,
			DocType:   r.CustomerDoc,
			DocNumber: r.CustomerDocNo,
		},
		OpGravada:     r.OpGravada,
		IGV:           r.IGV,
		Total:         r.Total,
		PaymentMethod: sale.PaymentMethod(r.PaymentMethod),
		Notes:         r.Notes,
	}
	if branchID, err := id.Parse(r.BranchID); err == nil && !id.IsNil(branchID) {
		s.BranchID = &branchID
	}
	for _, item := range r.Items {
		affectation := sale.TaxAffectation(item.Affectation)
		if item.Affectation == "" {
			affectation = sale.TaxGravado
		}
		s.Items = append(s.Items, sale.Item{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Affectation: affectation,
		})
	}
	return s
}

// ConfigureSeriesRequest sets a series label and baseline.
type ConfigureSeriesRequest struct {
	BranchID   string `json:"branchId,omitempty"`
	Label      string `json:"label,omitempty"`
	LastNumber int64  `json:"lastNumber,omitempty"`
}

// AllocateRequest reserves the next number of a series.
type AllocateRequest struct {
	BranchID     string `json:"branchId,omitempty"`
	DocumentType string `json:"documentType" binding:"required"`
}

// ApplyDocumentRequest carries an already-numbered document. Used by sync
// replay, where the number was reserved in a separate call.
type ApplyDocumentRequest struct {
	ID           string    `json:"id" binding:"required"`
	BranchID     string    `json:"branchId,omitempty"`
	DocumentType string    `json:"documentType" binding:"required"`
	Label        string    `json:"label" binding:"required"`
	Number       int64     `json:"number" binding:"required"`
	LocalID      string    `json:"localId,omitempty"`
	Payload      sale.Sale `json:"payload"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// UpdateStatusRequest records the fiscal submission outcome.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// --- Response DTOs ---

// DocumentResponse is the API shape of an issued document.
type DocumentResponse struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"businessId"`
	BranchID     string    `json:"branchId,omitempty"`
	DocumentType string    `json:"documentType"`
	FullNumber   string    `json:"fullNumber"`
	Label        string    `json:"label"`
	Number       int64     `json:"number"`
	LocalID      string    `json:"localId,omitempty"`
	Status       string    `json:"status"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// FromDocument converts a domain document.
func FromDocument(d *document.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:           d.ID.String(),
		BusinessID:   d.BusinessID.String(),
		DocumentType: string(d.DocumentType),
		FullNumber:   d.FullNumber(),
		Label:        d.Label,
		Number:       d.Number,
		Status:       string(d.Status),
		IssuedAt:     d.IssuedAt,
	}
	if d.BranchID != nil {
		resp.BranchID = d.BranchID.String()
	}
	if d.LocalID != nil {
		resp.LocalID = d.LocalID.String()
	}
	return resp
}

// AllocationResponse is a reserved correlative number.
type AllocationResponse struct {
	Label      string `json:"label"`
	Number     int64  `json:"number"`
	FullNumber string `json:"fullNumber"`
}

// SeriesResponse is the API shape of a series counter.
type SeriesResponse struct {
	BranchID     string `json:"branchId,omitempty"`
	DocumentType string `json:"documentType"`
	Label        string `json:"label"`
	LastNumber   int64  `json:"lastNumber"`
}

// FromSeries converts a domain series.
func FromSeries(s series.Series) SeriesResponse {
	resp := SeriesResponse{
		DocumentType: string(s.DocumentType),
		Label:        s.Label,
		LastNumber:   s.LastNumber,
	}
	if s.BranchID != nil && !id.IsNil(*s.BranchID) {
		resp.BranchID = s.BranchID.String()
	}
	return resp
}

// CaptureResponse reports what happened to a captured sale on the terminal.
type CaptureResponse struct {
	// Mode is "issued" when the sale went straight to the backend, or
	// "queued" when it was stored for later sync.
	Mode     string            `json:"mode"`
	LocalID  string            `json:"localId,omitempty"`
	Document *DocumentResponse `json:"document,omitempty"`
}

// StatusResponse is the terminal posture snapshot.
type StatusResponse struct {
	Posture      string `json:"posture"`
	PendingSales int    `json:"pendingSales"`
}

// PendingCountResponse is the offline queue depth.
type PendingCountResponse struct {
	Count int `json:"count"`
}

// SyncTriggerResponse reports a manually triggered sync.
type SyncTriggerResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SuccessResponse is a generic success envelope.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
