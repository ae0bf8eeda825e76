// Package backend is the terminal's HTTP client for the central API server.
// It adapts the server's REST surface to the ports the sync engine and the
// capture path consume, so the rest of the terminal never sees HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/document"
	"ventapos/internal/domain/sale"
	"ventapos/internal/infrastructure/http/v1/dto"
)

// Client talks to the backend API server. Implements the sync engine's
// Allocator and document.Store ports plus the direct issuing path.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ document.Store = (*Client)(nil)

// New creates a backend client. baseURL carries scheme and host, no
// trailing slash.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// errorBody is the ErrorHandler middleware's JSON shape.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// remoteErr maps a non-2xx response back onto the error taxonomy the
// callers branch on. Unknown bodies degrade to a plain AppError with the
// response status.
func remoteErr(status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Code == "" {
		if status >= http.StatusInternalServerError {
			return apperror.NewStoreUnavailable(fmt.Errorf("backend returned %d", status))
		}
		return &apperror.AppError{
			Code:       apperror.CodeInternal,
			Message:    fmt.Sprintf("backend returned %d", status),
			HTTPStatus: status,
		}
	}
	return &apperror.AppError{
		Code:       eb.Code,
		Message:    eb.Message,
		Details:    eb.Details,
		HTTPStatus: status,
	}
}

// do runs one request. Transport failures and 5xx responses surface as
// StoreUnavailable: to the terminal they are the same outage.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperror.NewStoreUnavailable(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperror.NewStoreUnavailable(err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return remoteErr(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func saleRequest(payload sale.Sale, localID *id.ID) dto.SaleRequest {
	req := dto.SaleRequest{
		DocumentType:  string(payload.DocumentType),
		CustomerName:  payload.Customer.Name,
		CustomerDoc:   payload.Customer.DocType,
		CustomerDocNo: payload.Customer.DocNumber,
		OpGravada:     payload.OpGravada,
		IGV:           payload.IGV,
		Total:         payload.Total,
		PaymentMethod: string(payload.PaymentMethod),
		Notes:         payload.Notes,
	}
	if payload.BranchID != nil {
		req.BranchID = payload.BranchID.String()
	}
	if localID != nil {
		req.LocalID = localID.String()
	}
	for _, item := range payload.Items {
		req.Items = append(req.Items, dto.SaleItemRequest{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Affectation: string(item.Affectation),
		})
	}
	return req
}

func docFromResponse(resp dto.DocumentResponse, payload sale.Sale) (*document.Document, error) {
	docID, err := id.Parse(resp.ID)
	if err != nil {
		return nil, fmt.Errorf("backend returned malformed document id %q", resp.ID)
	}
	businessID, err := id.Parse(resp.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("backend returned malformed business id %q", resp.BusinessID)
	}

	doc := &document.Document{
		ID:           docID,
		BusinessID:   businessID,
		DocumentType: series.DocumentType(resp.DocumentType),
		Label:        resp.Label,
		Number:       resp.Number,
		Payload:      payload,
		Status:       document.Status(resp.Status),
		IssuedAt:     resp.IssuedAt,
	}
	if resp.BranchID != "" {
		branchID, err := id.Parse(resp.BranchID)
		if err == nil {
			doc.BranchID = &branchID
		}
	}
	if resp.LocalID != "" {
		localID, err := id.Parse(resp.LocalID)
		if err == nil {
			doc.LocalID = &localID
		}
	}
	return doc, nil
}

// Issue runs the online path: the server validates, numbers and stores the
// sale in one call. Idempotent when localID is set.
func (c *Client) Issue(ctx context.Context, payload sale.Sale, localID *id.ID) (*document.Document, error) {
	path := fmt.Sprintf("/v1/businesses/%s/documents", payload.BusinessID)

	var resp dto.DocumentResponse
	if err := c.do(ctx, http.MethodPost, path, saleRequest(payload, localID), &resp); err != nil {
		return nil, err
	}
	return docFromResponse(resp, payload)
}

// Allocate reserves the next number for key via the allocation endpoint.
func (c *Client) Allocate(ctx context.Context, key series.Key) (series.Allocated, error) {
	path := fmt.Sprintf("/v1/businesses/%s/allocations", key.BusinessID)

	req := dto.AllocateRequest{DocumentType: string(key.DocumentType)}
	if key.BranchID != nil {
		req.BranchID = key.BranchID.String()
	}

	var resp dto.AllocationResponse
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return series.Allocated{}, err
	}
	return series.Allocated{Label: resp.Label, Number: resp.Number}, nil
}

// Insert writes an already-numbered document through the apply endpoint.
func (c *Client) Insert(ctx context.Context, doc *document.Document) error {
	path := fmt.Sprintf("/v1/businesses/%s/documents/apply", doc.BusinessID)

	req := dto.ApplyDocumentRequest{
		ID:           doc.ID.String(),
		DocumentType: string(doc.DocumentType),
		Label:        doc.Label,
		Number:       doc.Number,
		Payload:      doc.Payload,
		IssuedAt:     doc.IssuedAt,
	}
	if doc.BranchID != nil {
		req.BranchID = doc.BranchID.String()
	}
	if doc.LocalID != nil {
		req.LocalID = doc.LocalID.String()
	}

	return c.do(ctx, http.MethodPost, path, req, nil)
}

// FindByLocalID checks the server-side idempotency marker for a queued sale.
func (c *Client) FindByLocalID(ctx context.Context, businessID, localID id.ID) (*document.Document, error) {
	path := fmt.Sprintf("/v1/businesses/%s/documents/local/%s", businessID, localID)

	var resp dto.DocumentResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	// The marker lookup never needs the sale payload back.
	return docFromResponse(resp, sale.Sale{})
}
