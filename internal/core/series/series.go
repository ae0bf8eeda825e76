// Package series defines document number series: named, scoped sequences of
// correlative numbers issued per (business, branch, document type). A series
// produces fiscal document identifiers like F001-00000042. The number part is
// legally significant: it must never repeat within its series.
package series

import (
	"fmt"
	"strconv"
	"strings"

	"ventapos/internal/core/id"
)

// DocumentType identifies the kind of fiscal document a series numbers.
type DocumentType string

const (
	TypeFactura      DocumentType = "factura"
	TypeBoleta       DocumentType = "boleta"
	TypeNotaVenta    DocumentType = "nota_venta"
	TypeNotaCredito  DocumentType = "nota_credito"
	TypeNotaDebito   DocumentType = "nota_debito"
	TypeCotizacion   DocumentType = "cotizacion"
	TypeGuiaRemision DocumentType = "guia_remision"
)

// typePrefixes maps a document type to its one-letter label prefix.
var typePrefixes = map[DocumentType]string{
	TypeFactura:      "F",
	TypeBoleta:       "B",
	TypeNotaVenta:    "N",
	TypeNotaCredito:  "C",
	TypeNotaDebito:   "D",
	TypeCotizacion:   "Q",
	TypeGuiaRemision: "T",
}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	_, ok := typePrefixes[t]
	return ok
}

// AllDocumentTypes returns every known document type, in a stable order.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		TypeFactura,
		TypeBoleta,
		TypeNotaVenta,
		TypeNotaCredito,
		TypeNotaDebito,
		TypeCotizacion,
		TypeGuiaRemision,
	}
}

// Key identifies one series. BranchID is nil for businesses without branches;
// such sales number against the business-level series.
type Key struct {
	BusinessID   id.ID
	BranchID     *id.ID
	DocumentType DocumentType
}

// String renders the key for logs and error details.
func (k Key) String() string {
	branch := "-"
	if k.BranchID != nil {
		branch = k.BranchID.String()
	}
	return fmt.Sprintf("%s/%s/%s", k.BusinessID, branch, k.DocumentType)
}

// Series holds the durable state of one counter: its label and the last
// number it issued. LastNumber only ever increases for a fixed key.
type Series struct {
	Key
	Label      string
	LastNumber int64
}

// Allocated is one (label, number) pair returned by a single allocation.
// Immutable once returned.
type Allocated struct {
	Label  string
	Number int64
}

// numberWidth is the fixed zero-padded width of the correlative part.
const numberWidth = 8

// String formats the full document number, e.g. F001-00000042.
func (a Allocated) String() string {
	return fmt.Sprintf("%s-%0*d", a.Label, numberWidth, a.Number)
}

// DefaultLabel derives the conventional series label for a document type and
// branch index: one-letter prefix plus a zero-padded 3-digit index (F001,
// B001, T002, ...). Branch index 0 means the business-level series and maps
// to index 1.
func DefaultLabel(docType DocumentType, branchIndex int) string {
	prefix, ok := typePrefixes[docType]
	if !ok {
		prefix = "X"
	}
	if branchIndex <= 0 {
		branchIndex = 1
	}
	return fmt.Sprintf("%s%03d", prefix, branchIndex)
}

// ParseNumber splits a formatted document number back into label and
// correlative. Returns an error when the input does not match LABEL-NNNNNNNN.
func ParseNumber(formatted string) (Allocated, error) {
	label, digits, ok := strings.Cut(formatted, "-")
	if !ok || label == "" {
		return Allocated{}, fmt.Errorf("malformed document number %q", formatted)
	}
	num, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || num < 0 {
		return Allocated{}, fmt.Errorf("malformed document number %q", formatted)
	}
	return Allocated{Label: label, Number: num}, nil
}
