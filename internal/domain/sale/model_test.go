package sale

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
)

func validSale() Sale {
	return Sale{
		BusinessID:   id.New(),
		DocumentType: series.TypeBoleta,
		Customer:     Customer{Name: "Cliente Varios", DocType: "dni", DocNumber: "45678912"},
		Items: []Item{
			{Description: "Menu del dia", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromFloat(15.50), Affectation: TaxGravado},
		},
		OpGravada:     decimal.NewFromFloat(26.27),
		IGV:           decimal.NewFromFloat(4.73),
		Total:         decimal.NewFromFloat(31.00),
		PaymentMethod: PaymentCash,
	}
}

func TestValidateOK(t *testing.T) {
	s := validSale()
	assert.NoError(t, s.Validate(context.Background()))
}

func TestValidateRejectsEmptyItems(t *testing.T) {
	s := validSale()
	s.Items = nil
	err := s.Validate(context.Background())
	assert.True(t, apperror.IsValidation(err))
}

func TestValidateRejectsUnknownDocumentType(t *testing.T) {
	s := validSale()
	s.DocumentType = "recibo"
	err := s.Validate(context.Background())
	assert.True(t, apperror.IsValidation(err))
}

func TestValidateRejectsNonPositiveQuantity(t *testing.T) {
	s := validSale()
	s.Items[0].Quantity = decimal.Zero
	err := s.Validate(context.Background())
	assert.True(t, apperror.IsValidation(err))
}

func TestValidateFacturaRequiresRUC(t *testing.T) {
	s := validSale()
	s.DocumentType = series.TypeFactura
	err := s.Validate(context.Background())
	assert.True(t, apperror.IsValidation(err))

	s.Customer = Customer{Name: "ACME SAC", DocType: "ruc", DocNumber: "20123456789"}
	assert.NoError(t, s.Validate(context.Background()))
}

func TestSeriesKeyDerivation(t *testing.T) {
	s := validSale()
	branch := id.New()
	s.BranchID = &branch

	key := s.SeriesKey()
	assert.Equal(t, s.BusinessID, key.BusinessID)
	assert.Equal(t, &branch, key.BranchID)
	assert.Equal(t, series.TypeBoleta, key.DocumentType)
}

func TestItemTotal(t *testing.T) {
	item := Item{Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromFloat(10.50)}
	assert.True(t, item.Total().Equal(decimal.NewFromFloat(31.50)))
}
