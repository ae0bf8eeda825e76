package series

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventapos/internal/core/id"
)

func TestAllocatedString(t *testing.T) {
	a := Allocated{Label: "F001", Number: 42}
	assert.Equal(t, "F001-00000042", a.String())

	a = Allocated{Label: "B003", Number: 1}
	assert.Equal(t, "B003-00000001", a.String())

	// Numbers wider than the pad are never truncated.
	a = Allocated{Label: "N001", Number: 123456789}
	assert.Equal(t, "N001-123456789", a.String())
}

func TestDefaultLabel(t *testing.T) {
	assert.Equal(t, "F001", DefaultLabel(TypeFactura, 1))
	assert.Equal(t, "B002", DefaultLabel(TypeBoleta, 2))
	assert.Equal(t, "T010", DefaultLabel(TypeGuiaRemision, 10))

	// Business-level series (no branch) maps to index 1.
	assert.Equal(t, "N001", DefaultLabel(TypeNotaVenta, 0))
}

func TestParseNumber(t *testing.T) {
	a, err := ParseNumber("F001-00000042")
	require.NoError(t, err)
	assert.Equal(t, Allocated{Label: "F001", Number: 42}, a)

	_, err = ParseNumber("F00100000042")
	assert.Error(t, err)

	_, err = ParseNumber("-00000042")
	assert.Error(t, err)

	_, err = ParseNumber("F001-notanumber")
	assert.Error(t, err)
}

func TestKeyString(t *testing.T) {
	biz := id.MustParse("0191e1a0-0000-7000-8000-000000000001")
	br := id.MustParse("0191e1a0-0000-7000-8000-000000000002")

	k := Key{BusinessID: biz, DocumentType: TypeBoleta}
	assert.Contains(t, k.String(), "boleta")
	assert.Contains(t, k.String(), "/-/")

	k.BranchID = &br
	assert.Contains(t, k.String(), br.String())
}

func TestDocumentTypeValid(t *testing.T) {
	assert.True(t, TypeFactura.Valid())
	assert.True(t, TypeGuiaRemision.Valid())
	assert.False(t, DocumentType("recibo").Valid())
}
