package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstrumentNormalize(t *testing.T) {
	inst := Instrument{
		TickSize:          0.5,
		LotSize:           0.001,
		PricePrecision:    PrecisionOf(0.5),
		QuantityPrecision: PrecisionOf(0.001),
	}

	assert.Equal(t, int32(1), inst.PricePrecision)
	assert.Equal(t, int32(3), inst.QuantityPrecision)

	assert.Equal(t, 100.0, inst.NormalizePrice(100.3, false))
	assert.Equal(t, 100.5, inst.NormalizePrice(100.3, true))
	assert.Equal(t, 100.5, inst.NormalizePrice(100.5, true))

	assert.Equal(t, 0.123, inst.NormalizeSize(0.12345))
	assert.Equal(t, -0.123, inst.NormalizeSize(-0.12345))

	assert.Equal(t, "100.5", inst.FormatPrice(100.5))
	assert.Equal(t, "0.120", inst.FormatQty(-0.12))
}

func TestPrecisionOf(t *testing.T) {
	assert.Equal(t, int32(0), PrecisionOf(1))
	assert.Equal(t, int32(0), PrecisionOf(10))
	assert.Equal(t, int32(2), PrecisionOf(0.01))
	assert.Equal(t, int32(4), PrecisionOf(0.0001))
	assert.Equal(t, int32(0), PrecisionOf(0))
}

func TestInstrumentWithoutGrid(t *testing.T) {
	var inst Instrument
	assert.Equal(t, 101.37, inst.NormalizePrice(101.37, true))
	assert.Equal(t, 0.77, inst.NormalizeSize(0.77))
}
