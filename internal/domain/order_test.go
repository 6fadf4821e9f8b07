package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeExecutedPrice(t *testing.T) {
	order := &Order{
		ID:            "o1",
		Side:          OrderSideBuy,
		FilledSize:    decimal.NewFromFloat(0.5),
		ExecutedValue: decimal.NewFromInt(50),
	}

	require.NoError(t, order.ComputeExecutedPrice())
	assert.True(t, order.ExecutedPrice.Equal(decimal.NewFromInt(100)))

	// already-computed price is left alone
	order.ExecutedValue = decimal.NewFromInt(999)
	require.NoError(t, order.ComputeExecutedPrice())
	assert.True(t, order.ExecutedPrice.Equal(decimal.NewFromInt(100)))
}

func TestComputeExecutedPriceZeroFill(t *testing.T) {
	order := &Order{ID: "o2", ExecutedValue: decimal.NewFromInt(10)}

	err := order.ComputeExecutedPrice()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrZeroFilledSize)
}
