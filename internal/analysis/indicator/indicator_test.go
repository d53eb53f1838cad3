package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		in       string
		name     string
		kind     Kind
		period   int
		lookback int
	}{
		{"RSI", "RSI", KindRSI, 14, 14},
		{"rsi_7", "RSI_7", KindRSI, 7, 7},
		{" EMA_50 ", "EMA_50", KindEMA, 50, 49},
		{"macd", "MACD", KindMACD, 0, 33},
	}
	for _, tc := range cases {
		spec, err := ParseSpec(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.name, spec.Name)
		assert.Equal(t, tc.kind, spec.Kind)
		assert.Equal(t, tc.period, spec.Period)
		assert.Equal(t, tc.lookback, spec.Lookback())
	}
}

func TestParseSpecRejectsUnknown(t *testing.T) {
	for _, in := range []string{"BOLL", "EMA_", "EMA_x", "RSI_1", ""} {
		_, err := ParseSpec(in)
		assert.ErrorIs(t, err, ErrUnknownIndicator, in)
	}
	_, err := ParseSpecs([]string{"RSI", "VWAP"})
	assert.ErrorIs(t, err, ErrUnknownIndicator)
}

func TestComputeConstantEMA(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 5
	}
	specs, err := ParseSpecs([]string{"EMA_3"})
	require.NoError(t, err)

	cols, err := Compute(closes, specs)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "EMA_3", cols[0].Name)
	assert.Len(t, cols[0].Values, len(closes))
	for i := 2; i < len(closes); i++ {
		assert.InDelta(t, 5.0, cols[0].Values[i], 1e-9)
	}
}

func TestComputeMACDColumns(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	specs, err := ParseSpecs([]string{"MACD", "RSI"})
	require.NoError(t, err)

	cols, err := Compute(closes, specs)
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, "MACD_LINE", cols[0].Name)
	assert.Equal(t, "MACD_SIGNAL", cols[1].Name)
	assert.Equal(t, "MACD_HIST", cols[2].Name)
	assert.Equal(t, "RSI", cols[3].Name)
	for _, c := range cols {
		assert.Len(t, c.Values, len(closes))
	}
}

func TestComputeInsufficientData(t *testing.T) {
	specs, err := ParseSpecs([]string{"EMA_50"})
	require.NoError(t, err)
	_, err = Compute(make([]float64, 49), specs)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
