package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/crm/internal/crmerr"
)

func TestFormatINR(t *testing.T) {
	tests := []struct {
		amount int64
		want   string
	}{
		{37_350_000, "₹3.7 Cr"},
		{705_500, "₹7.1 L"},
		{4_000, "₹4k"},
		{4_999, "₹4k"},
		{999, "₹0k"},
		{0, "₹0k"},
		{-50, "₹0k"},
		{100_000, "₹1.0 L"},
		{10_000_000, "₹1.0 Cr"},
		{199_600_000, "₹20.0 Cr"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatINR(tt.amount))
		})
	}
}

func TestParseINR(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"₹3.73 Cr", 37_300_000},
		{"₹1.18 Cr", 11_800_000},
		{"45 Lakh", 4_500_000},
		{"₹7.05L", 705_000},
		{"Rs 8,50,000", 850_000},
		{"INR 50k", 50_000},
		{"₹4 Cr - ₹6 Cr", 40_000_000},
		{"₹4.15-5 Cr", 41_500_000},
		{"2.5 crores", 25_000_000},
		{"1200", 1_200},
		{"₹922337203685 Cr", 9_223_372_036_850_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseINR(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseINR_NoAmount(t *testing.T) {
	for _, in := range []string{"", "flexible", "₹ Cr"} {
		_, err := ParseINR(in)
		require.Error(t, err, in)
		assert.True(t, crmerr.IsValidation(err))
	}
}

func TestParseINR_TooLarge(t *testing.T) {
	for _, in := range []string{
		"₹9223372036854775807 Cr",
		"₹99999999999999 Cr",
		"₹922337203685.9 Cr",
		"99999999999999999999",
	} {
		n, err := ParseINR(in)
		require.Error(t, err, in)
		assert.True(t, crmerr.IsValidation(err))
		assert.Zero(t, n)
	}
}

func TestParseThenFormat_KeepsMagnitude(t *testing.T) {
	n, err := ParseINR("₹3.73 Cr")
	require.NoError(t, err)
	assert.Equal(t, "₹3.7 Cr", FormatINR(n))
}
