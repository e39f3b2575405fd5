package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"21,4", 21.4, false},
		{"21.4", 21.4, false},
		{",6", 0.6, false},
		{"-,5", -0.5, false},
		{"-15,78944444", -15.78944444, false},
		{"1.013,25", 1013.25, false},
		{"1,013.25", 1013.25, false},
		{"1 160,96", 1160.96, false},
		{"1,234,567", 1234567, false},
		{"-9999", -9999, false},
		{"0", 0, false},
		{"", 0, true},
		{"abc", 0, true},
		{"NaN", 0, true},
		{"Inf", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDecimal(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}
