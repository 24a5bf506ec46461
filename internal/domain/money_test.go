package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"integer", "100", "100", false},
		{"fraction", "100.5", "100.5", false},
		{"trailing zeros", "1.2300", "1.23", false},
		{"eight places", "0.00000001", "0.00000001", false},
		{"nine places", "0.000000001", "", true},
		{"zero", "0", "", true},
		{"negative", "-1.5", "", true},
		{"garbage", "abc", "", true},
		{"empty", "", "", true},
		{"exponent", "1E5", "100000", false},
		{"small exponent", "15e-1", "1.5", false},
		{"huge exponent", "1e30000000", "", true},
		{"tiny exponent", "1e-3000000", "", true},
		{"zero huge exponent", "0e30000000", "", true},
		{"twenty integer digits", "99999999999999999999", "99999999999999999999", false},
		{"twenty one integer digits", "100000000000000000000", "", true},
		{"padded fraction", "1.500000000000", "1.5", false},
		{"overlong fraction", "1.00000000000000000", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParsePrice(%q) expected error, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrice(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParsePrice(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAmount_AllowsZero(t *testing.T) {
	got, err := ParseAmount("0")
	if err != nil {
		t.Fatalf("ParseAmount(0) unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("ParseAmount(0) = %s, want 0", got)
	}
}

func TestNotional(t *testing.T) {
	got := Notional(decimal.RequireFromString("0.1"), 3)
	if !got.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("Notional(0.1, 3) = %s, want 0.3", got)
	}
}

func TestParseAmount_LargeExponentFast(t *testing.T) {
	for _, in := range []string{"1e30000000", "1e-3000000", "7E999999999"} {
		start := time.Now()
		if _, err := ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q) expected error", in)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("ParseAmount(%q) took %s", in, elapsed)
		}
	}
}
