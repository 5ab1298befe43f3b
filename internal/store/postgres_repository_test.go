package store

import "testing"

func TestValidateBaseUnitAmount(t *testing.T) {
	testCases := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{name: "zero", amount: "0"},
		{name: "small integer", amount: "42"},
		{name: "beyond int64 range", amount: "5000000000000000000000000"},
		{name: "empty", amount: "", wantErr: true},
		{name: "negative", amount: "-1", wantErr: true},
		{name: "explicit plus", amount: "+1", wantErr: true},
		{name: "decimal point", amount: "1.5", wantErr: true},
		{name: "scientific notation", amount: "1e18", wantErr: true},
		{name: "whitespace", amount: " 1", wantErr: true},
		{name: "hex prefix", amount: "0x10", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateBaseUnitAmount(tc.amount)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for amount %q", tc.amount)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for amount %q: %v", tc.amount, err)
			}
		})
	}
}
