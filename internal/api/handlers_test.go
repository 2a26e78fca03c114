package api

import (
	"testing"
)

func TestParseOptionalInt(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "empty uses fallback", raw: "", fallback: 20, want: 20},
		{name: "blank uses fallback", raw: "   ", fallback: 0, want: 0},
		{name: "valid value", raw: "50", fallback: 20, want: 50},
		{name: "zero is valid", raw: "0", fallback: 20, want: 0},
		{name: "negative rejected", raw: "-1", fallback: 20, wantErr: true},
		{name: "non numeric rejected", raw: "abc", fallback: 20, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptionalInt(tt.raw, tt.fallback)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %d", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
