package logger

import "testing"

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{
			name:   "returns empty when limit non-positive",
			input:  "hola mundo",
			limit:  0,
			expect: "",
		},
		{
			name:   "shorter than limit",
			input:  "hola",
			limit:  10,
			expect: "hola",
		},
		{
			name:   "truncates and adds ellipsis",
			input:  "hola mundo",
			limit:  4,
			expect: "hola...",
		},
		{
			name:   "trims surrounding whitespace",
			input:  "  espacios  ",
			limit:  4,
			expect: "espa...",
		},
		{
			name:   "counts runes not bytes",
			input:  "resolución",
			limit:  9,
			expect: "resolució...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}
