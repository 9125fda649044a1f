package canon

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Cosine() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsAcronym(t *testing.T) {
	tests := []struct {
		short, long string
		want        bool
	}{
		{"IBM", "International Business Machines", true},
		{"IBM", "International Business Machines Corp", true},
		{"BoA", "Bank of America", false},
		{"BOA", "Bank of America", true},
		{"DOJ", "Department of Justice", true},
		{"MSFT", "Microsoft", false},
		{"MSFT", "Microsoft Corp", false},
		{"A", "Alpha", false},
		{"ABCDEFG", "A B C D E F G", false},
		{"NASA", "National Aeronautics and Space Administration", true},
		{"ibm", "International Business Machines", false},
	}

	for _, tc := range tests {
		t.Run(tc.short+"/"+tc.long, func(t *testing.T) {
			if got := isAcronym(tc.short, tc.long); got != tc.want {
				t.Fatalf("isAcronym(%q, %q) = %v, want %v", tc.short, tc.long, got, tc.want)
			}
		})
	}
}

func TestIsAbbreviation(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Microsoft Corp", "Microsoft", true},
		{"Microsoft Corp.", "Microsoft Corporation", true},
		{"Acme Inc", "ACME", true},
		{"St. Louis", "Saint Louis", true},
		{"Dr. Jane Doe", "Doctor Jane Doe", true},
		{"J. Smith", "John Smith", true},
		{"John R. Smith", "John Robert Smith", true},
		{"MSFT", "Microsoft", false},
		{"Microsoft", "Apple", false},
		{"J. Smith", "K. Smith", false},
		{"Acme Holdings", "Acme Logistics", false},
		{"A", "Alpha", false},
		// Initials alone never merge, and neither do single words.
		{"J. K.", "John Kennedy", false},
		{"M", "Microsoft", false},
	}

	for _, tc := range tests {
		t.Run(tc.a+"/"+tc.b, func(t *testing.T) {
			if got := isAbbreviation(tc.a, tc.b); got != tc.want {
				t.Fatalf("isAbbreviation(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestNormalizedForm(t *testing.T) {
	if got := normalizedForm("Acme Widgets Co., Ltd."); got != "acme widgets" {
		t.Fatalf("normalizedForm = %q", got)
	}
	if got := normalizedForm("Corp"); got != "corporation" {
		t.Fatalf("a lone suffix must survive, got %q", got)
	}
}
