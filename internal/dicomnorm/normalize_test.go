package dicomnorm

import "testing"

func TestNormalizeTrimsCaseAndASCII(t *testing.T) {
	cases := map[string]string{
		"  1.2.3 ":       "1.2.3",
		"smith^john":     "SMITH^JOHN",
		"CaféName":  "CAFNAME",
		"already-upper!": "ALREADY-UPPER!",
		"":               "",
	}

	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{" 1.2.840.10008 ", "Jane^Doe", "  mixed\tWhitespace\n"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}
