package invoice

import (
	"errors"
	"testing"
)

func TestNumberUsesStorePrefixAndPaddedSequence(t *testing.T) {
	got, err := Number("Downtown", 4)
	if err != nil {
		t.Fatalf("number failed: %v", err)
	}
	if got != "DOWNVOYA0004" {
		t.Fatalf("expected DOWNVOYA0004, got %s", got)
	}
}

func TestPrefixSkipsDigitsSpacesAndSymbols(t *testing.T) {
	cases := map[string]string{
		"Delhi":        "DELHVOYA",
		"MG Road":      "MGROVOYA",
		"  a-1 Mall":   "AMALVOYA",
		"7th Ave":      "THAVVOYA",
		"2024":         "STORVOYA",
		"Pune":         "PUNEVOYA",
		"Goa":          "GOAVOYA",
		"":             "STORVOYA",
		"---":          "STORVOYA",
		"Bandra West!": "BANDVOYA",
	}
	for name, want := range cases {
		if got := Prefix(name); got != want {
			t.Fatalf("prefix(%q): expected %s, got %s", name, want, got)
		}
	}
}

func TestFormatCapacity(t *testing.T) {
	last, err := Format("DOWNVOYA", MaxSequence)
	if err != nil || last != "DOWNVOYA9999" {
		t.Fatalf("expected DOWNVOYA9999, got %q (%v)", last, err)
	}

	_, err = Format("DOWNVOYA", MaxSequence+1)
	if !errors.Is(err, ErrSequenceExhausted) {
		t.Fatalf("expected ErrSequenceExhausted, got %v", err)
	}

	_, err = Format("DOWNVOYA", 0)
	if !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}
}
