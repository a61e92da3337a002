package utils

import (
	"strings"
	"testing"
)

func TestGenerateRoomID_ShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRoomID()
		if len(id) != roomIDLength {
			t.Fatalf("unexpected length %d for %q", len(id), id)
		}
		for _, c := range id {
			if !strings.ContainsRune(roomIDAlphabet, c) {
				t.Fatalf("unexpected character %q in %q", c, id)
			}
		}
		if !ValidRoomID(id) {
			t.Fatalf("generated id %q failed validation", id)
		}
		seen[id] = true
	}
	if len(seen) < 99 {
		t.Fatalf("expected near-unique ids, got %d distinct out of 100", len(seen))
	}
}

func TestGeneratePeerID_Unique(t *testing.T) {
	a := GeneratePeerID()
	b := GeneratePeerID()
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty peer ids, got %q and %q", a, b)
	}
}

func TestValidRoomID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"abc12345", true},
		{"room-1_x", true},
		{"", false},
		{"UPPER123", false},
		{"has space", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tc := range cases {
		if got := ValidRoomID(tc.id); got != tc.want {
			t.Errorf("ValidRoomID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
