package atom

import "testing"

func TestCompareStreamIDs(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1-1", "1-1", 0},
		{"1-1", "1-2", -1},
		{"1-2", "1-1", 1},
		{"1-5", "2-0", -1},
		{"2-0", "1-5", 1},
		{"bogus", "1-0", -1},
		{"1-0", "bogus", 1},
	}
	for _, tc := range cases {
		if got := compareStreamIDs(tc.a, tc.b); got != tc.want {
			t.Errorf("compareStreamIDs(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestParseStreamID(t *testing.T) {
	ms, seq, err := parseStreamID("1700000000000-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 1700000000000 || seq != 3 {
		t.Errorf("got (%d, %d), want (1700000000000, 3)", ms, seq)
	}

	if _, _, err := parseStreamID("not-an-id-at-all-extra"); err == nil {
		t.Error("expected error for malformed id")
	}
	if _, _, err := parseStreamID("nodash"); err == nil {
		t.Error("expected error for id with no dash")
	}
}
