package atom

import "testing"

func TestMajorMinor(t *testing.T) {
	cases := map[string]float64{
		"1.0":   1,
		"0.3":   0,
		"2.15":  2,
		"3":     3,
	}
	for v, want := range cases {
		if got := majorMinor(v); got != want {
			t.Errorf("majorMinor(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestToFloat(t *testing.T) {
	if f, ok := toFloat(float64(1.5)); !ok || f != 1.5 {
		t.Errorf("toFloat(float64) = (%v, %v)", f, ok)
	}
	if f, ok := toFloat(int(3)); !ok || f != 3 {
		t.Errorf("toFloat(int) = (%v, %v)", f, ok)
	}
	if _, ok := toFloat("nope"); ok {
		t.Error("toFloat(string) should fail")
	}
}

func TestContains(t *testing.T) {
	list := []string{"Go", "Python"}
	if !contains(list, "Go") {
		t.Error("contains should find Go")
	}
	if contains(list, "Rust") {
		t.Error("contains should not find Rust")
	}
}
