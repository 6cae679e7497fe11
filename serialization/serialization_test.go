package serialization_test

import (
	"testing"

	"github.com/npekslin/atom/serialization"
)

// TestRoundTrip verifies spec.md §8's round-trip law: for every
// registered codec and representable value,
// deserialize(serialize(v)) == v.
func TestRoundTrip(t *testing.T) {
	r := serialization.NewRegistry()

	cases := []struct {
		tag string
		in  interface{}
	}{
		{serialization.Msgpack, map[string]interface{}{"a": int64(1), "b": "two"}},
		{serialization.Msgpack, []interface{}{int64(1), int64(2), int64(3)}},
		{serialization.Msgpack, "hello"},
		{serialization.None, []byte("raw bytes")},
	}

	for _, tc := range cases {
		encoded, err := r.Serialize(tc.tag, tc.in)
		if err != nil {
			t.Fatalf("serialize(%q, %v): %v", tc.tag, tc.in, err)
		}
		decoded, err := r.Deserialize(tc.tag, encoded)
		if err != nil {
			t.Fatalf("deserialize(%q, ...): %v", tc.tag, err)
		}

		switch want := tc.in.(type) {
		case []byte:
			got, ok := decoded.([]byte)
			if !ok || string(got) != string(want) {
				t.Errorf("tag %q: got %v, want %v", tc.tag, decoded, want)
			}
		case string:
			got, ok := decoded.(string)
			if !ok || got != want {
				t.Errorf("tag %q: got %v, want %v", tc.tag, decoded, want)
			}
		}
	}
}

// TestNoneCodecIsByteIdentity verifies spec.md §8's "none codec is
// bytes-identity" round-trip law explicitly.
func TestNoneCodecIsByteIdentity(t *testing.T) {
	r := serialization.NewRegistry()
	in := []byte("unchanged")
	encoded, err := r.Serialize(serialization.None, in)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if string(encoded) != string(in) {
		t.Fatalf("none codec must be identity on serialize, got %q want %q", encoded, in)
	}
	decoded, err := r.Deserialize(serialization.None, encoded)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	got, ok := decoded.([]byte)
	if !ok || string(got) != string(in) {
		t.Fatalf("none codec must be identity on deserialize, got %v want %q", decoded, in)
	}
}

func TestUnknownTagIsError(t *testing.T) {
	r := serialization.NewRegistry()
	if r.IsValid("not-a-real-tag") {
		t.Fatal("expected unregistered tag to be invalid")
	}
	if _, err := r.Serialize("not-a-real-tag", "x"); err != serialization.ErrUnknownTag {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestResolveLegacyTag(t *testing.T) {
	yes, no := true, false
	cases := []struct {
		tag       string
		legacy    *bool
		wantTag   string
	}{
		{"msgpack", nil, "msgpack"},        // explicit tag always wins
		{"msgpack", &yes, "msgpack"},
		{"", &yes, "msgpack"},
		{"", &no, "none"},
		{"", nil, "none"},
	}
	for _, tc := range cases {
		got := serialization.ResolveLegacyTag(tc.tag, tc.legacy)
		if got != tc.wantTag {
			t.Errorf("ResolveLegacyTag(%q, %v) = %q, want %q", tc.tag, tc.legacy, got, tc.wantTag)
		}
	}
}
