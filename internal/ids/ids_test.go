package ids

import (
	"encoding/json"
	"testing"
)

func TestStreamIDRoundTrip(t *testing.T) {
	cases := []struct {
		b36 string
		b10 int64
	}{
		{"1", 1},
		{"z", 35},
		{"10", 36},
		{"abc123", 623698779},
	}

	for _, tc := range cases {
		id, err := FromB36(tc.b36)
		if err != nil {
			t.Fatalf("FromB36(%q): %v", tc.b36, err)
		}
		if id.B10() != tc.b10 {
			t.Fatalf("FromB36(%q).B10() = %d, want %d", tc.b36, id.B10(), tc.b10)
		}
		if got := id.B36(); got != tc.b36 {
			t.Fatalf("round trip %q -> %d -> %q", tc.b36, id.B10(), got)
		}
		if got := FromB10(tc.b10).B36(); got != tc.b36 {
			t.Fatalf("FromB10(%d).B36() = %q, want %q", tc.b10, got, tc.b36)
		}
	}
}

func TestFromB36Rejects(t *testing.T) {
	for _, s := range []string{"", "not/valid", "ABC", "-1"} {
		if _, err := FromB36(s); err == nil {
			t.Fatalf("FromB36(%q) did not error", s)
		}
	}
}

func TestIDUnmarshalNumberOrString(t *testing.T) {
	var got struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 1234, "b": "5678"}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.A != 1234 || got.B != 5678 {
		t.Fatalf("got a=%d b=%d", got.A, got.B)
	}

	if err := json.Unmarshal([]byte(`{"a": "abc"}`), &got); err == nil {
		t.Fatalf("expected error for non-numeric string id")
	}
}
