package canon

import (
	"math"
	"testing"
)

func TestMarshalKeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	ba, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	bb, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(ba) != string(bb) {
		t.Fatalf("key reordering changed bytes: %q vs %q", ba, bb)
	}
	if string(ba) != `{"a":2,"b":1,"c":3}` {
		t.Fatalf("unexpected canonical bytes: %q", ba)
	}
}

func TestMarshalRejectsNaNAndInf(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Marshal(map[string]any{"x": v}); err == nil {
			t.Fatalf("expected error for %v", v)
		}
	}
}

func TestMarshalNoneDistinctFromAbsent(t *testing.T) {
	withNull, _ := Marshal(map[string]any{"x": nil})
	absent, _ := Marshal(map[string]any{})
	if string(withNull) == string(absent) {
		t.Fatal("None must serialize distinctly from absent key")
	}
	if string(withNull) != `{"x":null}` {
		t.Fatalf("unexpected: %q", withNull)
	}
}

func TestMarshalLargeIntegerAsString(t *testing.T) {
	big := int64(1) << 60
	out, err := Marshal(map[string]any{"x": big})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"x":"1152921504606846976"}`
	if string(out) != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestStableHashDeterministic(t *testing.T) {
	h1, err := StableHash(map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := StableHash(map[string]any{"b": "x", "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash should be order-independent: %s vs %s", h1, h2)
	}
	if len(h1) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(h1))
	}

	h3, _ := StableHash(map[string]any{"a": 1, "b": "y"})
	if h1 == h3 {
		t.Fatal("distinct values must hash distinctly")
	}
}
