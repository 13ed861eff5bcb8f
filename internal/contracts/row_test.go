package contracts

import "testing"

func TestRowGetResolvesByOriginalOrNormalizedName(t *testing.T) {
	c := New(ModeFlexible)
	c, err := c.WithField("user_id", "User ID", 1)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRow(map[string]any{"user_id": 7}, c)

	if v, ok := r.Get("user_id"); !ok || v != 7 {
		t.Fatalf("expected Get by normalized name to return 7, got %v, %v", v, ok)
	}
	if v, ok := r.Get("User ID"); !ok || v != 7 {
		t.Fatalf("expected Get by original name to return 7, got %v, %v", v, ok)
	}
}

func TestRowIsImmutableSnapshot(t *testing.T) {
	c := New(ModeFlexible)
	data := map[string]any{"a": 1}
	r := NewRow(data, c)
	data["a"] = 2

	v, _ := r.Get("a")
	if v != 1 {
		t.Fatalf("expected Row snapshot unaffected by later mutation of source map, got %v", v)
	}
}

func TestRowWithContractRebindsSameData(t *testing.T) {
	a := fixedIDNameContract(t)
	r := NewRow(map[string]any{"id": 1, "name": "Alice"}, a)

	b := New(ModeFlexible)
	rebound := r.WithContract(b)

	if rebound.Contract() != b {
		t.Fatalf("expected rebound Row to carry the new contract")
	}
	if v, ok := rebound.Get("id"); !ok || v != 1 {
		t.Fatalf("expected rebound Row to retain original data, got %v, %v", v, ok)
	}
}

func TestContractValidateRowMatchesValidate(t *testing.T) {
	c := fixedIDNameContract(t)
	row := map[string]any{"id": 1, "name": "Alice"}

	fromMap := c.Validate(row)
	fromRow := c.ValidateRow(NewRow(row, c))

	if len(fromMap) != 0 || len(fromRow) != 0 {
		t.Fatalf("expected both validation paths to accept a conforming row, got %v / %v", fromMap, fromRow)
	}
}
