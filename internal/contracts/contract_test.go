package contracts

import (
	"testing"

	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

func fixedIDNameContract(t *testing.T) *Contract {
	t.Helper()
	c := New(ModeFixed)
	var err error
	c, err = c.WithDeclaredField("id", "id", KindInt, true)
	if err != nil {
		t.Fatal(err)
	}
	c, err = c.WithDeclaredField("name", "name", KindStr, true)
	if err != nil {
		t.Fatal(err)
	}
	return c.WithLocked()
}

func TestFixedRejectsExtraField(t *testing.T) {
	c := fixedIDNameContract(t)
	violations := c.Validate(map[string]any{"id": 1, "name": "Alice", "extra": "x"})
	if len(violations) != 1 || violations[0].Kind != engineerr.ViolationExtraField {
		t.Fatalf("expected one ExtraField violation, got %v", violations)
	}
}

func TestFixedMissingRequiredField(t *testing.T) {
	c := fixedIDNameContract(t)
	violations := c.Validate(map[string]any{"id": 1})
	if len(violations) != 1 || violations[0].Kind != engineerr.ViolationMissingField {
		t.Fatalf("expected MissingField violation, got %v", violations)
	}
}

func TestFixedTypeMismatch(t *testing.T) {
	c := fixedIDNameContract(t)
	violations := c.Validate(map[string]any{"id": "not-an-int", "name": "Alice"})
	if len(violations) != 1 || violations[0].Kind != engineerr.ViolationTypeMismatch {
		t.Fatalf("expected TypeMismatch violation, got %v", violations)
	}
}

func TestAnyTypeSkipsValidation(t *testing.T) {
	c := New(ModeFixed)
	c, _ = c.WithDeclaredField("payload", "payload", KindAny, true)
	c = c.WithLocked()
	violations := c.Validate(map[string]any{"payload": 42})
	if len(violations) != 0 {
		t.Fatalf("any-typed field should skip type validation: %v", violations)
	}
}

func TestOptionalFieldAcceptsNone(t *testing.T) {
	c := New(ModeFlexible)
	c, _ = c.WithDeclaredField("note", "note", KindStr, false)
	violations := c.Validate(map[string]any{"note": nil})
	if len(violations) != 0 {
		t.Fatalf("optional field should accept None: %v", violations)
	}
}

func TestWithFieldRejectedWhenLocked(t *testing.T) {
	c := New(ModeObserved).WithLocked()
	if _, err := c.WithField("x", "x", 1); err == nil {
		t.Fatal("expected error adding a field to a locked contract")
	}
}

func TestWithFieldNeverRequired(t *testing.T) {
	c := New(ModeObserved)
	c, err := c.WithField("x", "x", 1)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := c.Field("x")
	if !ok || f.Required {
		t.Fatalf("inferred field must not be required: %+v", f)
	}
}

func TestMergeUnionAndPrecedence(t *testing.T) {
	a := New(ModeFixed)
	a, _ = a.WithDeclaredField("x", "x", KindInt, true)
	a, _ = a.WithDeclaredField("a_field", "a_field", KindStr, true)

	b := New(ModeFlexible)
	b, _ = b.WithDeclaredField("x", "x", KindInt, true)
	b, _ = b.WithDeclaredField("b_field", "b_field", KindStr, true)

	merged, err := a.Merge(b)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Mode() != ModeFixed {
		t.Fatalf("FIXED should win precedence, got %s", merged.Mode())
	}

	xf, _ := merged.Field("x")
	if !xf.Required {
		t.Fatal("field present in both with required=true should remain required")
	}
	af, _ := merged.Field("a_field")
	if af.Required {
		t.Fatal("field present in only one input must become non-required")
	}
	bf, _ := merged.Field("b_field")
	if bf.Required {
		t.Fatal("field present in only one input must become non-required")
	}
}

func TestMergeIncompatibleTypesFails(t *testing.T) {
	a := New(ModeObserved)
	a, _ = a.WithDeclaredField("x", "x", KindInt, true)
	b := New(ModeObserved)
	b, _ = b.WithDeclaredField("x", "x", KindStr, true)

	_, err := a.Merge(b)
	if err == nil {
		t.Fatal("expected ContractMergeError")
	}
	var cme *engineerr.ContractMergeError
	if !asContractMergeError(err, &cme) {
		t.Fatalf("expected ContractMergeError type, got %T: %v", err, err)
	}
}

func asContractMergeError(err error, target **engineerr.ContractMergeError) bool {
	if cme, ok := err.(*engineerr.ContractMergeError); ok {
		*target = cme
		return true
	}
	return false
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := fixedIDNameContract(t)
	data := c.ToCheckpointFormat()

	restored, err := FromCheckpoint(data)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Equal(restored) {
		t.Fatal("round-tripped contract must equal the original")
	}
}

func TestCheckpointTamperDetected(t *testing.T) {
	c := fixedIDNameContract(t)
	data := c.ToCheckpointFormat()
	data["version_hash"] = "deadbeef"

	_, err := FromCheckpoint(data)
	if err == nil {
		t.Fatal("expected DataIntegrityError on tampered version_hash")
	}
	if _, ok := err.(*engineerr.DataIntegrityError); !ok {
		t.Fatalf("expected DataIntegrityError, got %T", err)
	}
}

func TestResolveNameBothDirections(t *testing.T) {
	c := New(ModeObserved)
	c, _ = c.WithDeclaredField("my_field", "My Field", KindStr, false)

	if n, err := c.ResolveName("my_field"); err != nil || n != "my_field" {
		t.Fatalf("normalized lookup failed: %v %v", n, err)
	}
	if n, err := c.ResolveName("My Field"); err != nil || n != "my_field" {
		t.Fatalf("original lookup failed: %v %v", n, err)
	}
	if _, err := c.ResolveName("nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
