// Package contracts implements SchemaContract and PipelineRow (spec §3,
// §4.3): per-node immutable typed contracts with O(1) dual-name lookup,
// first-row type locking, coalesce-point merge, and checkpoint
// round-trip with hash integrity.
package contracts

import (
	"fmt"
	"sort"
	"time"

	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// Kind is the closed set of primitive field kinds. Python's `type` object
// is not representable in Go and is not needed: every value the engine
// ever sees normalizes to one of these.
type Kind string

const (
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindBool     Kind = "bool"
	KindStr      Kind = "str"
	KindDatetime Kind = "datetime"
	KindNone     Kind = "none_type"
	KindAny      Kind = "any"
)

// FieldSource records whether a field was declared by configuration or
// inferred from observed data.
type FieldSource string

const (
	SourceDeclared FieldSource = "declared"
	SourceInferred FieldSource = "inferred"
)

// Mode is the schema contract's enforcement mode.
type Mode string

const (
	ModeFixed    Mode = "FIXED"
	ModeFlexible Mode = "FLEXIBLE"
	ModeObserved Mode = "OBSERVED"
)

func modeRank(m Mode) int {
	switch m {
	case ModeFixed:
		return 2
	case ModeFlexible:
		return 1
	default:
		return 0
	}
}

// FieldContract describes one field in a contract.
type FieldContract struct {
	NormalizedName string
	OriginalName   string
	Kind           Kind
	Required       bool
	Source         FieldSource
}

// Contract is an immutable, per-node schema contract. Every mutator
// returns a new Contract; the receiver is never modified.
type Contract struct {
	mode   Mode
	fields []FieldContract
	locked bool

	byNormalized map[string]int
	byOriginal   map[string]int
}

// New creates an empty contract in the given mode.
func New(mode Mode) *Contract {
	return &Contract{
		mode:         mode,
		fields:       nil,
		byNormalized: map[string]int{},
		byOriginal:   map[string]int{},
	}
}

// Mode returns the contract's enforcement mode.
func (c *Contract) Mode() Mode { return c.mode }

// Locked reports whether the contract's types are frozen.
func (c *Contract) Locked() bool { return c.locked }

// Fields returns the ordered field tuple. The slice is a defensive copy.
func (c *Contract) Fields() []FieldContract {
	out := make([]FieldContract, len(c.fields))
	copy(out, c.fields)
	return out
}

func (c *Contract) clone() *Contract {
	nc := &Contract{
		mode:         c.mode,
		fields:       make([]FieldContract, len(c.fields)),
		locked:       c.locked,
		byNormalized: make(map[string]int, len(c.byNormalized)),
		byOriginal:   make(map[string]int, len(c.byOriginal)),
	}
	copy(nc.fields, c.fields)
	for k, v := range c.byNormalized {
		nc.byNormalized[k] = v
	}
	for k, v := range c.byOriginal {
		nc.byOriginal[k] = v
	}
	return nc
}

// ResolveName accepts either the original or normalized name and returns
// the field's normalized_name in O(1).
func (c *Contract) ResolveName(key string) (string, error) {
	if idx, ok := c.byNormalized[key]; ok {
		return c.fields[idx].NormalizedName, nil
	}
	if idx, ok := c.byOriginal[key]; ok {
		return c.fields[idx].NormalizedName, nil
	}
	return "", fmt.Errorf("contracts: unknown field %q", key)
}

// Field returns the FieldContract for a resolvable key in O(1).
func (c *Contract) Field(key string) (FieldContract, bool) {
	if idx, ok := c.byNormalized[key]; ok {
		return c.fields[idx], true
	}
	if idx, ok := c.byOriginal[key]; ok {
		return c.fields[idx], true
	}
	return FieldContract{}, false
}

// WithField returns a new contract with the given field appended.
// Inferred fields are never marked required. Rejected if the field is
// already present, or the contract is locked.
func (c *Contract) WithField(normalized, original string, sampleValue any) (*Contract, error) {
	if c.locked {
		return nil, fmt.Errorf("contracts: cannot add field %q: contract is locked", normalized)
	}
	if _, exists := c.byNormalized[normalized]; exists {
		return nil, fmt.Errorf("contracts: field %q already present", normalized)
	}

	nc := c.clone()
	field := FieldContract{
		NormalizedName: normalized,
		OriginalName:   original,
		Kind:           NormalizeType(sampleValue),
		Required:       false,
		Source:         SourceInferred,
	}
	nc.fields = append(nc.fields, field)
	idx := len(nc.fields) - 1
	nc.byNormalized[normalized] = idx
	if original != "" {
		nc.byOriginal[original] = idx
	}
	return nc, nil
}

// WithDeclaredField is the declared-field counterpart to WithField, used
// when building a FIXED/FLEXIBLE contract from configuration rather than
// from observed data.
func (c *Contract) WithDeclaredField(normalized, original string, kind Kind, required bool) (*Contract, error) {
	if c.locked {
		return nil, fmt.Errorf("contracts: cannot add field %q: contract is locked", normalized)
	}
	if _, exists := c.byNormalized[normalized]; exists {
		return nil, fmt.Errorf("contracts: field %q already present", normalized)
	}

	nc := c.clone()
	field := FieldContract{
		NormalizedName: normalized,
		OriginalName:   original,
		Kind:           kind,
		Required:       required,
		Source:         SourceDeclared,
	}
	nc.fields = append(nc.fields, field)
	idx := len(nc.fields) - 1
	nc.byNormalized[normalized] = idx
	if original != "" {
		nc.byOriginal[original] = idx
	}
	return nc, nil
}

// WithLocked returns a new contract with locked=true.
func (c *Contract) WithLocked() *Contract {
	nc := c.clone()
	nc.locked = true
	return nc
}

// Validate checks row against the contract and returns every violation
// found (not just the first).
func (c *Contract) Validate(row map[string]any) []engineerr.Violation {
	var violations []engineerr.Violation

	seen := make(map[string]bool, len(row))
	for key, value := range row {
		normalized, err := c.ResolveName(key)
		if err != nil {
			if c.mode == ModeFixed {
				violations = append(violations, engineerr.Violation{
					Kind:  engineerr.ViolationExtraField,
					Field: key,
					Detail: "field not present in FIXED contract",
				})
			}
			continue
		}
		seen[normalized] = true

		field, _ := c.Field(normalized)
		if field.Kind == KindAny {
			continue
		}
		if value == nil {
			if !field.Required {
				continue
			}
			violations = append(violations, engineerr.Violation{
				Kind:  engineerr.ViolationTypeMismatch,
				Field: normalized,
				Detail: "required field received None",
			})
			continue
		}
		got := NormalizeType(value)
		if got != field.Kind {
			violations = append(violations, engineerr.Violation{
				Kind:  engineerr.ViolationTypeMismatch,
				Field: normalized,
				Detail: fmt.Sprintf("expected %s, got %s", field.Kind, got),
			})
		}
	}

	for _, f := range c.fields {
		if f.Required && !seen[f.NormalizedName] {
			violations = append(violations, engineerr.Violation{
				Kind:  engineerr.ViolationMissingField,
				Field: f.NormalizedName,
				Detail: "required field absent",
			})
		}
	}

	return violations
}

// ValidateRow is Validate over a Row already bound to this contract, for
// callers on the engine's node-entry path that carry a Row rather than a
// bare map — Row.Get/Keys resolve through the same O(1) indices Validate
// itself uses internally.
func (c *Contract) ValidateRow(r *Row) []engineerr.Violation {
	return c.Validate(r.Data())
}

// Merge implements the coalesce-point union described in spec §4.3: mode
// precedence FIXED > FLEXIBLE > OBSERVED; a field present in both inputs
// must share an identical Kind (else ContractMergeError); a field present
// in only one becomes non-required; the result is locked if either input
// is locked; "declared" wins over "inferred" as the source.
func (c *Contract) Merge(other *Contract) (*Contract, error) {
	mode := c.mode
	if modeRank(other.mode) > modeRank(mode) {
		mode = other.mode
	}

	merged := New(mode)
	order := []string{}
	byName := map[string]FieldContract{}

	otherNames := map[string]bool{}
	for _, f := range other.fields {
		otherNames[f.NormalizedName] = true
	}

	for _, f := range c.fields {
		order = append(order, f.NormalizedName)
		if !otherNames[f.NormalizedName] {
			cp := f
			cp.Required = false
			byName[f.NormalizedName] = cp
			continue
		}
		byName[f.NormalizedName] = f
	}
	for _, f := range other.fields {
		existing, ok := byName[f.NormalizedName]
		if !ok {
			order = append(order, f.NormalizedName)
			cp := f
			cp.Required = false
			byName[f.NormalizedName] = cp
			continue
		}
		if existing.Kind != KindAny && f.Kind != KindAny && existing.Kind != f.Kind {
			return nil, &engineerr.ContractMergeError{
				Field: f.NormalizedName,
				TypeA: string(existing.Kind),
				TypeB: string(f.Kind),
			}
		}
		merged1 := existing
		if existing.Source == SourceInferred && f.Source == SourceDeclared {
			merged1.Source = SourceDeclared
			merged1.OriginalName = f.OriginalName
			if existing.Kind == KindAny {
				merged1.Kind = f.Kind
			}
		}
		merged1.Required = existing.Required && f.Required
		byName[f.NormalizedName] = merged1
	}

	for _, name := range order {
		f := byName[name]
		var err error
		if f.Source == SourceDeclared {
			merged, err = merged.WithDeclaredField(f.NormalizedName, f.OriginalName, f.Kind, f.Required)
		} else {
			merged, err = merged.withInferredField(f)
		}
		if err != nil {
			return nil, err
		}
	}

	merged.locked = c.locked || other.locked
	return merged, nil
}

func (c *Contract) withInferredField(f FieldContract) (*Contract, error) {
	nc := c.clone()
	nc.fields = append(nc.fields, f)
	idx := len(nc.fields) - 1
	nc.byNormalized[f.NormalizedName] = idx
	if f.OriginalName != "" {
		nc.byOriginal[f.OriginalName] = idx
	}
	return nc, nil
}

// VersionHash returns a deterministic hash over {mode, locked, sorted
// fields}, used to detect drift across checkpoint round-trips.
func (c *Contract) VersionHash() string {
	return canon.MustStableHash(c.checkpointPayload())
}

func (c *Contract) checkpointPayload() map[string]any {
	sorted := make([]FieldContract, len(c.fields))
	copy(sorted, c.fields)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].NormalizedName < sorted[j].NormalizedName
	})

	fields := make([]any, 0, len(sorted))
	for _, f := range sorted {
		fields = append(fields, map[string]any{
			"normalized_name": f.NormalizedName,
			"original_name":   f.OriginalName,
			"python_type":     string(f.Kind),
			"required":        f.Required,
			"source":          string(f.Source),
		})
	}

	return map[string]any{
		"mode":   string(c.mode),
		"locked": c.locked,
		"fields": fields,
	}
}

// ToCheckpointFormat serializes the contract for persistence alongside a
// checkpoint, embedding its own version_hash for round-trip verification.
func (c *Contract) ToCheckpointFormat() map[string]any {
	payload := c.checkpointPayload()
	payload["version_hash"] = c.VersionHash()
	// Preserve field insertion order explicitly since the checkpoint
	// payload above is sorted for hash stability.
	fields := make([]any, 0, len(c.fields))
	for _, f := range c.fields {
		fields = append(fields, map[string]any{
			"normalized_name": f.NormalizedName,
			"original_name":   f.OriginalName,
			"python_type":     string(f.Kind),
			"required":        f.Required,
			"source":          string(f.Source),
		})
	}
	payload["fields"] = fields
	return payload
}

// FromCheckpoint reconstructs a Contract from ToCheckpointFormat's output,
// failing with DataIntegrityError if the embedded version_hash does not
// match the recomputed hash (a corrupt or version-mismatched checkpoint).
func FromCheckpoint(data map[string]any) (*Contract, error) {
	mode, _ := data["mode"].(string)
	locked, _ := data["locked"].(bool)
	wantHash, _ := data["version_hash"].(string)
	rawFields, _ := data["fields"].([]any)

	c := New(Mode(mode))
	for _, rf := range rawFields {
		fm, ok := rf.(map[string]any)
		if !ok {
			return nil, &engineerr.DataIntegrityError{Subject: "checkpoint contract field", Expected: "map", Actual: fmt.Sprintf("%T", rf)}
		}
		normalized, _ := fm["normalized_name"].(string)
		original, _ := fm["original_name"].(string)
		kind, _ := fm["python_type"].(string)
		required, _ := fm["required"].(bool)
		source, _ := fm["source"].(string)

		var err error
		if FieldSource(source) == SourceDeclared {
			c, err = c.WithDeclaredField(normalized, original, Kind(kind), required)
		} else {
			c, err = c.withInferredField(FieldContract{
				NormalizedName: normalized,
				OriginalName:   original,
				Kind:           Kind(kind),
				Required:       required,
				Source:         FieldSource(source),
			})
		}
		if err != nil {
			return nil, err
		}
	}
	c.locked = locked

	gotHash := c.VersionHash()
	if wantHash != "" && gotHash != wantHash {
		return nil, &engineerr.DataIntegrityError{
			Subject:  "contract checkpoint version_hash",
			Expected: wantHash,
			Actual:   gotHash,
		}
	}

	return c, nil
}

// Equal reports structural equality of two contracts (same mode, lock
// state, and set of fields; fields are compared through VersionHash, so
// their order does not matter) — used by round-trip tests.
func (c *Contract) Equal(other *Contract) bool {
	if other == nil {
		return false
	}
	return c.VersionHash() == other.VersionHash() && c.mode == other.mode && c.locked == other.locked
}

// NormalizeType maps an arbitrary Go value to its closed Kind per the type
// normalization policy in spec §4.3: arbitrary-precision integers -> int;
// numeric primitives map to their primitive kind; time.Time -> datetime;
// everything else normalizes to `any`.
func NormalizeType(value any) Kind {
	switch value.(type) {
	case nil:
		return KindNone
	case bool:
		return KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case string:
		return KindStr
	case time.Time:
		return KindDatetime
	default:
		return KindAny
	}
}
