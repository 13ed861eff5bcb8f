package contracts

import "fmt"

// Row is an immutable snapshot of one record plus the contract it was
// validated against. Access by normalized or original name is O(1)
// because it is served by the contract's own lookup indices; mutation is
// not exposed — callers that need a changed row must build a new one.
type Row struct {
	data     map[string]any
	contract *Contract
}

// NewRow wraps data with contract. data is copied so later mutation of the
// caller's map cannot violate the immutability guarantee.
func NewRow(data map[string]any, contract *Contract) *Row {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return &Row{data: cp, contract: contract}
}

// Contract returns the row's schema contract.
func (r *Row) Contract() *Contract { return r.contract }

// Get returns the value for key (original or normalized name) in O(1).
func (r *Row) Get(key string) (any, bool) {
	normalized, err := r.contract.ResolveName(key)
	if err != nil {
		v, ok := r.data[key]
		return v, ok
	}
	v, ok := r.data[normalized]
	return v, ok
}

// MustGet panics if key is absent; only used where presence has already
// been validated against the contract.
func (r *Row) MustGet(key string) any {
	v, ok := r.Get(key)
	if !ok {
		panic(fmt.Sprintf("contracts: row missing key %q", key))
	}
	return v
}

// Keys returns the normalized names present in the row's underlying data,
// which is not necessarily the same set as the contract's declared
// fields (FLEXIBLE/OBSERVED contracts allow extras).
func (r *Row) Keys() []string {
	keys := make([]string, 0, len(r.data))
	for k := range r.data {
		keys = append(keys, k)
	}
	return keys
}

// Data returns a defensive copy of the underlying data map, for handing
// off to canon.StableHash or a plugin that needs a plain map[string]any.
func (r *Row) Data() map[string]any {
	cp := make(map[string]any, len(r.data))
	for k, v := range r.data {
		cp[k] = v
	}
	return cp
}

// WithContract returns a new Row over the same data bound to a different
// (e.g. merged) contract, for re-validating already-collected data once a
// caller has a contract it did not have at construction time. The engine's
// own coalesce path (internal/engine/coalesce.go) merges branch rows as
// plain maps and does not currently carry per-branch contracts forward to
// rebind through WithContract; it is exercised by plugin and test code
// that does have both sides at hand.
func (r *Row) WithContract(contract *Contract) *Row {
	return NewRow(r.data, contract)
}
