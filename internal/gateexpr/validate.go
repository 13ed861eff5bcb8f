package gateexpr

import (
	"fmt"

	celpb "cel.dev/expr"
)

// allowedCallFunctions whitelists every operator and named function the
// gate language permits: arithmetic, comparison, boolean, membership,
// ternary, and index operators (CEL's internal operator names), plus the
// builtins spec §4.9 names (get, len, str, int, float, bool, abs — size
// and double are CEL's native spellings of len/float and are allowed too
// since the engine may compile either form).
var allowedCallFunctions = map[string]bool{
	"_+_": true, "_-_": true, "_*_": true, "_/_": true, "_%_": true,
	"-_": true,
	"_==_": true, "_!=_": true, "_<_": true, "_<=_": true, "_>_": true, "_>=_": true,
	"_&&_": true, "_||_": true, "!_": true,
	"_in_":   true,
	"_?_:_":  true,
	"_[_]":   true,
	"get":    true,
	"size":   true,
	"len":    true,
	"int":    true,
	"double": true,
	"float":  true,
	"string": true,
	"str":    true,
	"bool":   true,
	"abs":    true,
}

// validateExpr walks the parsed expression tree and rejects every
// construct outside spec §4.9's whitelist: arbitrary names other than
// `row`, attribute access other than `row.get`, any function call not in
// allowedCallFunctions, and comprehensions (which should already be
// unreachable with macros cleared, but are checked defensively in case a
// future CEL version expresses them without a macro).
func validateExpr(e *celpb.Expr) error {
	if e == nil {
		return nil
	}

	switch kind := e.GetExprKind().(type) {
	case *celpb.Expr_ConstExpr:
		return nil

	case *celpb.Expr_IdentExpr:
		if kind.IdentExpr.GetName() != "row" {
			return fmt.Errorf("forbidden name %q: only \"row\" is a valid identifier", kind.IdentExpr.GetName())
		}
		return nil

	case *celpb.Expr_SelectExpr:
		return fmt.Errorf("forbidden attribute access %q: use row[key] or row.get(key) instead", kind.SelectExpr.GetField())

	case *celpb.Expr_CallExpr:
		call := kind.CallExpr
		if !allowedCallFunctions[call.GetFunction()] {
			return fmt.Errorf("forbidden function call %q", call.GetFunction())
		}
		if call.GetFunction() == "get" {
			n := len(call.GetArgs())
			if n < 1 || n > 2 {
				return fmt.Errorf("row.get requires 1 or 2 arguments, got %d", n)
			}
		}
		if target := call.GetTarget(); target != nil {
			if err := validateExpr(target); err != nil {
				return err
			}
		}
		for _, a := range call.GetArgs() {
			if err := validateExpr(a); err != nil {
				return err
			}
		}
		return nil

	case *celpb.Expr_ListExpr:
		for _, el := range kind.ListExpr.GetElements() {
			if err := validateExpr(el); err != nil {
				return err
			}
		}
		return nil

	case *celpb.Expr_StructExpr:
		if kind.StructExpr.GetMessageName() != "" {
			return fmt.Errorf("forbidden struct literal %q", kind.StructExpr.GetMessageName())
		}
		for _, entry := range kind.StructExpr.GetEntries() {
			if mapKey := entry.GetMapKey(); mapKey != nil {
				if err := validateExpr(mapKey); err != nil {
					return err
				}
			}
			if err := validateExpr(entry.GetValue()); err != nil {
				return err
			}
		}
		return nil

	case *celpb.Expr_ComprehensionExpr:
		return fmt.Errorf("comprehensions and generator expressions are forbidden")

	default:
		return fmt.Errorf("unsupported expression construct")
	}
}
