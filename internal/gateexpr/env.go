package gateexpr

import (
	"fmt"
	"strconv"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// buildEnv constructs the CEL environment gate expressions compile
// against: a single `row` variable (string-keyed, dynamically-typed map),
// every standard macro disabled (ClearMacros) so `.map()`/`.filter()`/
// `.all()`/`.exists()` style comprehensions are unavailable at the
// grammar level, and the whitelisted builtins from spec §4.9 registered
// as custom functions where CEL's own standard library doesn't already
// provide them.
func buildEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.ClearMacros(),
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("get",
			cel.MemberOverload("row_get_default_absent",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(rowGet),
			),
			cel.MemberOverload("row_get_default_present",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType, cel.DynType},
				cel.DynType,
				cel.FunctionBinding(rowGetWithDefault),
			),
		),
		cel.Function("len",
			cel.Overload("len_dyn", []*cel.Type{cel.DynType}, cel.IntType, cel.UnaryBinding(builtinLen)),
		),
		cel.Function("str",
			cel.Overload("str_dyn", []*cel.Type{cel.DynType}, cel.StringType, cel.UnaryBinding(builtinStr)),
		),
		cel.Function("float",
			cel.Overload("float_dyn", []*cel.Type{cel.DynType}, cel.DoubleType, cel.UnaryBinding(builtinFloat)),
		),
		cel.Function("bool",
			cel.Overload("gate_bool_int", []*cel.Type{cel.IntType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return types.Bool(v.Value() != int64(0)) })),
			cel.Overload("gate_bool_double", []*cel.Type{cel.DoubleType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return types.Bool(v.Value() != float64(0)) })),
		),
		cel.Function("abs",
			cel.Overload("abs_int", []*cel.Type{cel.IntType}, cel.IntType, cel.UnaryBinding(builtinAbs)),
			cel.Overload("abs_double", []*cel.Type{cel.DoubleType}, cel.DoubleType, cel.UnaryBinding(builtinAbs)),
		),
	)
}

func rowGet(lhs, rhs ref.Val) ref.Val {
	m, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.NewErr("get: receiver is not a row")
	}
	key, ok := rhs.Value().(string)
	if !ok {
		return types.NewErr("get: key must be a string")
	}
	v, found := m[key]
	if !found {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(v)
}

func rowGetWithDefault(args ...ref.Val) ref.Val {
	m, ok := args[0].Value().(map[string]interface{})
	if !ok {
		return types.NewErr("get: receiver is not a row")
	}
	key, ok := args[1].Value().(string)
	if !ok {
		return types.NewErr("get: key must be a string")
	}
	if v, found := m[key]; found {
		return types.DefaultTypeAdapter.NativeToValue(v)
	}
	return args[2]
}

func builtinLen(v ref.Val) ref.Val {
	switch x := v.Value().(type) {
	case string:
		return types.Int(len(x))
	case []interface{}:
		return types.Int(len(x))
	case map[string]interface{}:
		return types.Int(len(x))
	case nil:
		return types.NewErr("len: argument is None")
	default:
		return types.NewErr("len: unsupported type %T", x)
	}
}

func builtinStr(v ref.Val) ref.Val {
	if v == types.NullValue || v.Value() == nil {
		return types.String("None")
	}
	switch x := v.Value().(type) {
	case string:
		return types.String(x)
	case bool:
		if x {
			return types.String("True")
		}
		return types.String("False")
	default:
		return types.String(fmt.Sprintf("%v", x))
	}
}

func builtinFloat(v ref.Val) ref.Val {
	switch x := v.Value().(type) {
	case float64:
		return types.Double(x)
	case int64:
		return types.Double(float64(x))
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return types.NewErr("float: evaluation error: %v", err)
		}
		return types.Double(f)
	default:
		return types.NewErr("float: unsupported type %T", x)
	}
}

func builtinAbs(v ref.Val) ref.Val {
	switch x := v.Value().(type) {
	case int64:
		if x < 0 {
			x = -x
		}
		return types.Int(x)
	case float64:
		if x < 0 {
			x = -x
		}
		return types.Double(x)
	default:
		return types.NewErr("abs: unsupported type %T", x)
	}
}
