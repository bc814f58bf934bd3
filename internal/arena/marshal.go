package arena

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cryguy/scriptcage/internal/core"
)

// Value is a marshalled guest value. Primitives are carried as literals and
// own no slot; objects, arrays and byte arrays are held by a Handle.
type Value struct {
	expr   string
	handle *Handle
}

// Constant values that never need a handle.
var (
	Undefined = Value{expr: "undefined"}
	Null      = Value{expr: "null"}
	True      = Value{expr: "true"}
	False     = Value{expr: "false"}
)

// JS returns a guest expression that evaluates to the value.
func (v Value) JS() string {
	if v.expr == "" {
		return "undefined"
	}
	return v.expr
}

// Handle returns the backing handle, or nil for primitives.
func (v Value) Handle() *Handle { return v.handle }

// bytesGlobal is the scratch global used by the binary transfer path.
const bytesGlobal = "__arena_bytes"

// Marshal converts a host value into a guest value owned by scope.
//
// nil becomes null; bool, string and every numeric kind become literals;
// slices, arrays and maps keyed by strings are rebuilt recursively; []byte
// becomes an array of octets annotated with byteLength. Anything else
// (functions, channels, structs, complex numbers) becomes undefined.
func Marshal(scope *Scope, v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case *Handle:
		if t == nil {
			return Null, nil
		}
		return Value{expr: t.Ref(), handle: t}, nil
	case []byte:
		if t == nil {
			return Null, nil
		}
		h, err := marshalBytes(scope, t)
		if err != nil {
			return Undefined, err
		}
		return Value{expr: h.Ref(), handle: h}, nil
	}

	expr, composite, err := exprOf(scope, reflect.ValueOf(v))
	if err != nil {
		return Undefined, err
	}
	if !composite {
		return Value{expr: expr}, nil
	}
	h, err := scope.Alloc(expr)
	if err != nil {
		return Undefined, fmt.Errorf("marshalling %T: %w", v, err)
	}
	return Value{expr: h.Ref(), handle: h}, nil
}

// exprOf builds a guest expression for rv. composite reports whether the
// expression allocates an object.
func exprOf(scope *Scope, rv reflect.Value) (expr string, composite bool, err error) {
	if !rv.IsValid() {
		return "null", false, nil
	}
	if rv.CanInterface() {
		switch t := rv.Interface().(type) {
		case Value:
			return t.JS(), false, nil
		case *Handle:
			if t == nil {
				return "null", false, nil
			}
			return t.Ref(), false, nil
		case json.Number:
			return numberExpr(t), false, nil
		}
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return "null", false, nil
		}
		return exprOf(scope, rv.Elem())
	case reflect.Bool:
		if rv.Bool() {
			return "true", false, nil
		}
		return "false", false, nil
	case reflect.String:
		return core.JsEscape(rv.String()), false, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), false, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), false, nil
	case reflect.Float32, reflect.Float64:
		return floatExpr(rv.Float()), false, nil
	case reflect.Slice:
		if rv.IsNil() {
			return "null", false, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			h, err := marshalBytes(scope, rv.Bytes())
			if err != nil {
				return "", false, err
			}
			return h.Ref(), false, nil
		}
		return arrayExpr(scope, rv)
	case reflect.Array:
		return arrayExpr(scope, rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return "undefined", false, nil
		}
		if rv.IsNil() {
			return "null", false, nil
		}
		return objectExpr(scope, rv)
	default:
		return "undefined", false, nil
	}
}

func arrayExpr(scope *Scope, rv reflect.Value) (string, bool, error) {
	parts := make([]string, rv.Len())
	for i := range parts {
		e, _, err := exprOf(scope, rv.Index(i))
		if err != nil {
			return "", false, err
		}
		parts[i] = e
	}
	return "[" + strings.Join(parts, ", ") + "]", true, nil
}

func objectExpr(scope *Scope, rv reflect.Value) (string, bool, error) {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		e, _, err := exprOf(scope, rv.MapIndex(k))
		if err != nil {
			return "", false, err
		}
		// Computed keys so "__proto__" stays an own property.
		parts = append(parts, "["+core.JsEscape(k.String())+"]: "+e)
	}
	return "{" + strings.Join(parts, ", ") + "}", true, nil
}

func floatExpr(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0 && math.Signbit(f):
		return "-0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func numberExpr(n json.Number) string {
	if f, err := n.Float64(); err == nil {
		return floatExpr(f)
	}
	return "NaN"
}

// marshalBytes stores b as an annotated octet array in a new handle.
func marshalBytes(scope *Scope, b []byte) (*Handle, error) {
	if bt, ok := scope.a.rt.(core.BinaryTransferer); ok && len(b) > 0 {
		if err := bt.WriteBinaryToJS(bytesGlobal, b); err != nil {
			return nil, fmt.Errorf("transferring %d bytes: %w", len(b), err)
		}
		h, err := scope.Alloc("__bufToArray(globalThis." + bytesGlobal + ")")
		_ = scope.a.rt.Eval("delete globalThis." + bytesGlobal + ";")
		return h, err
	}
	return scope.Alloc(`__b64ToArray("` + base64.StdEncoding.EncodeToString(b) + `")`)
}
