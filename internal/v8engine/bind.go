//go:build v8

package v8engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	v8 "github.com/tommie/v8go"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// binding adapts a Go function to a guest callback. Parameters and the
// first result may be string, int, int64, float64 or bool; a trailing
// error result becomes a guest exception "calling <name>: <err>".
type binding struct {
	name     string
	fn       reflect.Value
	in       []reflect.Kind
	hasValue bool
	hasErr   bool
}

func newBinding(name string, fn any) (*binding, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("registering %s: expected a function, got %T", name, fn)
	}
	b := &binding{name: name, fn: v}
	for i := 0; i < t.NumIn(); i++ {
		b.in = append(b.in, t.In(i).Kind())
	}
	switch t.NumOut() {
	case 0:
	case 1:
		b.hasErr = t.Out(0) == errorType
		b.hasValue = !b.hasErr
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("registering %s: second result must be error", name)
		}
		b.hasValue, b.hasErr = true, true
	default:
		return nil, fmt.Errorf("registering %s: too many results", name)
	}
	return b, nil
}

func (b *binding) call(ctx *v8.Context, args []*v8.Value) (*v8.Value, error) {
	if len(args) < len(b.in) {
		return nil, fmt.Errorf("%s requires at least %d argument(s), got %d", b.name, len(b.in), len(args))
	}
	in := make([]reflect.Value, len(b.in))
	for i, kind := range b.in {
		in[i] = fromValue(args[i], kind)
	}
	out := b.fn.Call(in)
	if b.hasErr {
		if err, _ := out[len(out)-1].Interface().(error); err != nil {
			return nil, fmt.Errorf("calling %s: %v", b.name, err)
		}
	}
	if !b.hasValue {
		return nil, nil
	}
	return toValue(ctx, out[0].Interface())
}

func fromValue(v *v8.Value, kind reflect.Kind) reflect.Value {
	switch kind {
	case reflect.String:
		return reflect.ValueOf(v.String())
	case reflect.Int:
		return reflect.ValueOf(int(v.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(v.Integer())
	case reflect.Float64:
		return reflect.ValueOf(v.Number())
	case reflect.Bool:
		return reflect.ValueOf(v.Boolean())
	}
	panic(fmt.Sprintf("unsupported parameter kind %s", kind))
}

// toValue converts a basic Go value. Integers outside the int32 range
// become doubles; other types go through JSON.
func toValue(ctx *v8.Context, value any) (*v8.Value, error) {
	iso := ctx.Isolate()
	switch v := value.(type) {
	case nil:
		return v8.Undefined(iso), nil
	case string, bool, float64, int32:
		return v8.NewValue(iso, v)
	case int:
		return intValue(iso, int64(v))
	case int64:
		return intValue(iso, v)
	case *v8.Value:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshaling %T: %w", value, err)
	}
	return v8.JSONParse(ctx, string(data))
}

func intValue(iso *v8.Isolate, n int64) (*v8.Value, error) {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return v8.NewValue(iso, int32(n))
	}
	return v8.NewValue(iso, float64(n))
}
