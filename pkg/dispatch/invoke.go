package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
)

// bindJSONPositional decodes a JSON params array into the callable's typed
// arguments. Trailing parameters may be omitted when their type is a
// pointer; any other shortfall, and any oversupply, is an invalid-params
// fault.
func (d *Descriptor) bindJSONPositional(raws []json.RawMessage) ([]reflect.Value, *Fault) {
	if len(raws) > len(d.argTypes) {
		return nil, invalidParams("too many arguments, want at most %d", len(d.argTypes))
	}
	args := make([]reflect.Value, len(d.argTypes))
	for i, t := range d.argTypes {
		if i >= len(raws) {
			if t.Kind() != reflect.Ptr {
				return nil, invalidParams("missing value for required argument %q", d.paramNames[i])
			}
			args[i] = reflect.Zero(t)
			continue
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(raws[i], ptr.Interface()); err != nil {
			return nil, invalidParams("invalid argument %q: %v", d.paramNames[i], err)
		}
		args[i] = ptr.Elem()
	}
	return args, nil
}

// bindJSONNamed decodes a JSON params object by matching member names
// against the declared parameter names. Unknown members are rejected so a
// misspelled name fails loudly instead of silently binding a zero value.
func (d *Descriptor) bindJSONNamed(fields map[string]json.RawMessage) ([]reflect.Value, *Fault) {
	known := make(map[string]int, len(d.paramNames))
	for i, name := range d.paramNames {
		known[name] = i
	}
	for name := range fields {
		if _, ok := known[name]; !ok {
			return nil, invalidParams("unknown parameter %q", name)
		}
	}
	args := make([]reflect.Value, len(d.argTypes))
	for i, t := range d.argTypes {
		raw, ok := fields[d.paramNames[i]]
		if !ok {
			if t.Kind() != reflect.Ptr {
				return nil, invalidParams("missing value for required argument %q", d.paramNames[i])
			}
			args[i] = reflect.Zero(t)
			continue
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, invalidParams("invalid argument %q: %v", d.paramNames[i], err)
		}
		args[i] = ptr.Elem()
	}
	return args, nil
}

// bindValues adapts already-decoded native values (the XML path) into the
// callable's typed arguments, with the same optionality rules as the JSON
// binders.
func (d *Descriptor) bindValues(vals []any) ([]reflect.Value, *Fault) {
	if len(vals) > len(d.argTypes) {
		return nil, invalidParams("too many arguments, want at most %d", len(d.argTypes))
	}
	args := make([]reflect.Value, len(d.argTypes))
	for i, t := range d.argTypes {
		if i >= len(vals) {
			if t.Kind() != reflect.Ptr {
				return nil, invalidParams("missing value for required argument %q", d.paramNames[i])
			}
			args[i] = reflect.Zero(t)
			continue
		}
		v, err := coerceValue(vals[i], t)
		if err != nil {
			return nil, invalidParams("invalid argument %q: %v", d.paramNames[i], err)
		}
		args[i] = v
	}
	return args, nil
}

// coerceValue adapts one decoded wire value to the callable's argument type:
// direct assignment when possible, numeric conversion next, and a JSON
// round trip for composite shapes.
func coerceValue(val any, t reflect.Type) (reflect.Value, error) {
	if val == nil {
		switch t.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}
	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumericKind(rv.Kind()) && isNumericKind(t.Kind()) {
		return rv.Convert(t), nil
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", val, t)
	}
	return ptr.Elem(), nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// call invokes the underlying procedure. A panic inside the procedure is
// recovered and reported as an internal fault with a fixed message, so a
// misbehaving callable can neither tear down the dispatch path nor leak
// runtime detail to the caller.
func (d *Descriptor) call(ctx context.Context, logger *slog.Logger, args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("rpc method panicked",
				"method", d.name,
				"panic", fmt.Sprint(r))
			result = nil
			err = NewFault(CodeInternalError, "internal error")
		}
	}()

	in := make([]reflect.Value, 0, len(args)+1)
	if d.wantsCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)

	out := d.fn.Call(in)
	if d.errPos >= 0 && !out[d.errPos].IsNil() {
		return nil, out[d.errPos].Interface().(error)
	}
	if d.numOut == 0 || d.errPos == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}
