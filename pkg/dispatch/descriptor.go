package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// TypeObject is the generic type tag published when a registration does not
// declare a usable signature.
const TypeObject = "object"

// Method describes one procedure handed to the coordinator at construction
// time. Func is mandatory; everything else refines how the procedure is
// published.
type Method struct {
	// Name the procedure is callable under. When empty, the func's own
	// symbol name is used.
	Name string

	// Func is the procedure body. Supported shapes, with the leading
	// context.Context optional:
	//
	//	func(ctx, p1, p2)
	//	func(ctx, p1, p2) T
	//	func(ctx, p1, p2) error
	//	func(ctx, p1, p2) (T, error)
	Func any

	// Params names the formal parameters in order, excluding the optional
	// leading context. Reflection cannot recover parameter names, so
	// registrations declare them.
	Params []string

	// Signature is the published type-tag list: return type first, then one
	// tag per parameter. It is honored only when its length is exactly
	// len(Params)+1; otherwise every slot is published as TypeObject.
	Signature []string

	// Doc is the help text served by system.methodHelp.
	Doc string

	// Permission is an opaque tag surfaced to the host for authorization
	// decisions. The dispatcher never interprets it.
	Permission string
}

// Parameter pairs a published parameter name with its type tag.
type Parameter struct {
	Name string
	Type string
}

// Descriptor is the registry's immutable record for one callable procedure.
type Descriptor struct {
	name       string
	paramNames []string
	signature  []string
	doc        string
	permission string

	fn       reflect.Value
	argTypes []reflect.Type
	wantsCtx bool
	numOut   int
	errPos   int // index of the error return, -1 when none
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// NewDescriptor resolves a Method into a Descriptor, deriving the callable's
// argument layout by reflection and validating it against the declared
// parameter names.
func NewDescriptor(m Method) (*Descriptor, error) {
	if m.Func == nil {
		return nil, fmt.Errorf("dispatch: method %q has no func", m.Name)
	}
	fn := reflect.ValueOf(m.Func)
	t := fn.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("dispatch: method %q: %T is not a func", m.Name, m.Func)
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("dispatch: method %q: variadic funcs are not supported", m.Name)
	}

	d := &Descriptor{
		doc:        m.Doc,
		permission: m.Permission,
		fn:         fn,
		errPos:     -1,
	}

	d.name = m.Name
	if d.name == "" {
		d.name = funcName(fn)
	}
	if d.name == "" {
		return nil, fmt.Errorf("dispatch: cannot resolve a name for %v", t)
	}

	firstArg := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		d.wantsCtx = true
		firstArg = 1
	}
	d.argTypes = make([]reflect.Type, 0, t.NumIn()-firstArg)
	for i := firstArg; i < t.NumIn(); i++ {
		d.argTypes = append(d.argTypes, t.In(i))
	}
	if len(m.Params) != len(d.argTypes) {
		return nil, fmt.Errorf("dispatch: method %q declares %d parameter names, func takes %d",
			d.name, len(m.Params), len(d.argTypes))
	}
	d.paramNames = append([]string(nil), m.Params...)

	d.numOut = t.NumOut()
	switch d.numOut {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			d.errPos = 0
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("dispatch: method %q: second return value must be error", d.name)
		}
		d.errPos = 1
	default:
		return nil, fmt.Errorf("dispatch: method %q returns %d values, want at most 2", d.name, d.numOut)
	}

	if len(m.Signature) == len(d.paramNames)+1 {
		d.signature = append([]string(nil), m.Signature...)
	} else {
		d.signature = make([]string, len(d.paramNames)+1)
		for i := range d.signature {
			d.signature[i] = TypeObject
		}
	}
	return d, nil
}

// funcName recovers a callable's symbol name, trimmed of its package path
// and of the -fm suffix the runtime appends to bound method values.
func funcName(fn reflect.Value) string {
	rf := runtime.FuncForPC(fn.Pointer())
	if rf == nil {
		return ""
	}
	name := strings.TrimSuffix(rf.Name(), "-fm")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Name returns the name the procedure is callable under.
func (d *Descriptor) Name() string { return d.name }

// Doc returns the procedure's help text, empty when none was registered.
func (d *Descriptor) Doc() string { return d.doc }

// Permission returns the opaque permission tag, empty when none was
// registered.
func (d *Descriptor) Permission() string { return d.permission }

// Signature returns a copy of the published type-tag list. Its length is
// always one more than the number of parameters.
func (d *Descriptor) Signature() []string {
	return append([]string(nil), d.signature...)
}

// ReturnType returns the published return type tag.
func (d *Descriptor) ReturnType() string {
	if len(d.signature) == 0 {
		return TypeObject
	}
	return d.signature[0]
}

// Parameters returns the published parameters in declaration order. Should
// the stored signature ever disagree with the parameter count, every slot
// degrades to TypeObject rather than misreporting types.
func (d *Descriptor) Parameters() []Parameter {
	aligned := len(d.signature) == len(d.paramNames)+1
	params := make([]Parameter, len(d.paramNames))
	for i, name := range d.paramNames {
		tag := TypeObject
		if aligned {
			tag = d.signature[i+1]
		}
		params[i] = Parameter{Name: name, Type: tag}
	}
	return params
}

// Stub renders an example JSON request for the procedure, suitable for
// documentation output.
func (d *Descriptor) Stub() string {
	quoted := make([]string, len(d.paramNames))
	for i, name := range d.paramNames {
		quoted[i] = `"` + name + `"`
	}
	lines := []string{
		"{",
		`"id": "switchboard",`,
		`"method": "` + d.name + `",`,
		`"params": [`,
		"   " + strings.Join(quoted, ","),
		"]",
		"}",
	}
	return strings.Join(lines, "\n")
}
