package dispatch

import (
	"errors"
	"fmt"
)

// Reserved fault codes shared by both wire protocols. The -327xx block
// follows the JSON-RPC convention; CodeApplication is the xmlrpc-epi
// application error code used for failures raised by the procedure itself.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeApplication    = -32500
)

// Fault is a protocol-neutral RPC failure that each dispatcher maps to a
// concrete wire shape (JSON error object, XML fault struct). Procedures may
// return one, possibly wrapped, to control the code sent to the caller.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("rpc fault %d", f.Code)
	}
	return f.Message
}

// NewFault builds a fault with an explicit code.
func NewFault(code int, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// Faultf builds a fault with a formatted message.
func Faultf(code int, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidParams(format string, args ...any) *Fault {
	return Faultf(CodeInvalidParams, format, args...)
}

func methodNotFound(name string) *Fault {
	if name == "" {
		return NewFault(CodeMethodNotFound, "method not found")
	}
	return Faultf(CodeMethodNotFound, "method not found: %s", name)
}

// faultFrom translates a procedure error into the fault reported to the
// caller. A returned *Fault keeps its code; every other error becomes an
// application fault carrying the error text.
func faultFrom(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Code: CodeApplication, Message: err.Error()}
}
