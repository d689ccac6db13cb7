package dispatch

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
)

type xmlDispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// Dispatch decodes a single <methodCall> and always answers with a
// <methodResponse> carrying either the return value or a fault, faults
// included for bodies that do not parse at all. The error return fires only
// when the response document itself cannot be built.
func (x *xmlDispatcher) Dispatch(ctx context.Context, raw []byte) ([]byte, error) {
	var call xmlMethodCall
	if err := xml.Unmarshal(raw, &call); err != nil {
		return encodeXMLFault(NewFault(CodeApplication, "request body is not a method call"))
	}
	name := strings.TrimSpace(call.MethodName)
	if name == "" {
		return encodeXMLFault(NewFault(CodeApplication, "request names no method"))
	}

	desc, ok := x.registry.Lookup(name)
	if !ok {
		return encodeXMLFault(Faultf(CodeApplication, "method %q is not supported", name))
	}

	vals := make([]any, 0, len(call.Params))
	for i, p := range call.Params {
		v, err := p.decode()
		if err != nil {
			return encodeXMLFault(invalidParams("parameter %d does not decode: %v", i, err))
		}
		vals = append(vals, v)
	}

	args, fault := desc.bindValues(vals)
	if fault != nil {
		return encodeXMLFault(fault)
	}

	result, err := desc.call(ctx, x.logger, args)
	if err != nil {
		return encodeXMLFault(faultFrom(err))
	}

	var val bytes.Buffer
	if err := encodeXMLValue(&val, result); err != nil {
		x.logger.Error("rpc result does not encode as XML",
			"method", name,
			"error", err)
		return encodeXMLFault(NewFault(CodeInternalError, "internal error"))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><params><param>")
	buf.Write(val.Bytes())
	buf.WriteString("</param></params></methodResponse>")
	return buf.Bytes(), nil
}

// encodeXMLFault renders a fault response. The fault payload is the
// conventional two-member struct, so encoding failure is the one case the
// protocol cannot answer and the error surfaces to the transport.
func encodeXMLFault(f *Fault) ([]byte, error) {
	var val bytes.Buffer
	err := encodeXMLValue(&val, map[string]any{
		"faultCode":   f.Code,
		"faultString": f.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode fault response: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><fault>")
	buf.Write(val.Bytes())
	buf.WriteString("</fault></methodResponse>")
	return buf.Bytes(), nil
}

// peekXMLMethod extracts the target method name without executing anything.
func peekXMLMethod(raw []byte) (string, bool) {
	var call xmlMethodCall
	if err := xml.Unmarshal(raw, &call); err != nil {
		return "", false
	}
	name := strings.TrimSpace(call.MethodName)
	if name == "" {
		return "", false
	}
	return name, true
}
