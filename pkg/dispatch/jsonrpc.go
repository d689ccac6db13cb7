package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
)

// jsonRequest is one JSON protocol envelope. ID stays raw so responses echo
// it byte for byte, whatever JSON type the caller picked.
type jsonRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
}

// jsonResponse always carries all three members. Exactly one of Result and
// Error is non-null.
type jsonResponse struct {
	Result any             `json:"result"`
	Error  *jsonFault      `json:"error"`
	ID     json.RawMessage `json:"id"`
}

type jsonFault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonDispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// Dispatch decodes one body, a single request or a batch, executes every
// entry in order, and encodes response entries for the non-notification
// requests. The return is nil for a lone notification and the literal empty
// array for an all-notification batch.
func (j *jsonDispatcher) Dispatch(ctx context.Context, raw []byte) []byte {
	if isJSONBatch(raw) {
		return j.dispatchBatch(ctx, raw)
	}

	var req jsonRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalJSONResponse(parseErrorResponse())
	}
	resp, answered := j.handle(ctx, req)
	if !answered {
		return nil
	}
	return marshalJSONResponse(resp)
}

func (j *jsonDispatcher) dispatchBatch(ctx context.Context, raw []byte) []byte {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return marshalJSONResponse(parseErrorResponse())
	}

	responses := make([]jsonResponse, 0, len(entries))
	for _, entry := range entries {
		var req jsonRequest
		if err := json.Unmarshal(entry, &req); err != nil {
			// Not a request object. Answer only when an id can still be
			// salvaged; otherwise the entry stays silent like a
			// notification.
			if id := salvageID(entry); id != nil {
				responses = append(responses, errorResponse(id, methodNotFound("")))
			}
			continue
		}
		resp, answered := j.handle(ctx, req)
		if answered {
			responses = append(responses, resp)
		}
	}
	return marshalJSONResponse(responses)
}

// handle executes one request entry. answered reports whether a response
// entry should be recorded; notifications run like any other request but
// stay unanswered.
func (j *jsonDispatcher) handle(ctx context.Context, req jsonRequest) (jsonResponse, bool) {
	answered := !isJSONNotification(req.ID)

	desc, ok := j.registry.Lookup(req.Method)
	if !ok {
		return errorResponse(req.ID, methodNotFound(req.Method)), answered
	}

	args, fault := bindJSONParams(desc, req.Params)
	if fault != nil {
		return errorResponse(req.ID, fault), answered
	}

	result, err := desc.call(ctx, j.logger, args)
	if err != nil {
		return errorResponse(req.ID, faultFrom(err)), answered
	}
	if _, err := json.Marshal(result); err != nil {
		j.logger.Error("rpc result does not encode as JSON",
			"method", req.Method,
			"error", err)
		return errorResponse(req.ID, NewFault(CodeInternalError, "internal error")), answered
	}
	return jsonResponse{Result: result, ID: req.ID}, answered
}

// bindJSONParams maps the request's params member onto the descriptor's
// parameters: arrays bind by position, objects bind by name, a missing or
// null member binds zero arguments.
func bindJSONParams(d *Descriptor, params json.RawMessage) ([]reflect.Value, *Fault) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return d.bindJSONPositional(nil)
	}
	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, invalidParams("params array does not decode: %v", err)
		}
		return d.bindJSONPositional(list)
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, invalidParams("params object does not decode: %v", err)
		}
		return d.bindJSONNamed(fields)
	default:
		return nil, invalidParams("params must be an array or an object")
	}
}

func errorResponse(id json.RawMessage, f *Fault) jsonResponse {
	return jsonResponse{Error: &jsonFault{Code: f.Code, Message: f.Message}, ID: id}
}

func parseErrorResponse() jsonResponse {
	return errorResponse(nil, NewFault(CodeParseError, "parse error"))
}

// salvageID pulls an id member out of an entry that failed to decode as a
// request object, so the caller can still be answered. nil means the entry
// has no usable id and must stay silent.
func salvageID(entry json.RawMessage) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(entry, &probe); err != nil {
		return nil
	}
	if isJSONNotification(probe.ID) {
		return nil
	}
	return probe.ID
}

// marshalJSONResponse encodes the response envelope. Inputs are built from
// parsed request bytes and pre-validated results, so failure is not
// reachable in practice; the fallback keeps the wire contract anyway.
func marshalJSONResponse(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"result":null,"error":{"code":-32603,"message":"internal error"},"id":null}`)
	}
	return out
}

// isJSONBatch reports whether the body's first significant byte opens an
// array.
func isJSONBatch(raw []byte) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c == '['
	}
	return false
}

// isJSONNotification reports whether the id marks a request as
// fire-and-forget. A missing id and a literal null are equivalent.
func isJSONNotification(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// peekJSONMethod extracts the target method name without executing
// anything. A batch reports its first entry's method.
func peekJSONMethod(raw []byte) (string, bool) {
	if isJSONBatch(raw) {
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
			return "", false
		}
		raw = entries[0]
	}
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Method == "" {
		return "", false
	}
	return probe.Method, true
}
