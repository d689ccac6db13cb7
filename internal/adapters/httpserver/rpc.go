package httpserver

import (
	"crypto/rand"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58/base58"

	"switchboard/go-daemon/internal/platform/metrics"
	"switchboard/go-daemon/pkg/dispatch"
)

const maxRPCBodyBytes int64 = 1 << 20 // 1 MiB

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}

	proto := protocolFor(r.Header.Get("Content-Type"))
	reqID := newRequestID()
	method := s.coord.PeekMethodName(body, proto)
	token := s.extractToken(r)

	if !s.authorized(method, token) {
		s.metrics.Denials.WithLabelValues(metrics.DenialUnauthorized).Inc()
		s.logger.Warn("rpc denied", "request_id", reqID, "method", method, "reason", "unauthorized", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	clientKey := rateLimitKey(r, token)
	if !s.limiter.Allow(clientKey, now) {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.RetryAfter()/time.Second)))
		s.metrics.Denials.WithLabelValues(metrics.DenialRateLimited).Inc()
		s.logger.Warn("rpc denied", "request_id", reqID, "method", method, "reason", "rate_limited", "client_key", clientKey)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	// Replay protection only applies to the JSON dialect; its callers are
	// the ones retrying over flaky links.
	var cacheKey, digest string
	if proto == dispatch.ProtocolJSON {
		cacheKey = replayKey(r.Header.Get(idempotencyHeader), token)
	}
	if cacheKey != "" {
		digest = requestDigest(body)
		entry, hit, conflict := s.replays.get(cacheKey, digest, now)
		if conflict {
			s.metrics.Denials.WithLabelValues(metrics.DenialIdempotencyConflict).Inc()
			s.logger.Warn("rpc denied", "request_id", reqID, "method", method, "reason", "idempotency_conflict", "idempotency_key", r.Header.Get(idempotencyHeader))
			http.Error(w, "idempotency key was already used with a different request", http.StatusConflict)
			return
		}
		if hit {
			s.logger.Info("rpc replayed", "request_id", reqID, "method", method, "idempotency_key", r.Header.Get(idempotencyHeader))
			writeRPCResponse(w, entry.proto, entry.body)
			return
		}
	}

	started := time.Now()
	s.logger.Info("rpc request", "request_id", reqID, "method", method, "protocol", string(proto))

	out, err := s.coord.Dispatch(r.Context(), body, proto)
	if err != nil {
		s.logger.Error("rpc failed", "request_id", reqID, "method", method, "protocol", string(proto), "error", err, "latency_ms", time.Since(started).Milliseconds())
		http.Error(w, "unable to encode response", http.StatusBadRequest)
		return
	}

	s.metrics.Requests.WithLabelValues(string(proto)).Inc()
	s.metrics.RequestDuration.WithLabelValues(string(proto)).Observe(time.Since(started).Seconds())
	s.logger.Info("rpc response", "request_id", reqID, "method", method, "protocol", string(proto), "latency_ms", time.Since(started).Milliseconds())

	if cacheKey != "" {
		s.replays.set(cacheKey, replayEntry{
			requestHash: digest,
			body:        out,
			proto:       proto,
			createdAt:   now,
		})
	}
	writeRPCResponse(w, proto, out)
}

func writeRPCResponse(w http.ResponseWriter, proto dispatch.Protocol, body []byte) {
	if len(body) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if proto == dispatch.ProtocolXML {
		w.Header().Set("Content-Type", "text/xml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(body)
}

// protocolFor picks the wire dialect from the Content-Type header. Anything
// mentioning xml is XML-RPC; everything else, including a missing header,
// is treated as JSON.
func protocolFor(contentType string) dispatch.Protocol {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if strings.Contains(strings.ToLower(mediaType), "xml") {
		return dispatch.ProtocolXML
	}
	return dispatch.ProtocolJSON
}

func rateLimitKey(r *http.Request, token string) string {
	if strings.TrimSpace(token) != "" {
		return "token:" + token
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}

func newRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "rpc_" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return "rpc_" + base58.Encode(buf)
}
