package nodeops

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

// PreflightInput selects which readiness checks run. A ListenAddr is
// validated and probed for availability (useful before starting a daemon);
// a ProbeURL is checked against a daemon that is already running.
type PreflightInput struct {
	ListenAddr string
	ProbeURL   string
	ServiceURL string
	Token      string
	Client     *http.Client
}

type PreflightCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type PreflightReport struct {
	Ready     bool             `json:"ready"`
	Checks    []PreflightCheck `json:"checks"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Preflight runs the requested checks and reports per-check outcomes.
func Preflight(ctx context.Context, input PreflightInput) PreflightReport {
	report := PreflightReport{
		Ready:     true,
		Checks:    make([]PreflightCheck, 0, 4),
		CheckedAt: time.Now().UTC(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, PreflightCheck{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	if strings.TrimSpace(input.ListenAddr) != "" {
		if err := ValidateListenAddr(input.ListenAddr); err != nil {
			appendCheck("listen_addr_valid", false, err.Error())
		} else {
			appendCheck("listen_addr_valid", true, "")
			if err := checkAddrAvailable(input.ListenAddr); err != nil {
				appendCheck("listen_addr_available", false, err.Error())
			} else {
				appendCheck("listen_addr_available", true, "")
			}
		}
	}

	if strings.TrimSpace(input.ProbeURL) != "" {
		client := input.Client
		if client == nil {
			client = &http.Client{Timeout: 5 * time.Second}
		}
		base := strings.TrimRight(strings.TrimSpace(input.ProbeURL), "/")
		servicePath := strings.TrimSpace(input.ServiceURL)
		if servicePath == "" {
			servicePath = "/rpc"
		}

		if err := probeHealth(ctx, client, base); err != nil {
			appendCheck("daemon_reachable", false, err.Error())
		} else {
			appendCheck("daemon_reachable", true, "")
			if err := probeDispatch(ctx, client, base+servicePath, input.Token); err != nil {
				appendCheck("rpc_dispatch", false, err.Error())
			} else {
				appendCheck("rpc_dispatch", true, "")
			}
		}
	}

	return report
}

// ValidateListenAddr accepts host:port with a numeric port in [1..65535]
// and a host that is empty, an IP literal, or a plausible hostname.
func ValidateListenAddr(raw string) error {
	addr := strings.TrimSpace(raw)
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("listen address must be host:port: %q", addr)
	}
	port, err := strconv.Atoi(strings.TrimSpace(portRaw))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("listen address port is invalid: %q", portRaw)
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("listen address host is invalid: %q", host)
	}
	return nil
}

func checkAddrAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is unavailable: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}

func probeHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz answered status %d", resp.StatusCode)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("healthz payload does not decode: %w", err)
	}
	if payload.Status != "ok" {
		return fmt.Errorf("healthz status is %q", payload.Status)
	}
	return nil
}

func probeDispatch(ctx context.Context, client *http.Client, rpcURL, token string) error {
	body := `{"method":"service.ping","params":[],"id":"doctor"}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("X-Switchboard-RPC-Token", token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc endpoint answered status %d", resp.StatusCode)
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("rpc response does not decode: %w", err)
	}
	if string(envelope.Error) != "null" {
		return fmt.Errorf("service.ping failed: %s", envelope.Error)
	}
	if string(envelope.Result) != `"pong"` {
		return fmt.Errorf("service.ping answered %s", envelope.Result)
	}
	return nil
}
