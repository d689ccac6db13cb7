package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"switchboard/go-daemon/internal/nodeops"
)

func main() {
	var (
		listenAddr = flag.String("listen-addr", "", "address a daemon would bind; validated and probed for availability")
		probe      = flag.String("probe", "", "base URL of a running daemon, e.g. http://127.0.0.1:8686")
		serviceURL = flag.String("service-url", "/rpc", "rpc mount path on the probed daemon")
		rpcToken   = flag.String("rpc-token", "", "token for the dispatch probe (optional)")
		timeout    = flag.Duration("timeout", 5*time.Second, "overall probe timeout")
	)
	flag.Parse()

	if strings.TrimSpace(*listenAddr) == "" && strings.TrimSpace(*probe) == "" {
		fail("one of -listen-addr or -probe is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report := nodeops.Preflight(ctx, nodeops.PreflightInput{
		ListenAddr: *listenAddr,
		ProbeURL:   *probe,
		ServiceURL: *serviceURL,
		Token:      *rpcToken,
		Client:     &http.Client{Timeout: *timeout},
	})

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		failf("marshal report: %v", err)
	}
	writeStdoutln(string(raw))

	if !report.Ready {
		os.Exit(1)
	}
}

func fail(msg string) {
	if _, err := fmt.Fprintln(os.Stderr, msg); err != nil {
		os.Exit(1)
	}
	os.Exit(1)
}

func failf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format+"\n", args...); err != nil {
		os.Exit(1)
	}
	os.Exit(1)
}

func writeStdoutln(line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(1)
	}
}
