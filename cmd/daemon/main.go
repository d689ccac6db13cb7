package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"switchboard/go-daemon/internal/bootstrap/daemonconfig"
	"switchboard/go-daemon/internal/composition/daemonserver"
	"switchboard/go-daemon/internal/nodeops"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen-addr", "", "RPC listen address (default 127.0.0.1:8686)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Switchboard-RPC-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("switchboard-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("SWB_RPC_TOKEN", *rpcToken)
	}

	cfg := daemonconfig.LoadFromPath(*configPath)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	srv, logger, err := daemonserver.BuildRPCServer(cfg, nodeops.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	if err != nil {
		log.Fatalf("switchboard-daemon failed to initialize: %v", err)
	}
	slog.SetDefault(logger)

	logger.Info("switchboard-daemon starting", "listen_addr", cfg.ListenAddr, "service_url", cfg.ServiceURL)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("switchboard-daemon failed: %v", err)
	}
	logger.Info("switchboard-daemon stopped")
}
