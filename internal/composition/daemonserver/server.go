package daemonserver

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"switchboard/go-daemon/internal/adapters/httpserver"
	"switchboard/go-daemon/internal/bootstrap/daemonconfig"
	"switchboard/go-daemon/internal/nodeops"
	"switchboard/go-daemon/internal/platform/metrics"
	"switchboard/go-daemon/internal/platform/ratelimiter"
	"switchboard/go-daemon/pkg/dispatch"
)

// BuildRPCServer wires config, method registry, and HTTP transport into a
// runnable server. Methods beyond the built-in service.* family are passed
// by the caller.
func BuildRPCServer(cfg daemonconfig.Config, build nodeops.BuildInfo, extra ...dispatch.Method) (*httpserver.Server, *slog.Logger, error) {
	logger := NewLogger(cfg.Log)

	token, err := resolveToken(cfg.Auth.Token)
	if err != nil {
		return nil, nil, err
	}
	requireAuth := cfg.RequireToken()
	if requireAuth && token == "" {
		return nil, nil, errors.New("SWB_RPC_TOKEN is required unless SWB_REQUIRE_RPC_TOKEN=false or SWB_ENV is test/development/local")
	}

	methods := nodeops.NewService(build).Methods()
	methods = append(methods, extra...)

	opts := []dispatch.Option{
		dispatch.WithServiceURL(cfg.ServiceURL),
		dispatch.WithLogger(logger),
	}
	if cfg.DisableIntrospection {
		opts = append(opts, dispatch.WithoutIntrospection())
	}
	coord, err := dispatch.NewCoordinator(methods, opts...)
	if err != nil {
		return nil, nil, err
	}

	var limiter *ratelimiter.MapLimiter
	if cfg.RateLimitEnabled() {
		limiter = ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
	}
	allowNullOrigin := strings.EqualFold(strings.TrimSpace(os.Getenv("SWB_ALLOW_NULL_ORIGIN")), "true") ||
		os.Getenv("SWB_ALLOW_NULL_ORIGIN") == "1"

	server := httpserver.New(cfg.ListenAddr, coord, httpserver.Options{
		ServicePath:     cfg.ServiceURL,
		Token:           token,
		RequireAuth:     requireAuth,
		AllowNullOrigin: allowNullOrigin,
		RateLimit:       limiter,
		Metrics:         metrics.NewSet(),
		Logger:          logger,
	})
	return server, logger, nil
}

// resolveToken expands the "auto" sentinel into a freshly minted token and
// persists it for sibling processes when SWB_RPC_TOKEN_FILE is set.
func resolveToken(configured string) (string, error) {
	token := strings.TrimSpace(configured)
	if !strings.EqualFold(token, "auto") {
		return token, nil
	}
	minted, err := httpserver.MintToken()
	if err != nil {
		return "", err
	}
	_ = os.Setenv("SWB_RPC_TOKEN", minted)
	if err := persistToken(minted); err != nil {
		return "", err
	}
	return minted, nil
}

func persistToken(token string) error {
	pathValue := strings.TrimSpace(os.Getenv("SWB_RPC_TOKEN_FILE"))
	if pathValue == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pathValue), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pathValue, []byte(token), 0o600)
}
