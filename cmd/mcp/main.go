package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tilebridge.ai/internal/mcp"
)

// mcp runs the MCP surface as a sidecar in front of a remote bridge.
func main() {
	var (
		listen     = flag.String("listen", "127.0.0.1:8090", "http listen address")
		bridgeURL  = flag.String("bridge-ws-url", "ws://127.0.0.1:8080/v1/ws", "bridge ws url")
		hmacSecret = flag.String("hmac-secret", "", "hmac secret (or set TB_MCP_HMAC_SECRET)")
		maxSess    = flag.Int("max-sessions", 256, "max concurrent upstream sessions")
		idle       = flag.Duration("idle", 10*time.Minute, "close upstream sessions idle this long")
	)
	flag.Parse()

	if strings.TrimSpace(*hmacSecret) == "" {
		*hmacSecret = strings.TrimSpace(os.Getenv("TB_MCP_HMAC_SECRET"))
	}
	requireHMAC := envBoolWithDefault("TB_MCP_REQUIRE_HMAC", defaultRequireMCPHMAC())
	if requireHMAC && strings.TrimSpace(*hmacSecret) == "" {
		log.Fatalf("[mcp] hmac secret required (set -hmac-secret or TB_MCP_HMAC_SECRET)")
	}
	if strings.TrimSpace(*hmacSecret) == "" && !isLoopbackListenAddress(*listen) {
		log.Fatalf("[mcp] refusing insecure MCP bind on non-loopback address %q without hmac secret", *listen)
	}

	logger := log.New(os.Stdout, "[mcp] ", log.LstdFlags|log.Lmicroseconds)
	authMode := "hmac"
	if strings.TrimSpace(*hmacSecret) == "" {
		authMode = "none(loopback-only)"
	}
	logger.Printf("auth_mode=%s require_hmac=%t", authMode, requireHMAC)

	ctx, cancel := signalContext()
	defer cancel()

	up := newUpstream(*bridgeURL, *maxSess, *idle, logger)
	defer up.Close()
	go up.reap(ctx)

	srv, err := mcp.NewServer(mcp.Config{
		Handler:      up,
		HMACSecret:   *hmacSecret,
		LoopbackOnly: strings.TrimSpace(*hmacSecret) == "",
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("mcp: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on http://%s (bridge ws=%s)", *listen, *bridgeURL)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("listen: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultRequireMCPHMAC() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return true
	default:
		return false
	}
}

func envBoolWithDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = strings.TrimSpace(h)
	}
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
