// Command gateway is the thin entry point for the LLM gateway core. CLI
// flag parsing, TLS termination, and socket setup beyond net/http's default
// listener are external collaborators per spec §1; main only resolves a
// config path, builds a Service via gateway.Builder, and runs it until
// signaled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmgatewaycore/gateway/internal/gateway"
	"github.com/llmgatewaycore/gateway/internal/gwconfig"
	log "github.com/sirupsen/logrus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := os.Getenv("GATEWAY_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := gwconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		return 1
	}

	svc, err := gateway.NewBuilder().WithConfig(cfg).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		return 1
	}

	addr := os.Getenv("GATEWAY_ADDR")
	if addr == "" {
		addr = ":8317"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx, addr); err != nil {
		log.Errorf("gateway: %v", err)
		return 1
	}
	return 0
}
