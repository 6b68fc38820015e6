package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/hystericca/grimlink/internal/config"
	"github.com/hystericca/grimlink/internal/logging"
	"github.com/hystericca/grimlink/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes configuration, logging and the relay server, then blocks
// until a shutdown signal arrives. Keeping the logic out of main ensures
// deferred cleanup runs before the process exits.
func run() error {
	configPath := flag.String("config", "", "optional TOML config file")
	flag.Parse()

	// Local development convenience; a missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFile)

	checkOrigin, err := cfg.CheckOrigin()
	if err != nil {
		return fmt.Errorf("origin patterns: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := ws.New(ws.ServerConfig{
		Addr:           cfg.ListenAddr,
		PingInterval:   cfg.PingInterval,
		SpamRate:       cfg.SpamRate,
		CheckOrigin:    checkOrigin,
		AdmissionRate:  rate.Limit(cfg.AdmissionRate),
		AdmissionBurst: cfg.AdmissionBurst,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		Logger:         log,
	})

	log.Info("relay starting",
		"addr", cfg.ListenAddr,
		"ping_interval", cfg.PingInterval,
		"tls", cfg.TLSCertFile != "" && cfg.TLSKeyFile != "")
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server start: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		return fmt.Errorf("server stop: %w", err)
	}
	log.Info("relay stopped")
	return nil
}
