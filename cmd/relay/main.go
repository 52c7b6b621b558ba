package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"microbiome/internal/config"
	"microbiome/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	endpoint := cfg.IPC.Endpoint
	if endpoint == "" {
		endpoint = "(platform default)"
	}
	log.Printf("🌐 Relay: subscribing to %s, serving on %s", endpoint, cfg.Relay.Addr())
	if cfg.Relay.StaticDir != "" {
		log.Printf("🖥️ UI: %s", cfg.Relay.StaticDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relay.NewServer(cfg).Run(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Println("👋 Goodbye!")
}
