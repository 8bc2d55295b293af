package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"omnibridge/services/mediatord"
	"omnibridge/services/mediatord/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/mediatord/config.yaml", "path to mediatord configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("mediatord: load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mediatord.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mediatord: %v", err)
	}
}
