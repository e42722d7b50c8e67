package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	keyissuercmd "github.com/louisbranch/sealbox/internal/cmd/keyissuer"
)

func main() {
	cfg, err := keyissuercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[KEYISSUER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := keyissuercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}
