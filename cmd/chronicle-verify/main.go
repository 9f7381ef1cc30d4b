// Package main runs the stream schema verification tool.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	verifycmd "github.com/chronicle-sh/chronicle/internal/cmd/verify"
)

func main() {
	cfg, err := verifycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[VERIFY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := verifycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("verification failed: %v", err)
	}
}
