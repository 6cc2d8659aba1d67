// Command chatcli is a terminal client for the eco chat: it signs in, keeps
// the push connection alive and drives rooms from slash commands on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ecochat/internal/app"
	"ecochat/internal/config"
	"ecochat/internal/observability"
	"ecochat/internal/ui"
)

var version = "dev"

func main() {
	rows := flag.Int("rows", 20, "Visible message lines")
	room := flag.Int64("room", 0, "Room to open after connecting")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile, err := os.OpenFile("chatcli.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	observability.SetupLogging(cfg.Env, cfg.LogLevel, logFile)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "ecochat-client",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity, err := app.Authenticate(ctx, cfg)
	if err != nil {
		log.Fatalf("Sign-in failed: %v", err)
	}

	in := bufio.NewScanner(os.Stdin)
	console := ui.NewConsole(os.Stdout, in)
	viewport := ui.NewTerminalViewport(console, identity.MemberID(), *rows)
	client := app.New(cfg, identity, console, viewport)

	console.Title("🌱 ecochat")
	console.Muted("Signed in as " + identity.Identity().Name + ". Type /help for commands.")

	go func() {
		defer stop()
		if *room != 0 {
			go client.EnterRoom(*room)
		}
		if err := newREPL(client, console, viewport).loop(ctx, in); err != nil && !errors.Is(err, io.EOF) {
			log.Printf("Reading commands: %v", err)
		}
	}()

	if err := client.Run(ctx); err != nil {
		log.Printf("chatcli stopped: %v", err)
	}
	client.Close()

	if err := shutdownTracing(context.Background()); err != nil {
		log.Printf("Tracing shutdown: %v", err)
	}
}
