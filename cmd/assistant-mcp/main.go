package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/api"
	"github.com/devricklin/xianyu-assistant/mcpserver"
)

func main() {
	_ = godotenv.Load()

	// stdout carries the MCP protocol
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	apiURL := os.Getenv("ASSISTANT_API_URL")
	if apiURL == "" {
		apiURL = "http://" + api.DefaultAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("component", "mcp").Str("api", apiURL).Msg("Starting admin MCP server")
	if err := mcpserver.NewServer(apiURL).Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("MCP server error")
	}
}
