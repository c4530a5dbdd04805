package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"telegram-plural-proxy-bot/bot"
	"telegram-plural-proxy-bot/storage"

	"github.com/joho/godotenv"
)

func main() {
	// Parse command-line flags
	verbose := flag.Bool("v", false, "Enable verbose logging (LevelInfo)")
	veryVerbose := flag.Bool("vv", false, "Enable very verbose logging (LevelDebug)")
	flag.Parse()

	// Set up logging
	setLogLevel(*verbose, *veryVerbose)

	slog.Debug("main: Command-line flags parsed", "verbose", *verbose, "very_verbose", *veryVerbose)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Warn("main: Failed to load .env file", "error", err)
	}

	// Get configuration from environment
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		slog.Error("main: TELEGRAM_BOT_TOKEN environment variable is required")
		os.Exit(1)
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "data.sqlite"
		slog.Debug("main: Using default database path", "path", dbPath)
	} else {
		slog.Debug("main: Using custom database path", "path", dbPath)
	}

	// Initialize storage
	slog.Debug("main: Initializing storage", "db_path", dbPath)
	store, err := storage.New(dbPath)
	if err != nil {
		slog.Error("main: Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Debug("main: Storage initialized successfully")

	// Initialize bot
	slog.Debug("main: Initializing bot")
	b, err := bot.New(token, store)
	if err != nil {
		slog.Error("main: Failed to initialize bot", "error", err)
		os.Exit(1)
	}

	// Run bot (blocks until the context is cancelled or the update channel closes)
	slog.Info("main: Starting bot...")
	if err := b.Run(context.Background()); err != nil {
		slog.Error("main: Bot stopped with error", "error", err)
		os.Exit(1)
	}
}

// setLogLevel configures the logging level based on the provided flags
func setLogLevel(verbose, veryVerbose bool) {
	// Determine logging level based on flags
	logLevel := slog.LevelWarn // Default level
	if veryVerbose {
		logLevel = slog.LevelDebug
	} else if verbose {
		logLevel = slog.LevelInfo
	}

	// Configure structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Debug("main: Log level set to", "level", logLevel.String())
}
