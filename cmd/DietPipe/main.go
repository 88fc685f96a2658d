package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/DietPipe/internal/api"
	"github.com/BTreeMap/DietPipe/internal/genai"
	"github.com/BTreeMap/DietPipe/internal/messaging"
	"github.com/BTreeMap/DietPipe/internal/onboarding"
	"github.com/BTreeMap/DietPipe/internal/store"
	"github.com/BTreeMap/DietPipe/internal/telegram"
	"github.com/BTreeMap/DietPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/DietPipe/internal/util"
	"github.com/BTreeMap/DietPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DietPipe state data
	DefaultStateDir = "/var/lib/dietpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dietpipe.db"
	// DefaultBackend is the messaging backend used when none is configured
	DefaultBackend = "whatsapp"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Initialize the profile store
	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize the GenAI client
	genaiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	// Initialize the messaging backend
	msgService, err := buildMessagingService(flags)
	if err != nil {
		slog.Error("Failed to initialize messaging backend", "error", err, "backend", *flags.backend)
		os.Exit(1)
	}

	orchestrator := onboarding.NewOrchestrator(st, genaiClient, nil)
	server := api.NewServer(msgService, st, orchestrator, buildAPIOptions(flags)...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping DietPipe with configured modules", "backend", *flags.backend)
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("DietPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DietPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	Backend       string
	DatabaseURL   string
	WhatsAppDSN   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	TelegramToken string
	NumericCode   bool
}

// Flags holds command line flag values
type Flags struct {
	backend       *string
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	apiAddr       *string
	telegramToken *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Backend:       os.Getenv("MESSAGING_BACKEND"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:      os.Getenv("DIETPIPE_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		NumericCode:   util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
	}

	if config.Backend == "" {
		config.Backend = DefaultBackend
		slog.Debug("No MESSAGING_BACKEND set, using default", "default_backend", config.Backend)
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No DIETPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"MESSAGING_BACKEND", config.Backend,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DIETPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		backend:       flag.String("backend", config.Backend, "messaging backend: whatsapp, telegram or twilio (overrides $MESSAGING_BACKEND)"),
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for DietPipe data (overrides $DIETPIPE_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the profile store (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		telegramToken: flag.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"backend", *flags.backend,
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore initializes the profile store, selecting the backend from the DSN
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildMessagingService initializes the transport client for the selected backend
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.backend) {
	case "telegram":
		var tgOpts []telegram.Option
		if *flags.telegramToken != "" {
			tgOpts = append(tgOpts, telegram.WithToken(*flags.telegramToken))
		}
		if util.ParseBoolEnv("TELEGRAM_DEBUG", false) {
			tgOpts = append(tgOpts, telegram.WithDebug())
		}
		client, err := telegram.NewClient(tgOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewTelegramService(client), nil
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if dsn := os.Getenv("WHATSAPP_DB_DSN"); dsn != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(dsn))
	} else {
		waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
