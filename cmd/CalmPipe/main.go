package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CalmCompanion/CalmPipe/internal/api"
	"github.com/CalmCompanion/CalmPipe/internal/flow"
	"github.com/CalmCompanion/CalmPipe/internal/genai"
	"github.com/CalmCompanion/CalmPipe/internal/mood"
	"github.com/CalmCompanion/CalmPipe/internal/risk"
	"github.com/CalmCompanion/CalmPipe/internal/store"
	"github.com/CalmCompanion/CalmPipe/internal/strategy"
	"github.com/CalmCompanion/CalmPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CalmPipe state data
	DefaultStateDir = "/var/lib/calmpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "calmpipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping CalmPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, storeOpts, genaiOpts, apiOpts, *flags.moderation, *flags.moodThreshold); err != nil {
		slog.Error("CalmPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CalmPipe exited successfully")
}

// run wires the store, the GenAI client, the orchestrator, and the API
// server, then serves until the context is cancelled.
func run(ctx context.Context, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []api.Option, moderation bool, moodThreshold float64) error {
	st, err := openStore(storeOpts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Failed to close store", "error", cerr)
		}
	}()

	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	corpus, err := st.ListStrategies()
	if err != nil {
		slog.Warn("Failed to load strategy corpus, using built-in fallback cards", "error", err)
		corpus = nil
	}
	retriever := strategy.NewRetriever(corpus)

	var classifierOpts []risk.Option
	if moderation {
		classifierOpts = append(classifierOpts, risk.WithModerator(client))
	}
	classifier := risk.NewClassifier(classifierOpts...)

	generator := flow.NewGenAIGenerator(client)
	critic, err := flow.NewRuleCritic(generator, classifier)
	if err != nil {
		return err
	}
	estimator := mood.NewEstimator(mood.WithConfidenceThreshold(moodThreshold))
	orch, err := flow.NewOrchestrator(generator, critic,
		flow.WithClassifier(classifier),
		flow.WithEstimator(estimator),
		flow.WithRetriever(retriever),
	)
	if err != nil {
		return err
	}

	server, err := api.NewServer(orch, st, retriever, classifier, corpus, apiOpts...)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// openStore selects the backend by DSN. No options means in-memory.
func openStore(opts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(nil), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		return store.NewPostgresStore(opts...)
	default:
		return store.NewSQLiteStore(opts...)
	}
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	OpenAIBase    string
	OpenAIModel   string
	OpenAITimeout int
	APIAddr       string
	Moderation    bool
	MoodThreshold float64
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	openaiBase    *string
	openaiModel   *string
	openaiTimeout *int
	apiAddr       *string
	moderation    *bool
	moodThreshold *float64
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("CALMPIPE_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBase:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		OpenAITimeout: util.ParseIntEnv("OPENAI_TIMEOUT_SECONDS", 0),
		APIAddr:       os.Getenv("API_ADDR"),
		Moderation:    util.ParseBoolEnv("CALMPIPE_MODERATION", false),
		MoodThreshold: util.ParseFloatEnv("CALMPIPE_MOOD_THRESHOLD", mood.DefaultConfidenceThreshold),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CALMPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CALMPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_BASE_URL_SET", config.OpenAIBase != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"OPENAI_TIMEOUT_SECONDS", config.OpenAITimeout,
		"API_ADDR", config.APIAddr,
		"CALMPIPE_MODERATION", config.Moderation,
		"CALMPIPE_MOOD_THRESHOLD", config.MoodThreshold)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for CalmPipe data (overrides $CALMPIPE_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the interaction store (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiBase:    flag.String("openai-base-url", config.OpenAIBase, "OpenAI-compatible base URL (overrides $OPENAI_BASE_URL)"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "completion model (overrides $OPENAI_MODEL)"),
		openaiTimeout: flag.Int("openai-timeout", config.OpenAITimeout, "completion timeout in seconds, 0 for the client default (overrides $OPENAI_TIMEOUT_SECONDS)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		moderation:    flag.Bool("moderation", config.Moderation, "enable the secondary moderation opinion (overrides $CALMPIPE_MODERATION)"),
		moodThreshold: flag.Float64("mood-threshold", config.MoodThreshold, "confidence below which the mood reads neutral (overrides $CALMPIPE_MOOD_THRESHOLD)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"moderation", *flags.moderation)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgres")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiBase != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.openaiBase))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.openaiTimeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithTimeout(time.Duration(*flags.openaiTimeout)*time.Second))
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
