package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/store"
	"github.com/BTreeMap/PingPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PingPipe state data
	DefaultStateDir = "/var/lib/pingpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "pingpipe.db"
	// DefaultRefreshCron reloads today's entries from the store.
	DefaultRefreshCron = "*/15 * * * *"
	// DefaultFrequencyMin is the cadence period used when none is configured.
	DefaultFrequencyMin = 15
)

func main() {
	initializeLogger(os.Getenv("PINGPIPE_LOG_LEVEL"))

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping PingPipe", "state_dir", flags.StateDir, "dsn_type", store.DetectDSNType(flags.DBDSN), "api_addr", flags.APIAddr)
	if err := run(flags); err != nil {
		slog.Error("PingPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PingPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	APIAddr        string
	OpenAIKey      string
	OpenAIModel    string
	NotifyTo       string
	NotifyWhatsApp bool
	UserID         string
	AccountType    string
	FrequencyMin   int
	AutoStart      bool
	RefreshCron    string
}

// Flags holds the final settings after command line overrides.
type Flags struct {
	StateDir       string
	DBDSN          string
	APIAddr        string
	OpenAIKey      string
	OpenAIModel    string
	NotifyTo       string
	NotifyWhatsApp bool
	UserID         string
	AccountType    models.AccountType
	FrequencyMin   int
	AutoStart      bool
	RefreshCron    string
}

// parseLogLevel maps names such as "debug" or "warn" to a slog level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// initializeLogger sets up structured logging at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
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
		StateDir:       os.Getenv("PINGPIPE_STATE_DIR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		APIAddr:        os.Getenv("API_ADDR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		NotifyTo:       os.Getenv("PINGPIPE_NOTIFY_TO"),
		NotifyWhatsApp: util.ParseBoolEnv("PINGPIPE_NOTIFY_WHATSAPP", false),
		UserID:         os.Getenv("PINGPIPE_USER_ID"),
		AccountType:    os.Getenv("PINGPIPE_ACCOUNT_TYPE"),
		FrequencyMin:   util.ParseIntEnv("PINGPIPE_FREQUENCY_MIN", DefaultFrequencyMin),
		AutoStart:      util.ParseBoolEnv("PINGPIPE_AUTOSTART", false),
		RefreshCron:    os.Getenv("PINGPIPE_REFRESH_CRON"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PINGPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.AccountType == "" {
		config.AccountType = string(models.AccountTypeTrial)
	}
	if config.RefreshCron == "" {
		config.RefreshCron = DefaultRefreshCron
	}

	slog.Debug("environment variables loaded",
		"PINGPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"PINGPIPE_NOTIFY_TO_SET", config.NotifyTo != "",
		"PINGPIPE_FREQUENCY_MIN", config.FrequencyMin,
		"PINGPIPE_REFRESH_CRON", config.RefreshCron)
	return config
}

// parseCommandLineFlags parses args on fs with environment defaults. Without an
// explicit DSN, SQLite in the state directory is used.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var f Flags
	var accountType string
	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory for PingPipe data (overrides $PINGPIPE_STATE_DIR)")
	fs.StringVar(&f.DBDSN, "db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&f.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key for suggestions (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	fs.StringVar(&f.NotifyTo, "notify-to", config.NotifyTo, "phone number to text new popups to (overrides $PINGPIPE_NOTIFY_TO)")
	fs.BoolVar(&f.NotifyWhatsApp, "notify-whatsapp", config.NotifyWhatsApp, "send notifications over WhatsApp instead of SMS")
	fs.StringVar(&f.UserID, "user-id", config.UserID, "user ID recorded with entries (overrides $PINGPIPE_USER_ID)")
	fs.StringVar(&accountType, "account-type", config.AccountType, "account type: trial, paid or expired")
	fs.IntVar(&f.FrequencyMin, "frequency", config.FrequencyMin, "cadence period in minutes")
	fs.BoolVar(&f.AutoStart, "autostart", config.AutoStart, "start the cadence at launch")
	fs.StringVar(&f.RefreshCron, "refresh-cron", config.RefreshCron, "cron schedule for reloading entries")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	f.AccountType = models.AccountType(strings.ToLower(accountType))
	switch f.AccountType {
	case models.AccountTypeTrial, models.AccountTypePaid, models.AccountTypeExpired:
	default:
		return Flags{}, fmt.Errorf("unknown account type %q", accountType)
	}
	if f.FrequencyMin <= 0 {
		return Flags{}, fmt.Errorf("frequency must be positive, got %d", f.FrequencyMin)
	}
	if f.DBDSN == "" {
		f.DBDSN = filepath.Join(f.StateDir, DefaultDBFileName)
	}

	slog.Debug("flags parsed",
		"stateDir", f.StateDir,
		"dbDSN_set", f.DBDSN != "",
		"apiAddr", f.APIAddr,
		"openaiKeySet", f.OpenAIKey != "",
		"notifyToSet", f.NotifyTo != "",
		"accountType", f.AccountType,
		"frequency", f.FrequencyMin,
		"autostart", f.AutoStart)
	return f, nil
}

// ensureDirectoriesExist creates the state directory and, for file-based
// databases, the database's directory.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{flags.StateDir}
	if store.DetectDSNType(flags.DBDSN) == "sqlite3" {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(flags.DBDSN, "file:")))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(flags.DBDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return []store.Option{store.WithPostgresDSN(flags.DBDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", flags.DBDSN)
	return []store.Option{store.WithSQLiteDSN(flags.DBDSN)}
}

// openStore opens the backend selected by the DSN.
func openStore(flags Flags) (store.Backend, error) {
	opts := buildStoreOptions(flags)
	if store.DetectDSNType(flags.DBDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}
