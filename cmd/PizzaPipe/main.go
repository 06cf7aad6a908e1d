// Command PizzaPipe runs the Pizza do Bill WhatsApp ordering service.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/api"
	"github.com/BTreeMap/PizzaPipe/internal/genai"
	"github.com/BTreeMap/PizzaPipe/internal/lockfile"
	"github.com/BTreeMap/PizzaPipe/internal/store"
	"github.com/BTreeMap/PizzaPipe/internal/util"
	"github.com/BTreeMap/PizzaPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PizzaPipe state data
	DefaultStateDir = "/var/lib/pizzapipe"
	// DefaultAppDBFileName is the default SQLite database for users, conversations and sessions
	DefaultAppDBFileName = "pizzapipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	lock, err := lockfile.AcquireLock(flags.stateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lock.Release()

	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping PizzaPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("PizzaPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("PizzaPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir            string
	ApplicationDBDSN    string
	WhatsAppDBDSN       string
	FirebaseCredentials string
	OpenAIKey           string
	OpenAIModel         string
	APIAddr             string
	RedisAddr           string
	RedisPassword       string
	SessionTTL          time.Duration
	CatalogFile         string
	MenuFile            string
	MenuImageURL        string
	UseWhatsmeow        bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput            string
	numeric             bool
	stateDir            string
	dbDSN               string
	waDBDSN             string
	firebaseURL         string
	firebaseCredentials string
	openaiKey           string
	openaiModel         string
	apiAddr             string
	redisAddr           string
	redisPassword       string
	sessionTTL          time.Duration
	catalogFile         string
	menuFile            string
	menuImageURL        string
	whatsmeow           bool
}

// initializeLogger sets up structured logging; PIZZAPIPE_DEBUG enables debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("PIZZAPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		StateDir:            util.Getenv("PIZZAPIPE_STATE_DIR"),
		WhatsAppDBDSN:       util.Getenv("WHATSAPP_DB_DSN"),
		FirebaseCredentials: util.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		OpenAIKey:           util.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         util.Getenv("OPENAI_MODEL"),
		APIAddr:             util.Getenv("API_ADDR"),
		RedisAddr:           util.Getenv("REDIS_ADDR"),
		RedisPassword:       util.Getenv("REDIS_PASSWORD"),
		SessionTTL:          util.ParseDurationEnv("SESSION_TTL", store.DefaultSessionTTL),
		CatalogFile:         util.Getenv("CATALOG_FILE"),
		MenuFile:            util.Getenv("MENU_FILE"),
		MenuImageURL:        util.Getenv("MENU_IMAGE_URL"),
		UseWhatsmeow:        util.ParseBoolEnv("USE_WHATSMEOW", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PIZZAPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// DATABASE_DSN wins over DATABASE_URL, which wins over a Firebase URL.
	for _, key := range []string{"DATABASE_DSN", "DATABASE_URL", "FIREBASE_DATABASE_URL"} {
		if v := util.Getenv(key); v != "" {
			config.ApplicationDBDSN = v
			slog.Debug("Application database configured", "source", key)
			break
		}
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"PIZZAPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"APPLICATION_DB_TYPE", store.DetectDSNType(config.ApplicationDBDSN),
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"REDIS_ADDR", config.RedisAddr,
		"USE_WHATSMEOW", config.UseWhatsmeow)

	return config
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses args with environment defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var flags Flags
	fs.StringVar(&flags.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&flags.numeric, "numeric-code", false, "print the raw login code instead of a QR code")
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for PizzaPipe data (overrides $PIZZAPIPE_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.ApplicationDBDSN, "application database: SQLite path, Postgres DSN or Firebase URL; empty keeps data in memory (overrides $DATABASE_DSN)")
	fs.StringVar(&flags.waDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&flags.firebaseURL, "firebase-url", "", "Firebase Realtime Database URL; replaces --db-dsn when set")
	fs.StringVar(&flags.firebaseCredentials, "firebase-credentials", config.FirebaseCredentials, "Firebase service account key file (overrides $GOOGLE_APPLICATION_CREDENTIALS)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.openaiModel, "openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&flags.redisAddr, "redis-addr", config.RedisAddr, "keep dialogue sessions in Redis at this address (overrides $REDIS_ADDR)")
	fs.StringVar(&flags.redisPassword, "redis-password", config.RedisPassword, "Redis password (overrides $REDIS_PASSWORD)")
	fs.DurationVar(&flags.sessionTTL, "session-ttl", config.SessionTTL, "idle lifetime of Redis sessions (overrides $SESSION_TTL)")
	fs.StringVar(&flags.catalogFile, "catalog-file", config.CatalogFile, "YAML dialogue catalog replacing the embedded one (overrides $CATALOG_FILE)")
	fs.StringVar(&flags.menuFile, "menu-file", config.MenuFile, "YAML menu and price table replacing the embedded one (overrides $MENU_FILE)")
	fs.StringVar(&flags.menuImageURL, "menu-image-url", config.MenuImageURL, "image sent with the menu prompt on the Twilio sandbox (overrides $MENU_IMAGE_URL)")
	fs.BoolVar(&flags.whatsmeow, "whatsmeow", config.UseWhatsmeow, "send through a linked WhatsApp device instead of Twilio (overrides $USE_WHATSMEOW)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if flags.firebaseURL != "" {
		flags.dbDSN = flags.firebaseURL
	}

	// Default file DSNs follow a state directory given on the command line.
	if flags.stateDir != config.StateDir {
		if flags.dbDSN == defaultAppDSN(config.StateDir) {
			flags.dbDSN = defaultAppDSN(flags.stateDir)
		}
		if flags.waDBDSN == defaultWhatsAppDSN(config.StateDir) {
			flags.waDBDSN = defaultWhatsAppDSN(flags.stateDir)
		}
		slog.Debug("Updated default DSNs based on state directory", "state_dir", flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", flags.stateDir,
		"dbDSN_set", flags.dbDSN != "",
		"openaiKeySet", flags.openaiKey != "",
		"apiAddr", flags.apiAddr,
		"whatsmeow", flags.whatsmeow)
	return flags, nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.waDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.waDBDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	switch store.DetectDSNType(flags.dbDSN) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.dbDSN))
	case store.DSNTypeFirebase:
		slog.Debug("Detected Firebase URL, configuring Firebase store")
		storeOpts = append(storeOpts, store.WithFirebaseURL(flags.dbDSN))
		if flags.firebaseCredentials != "" {
			storeOpts = append(storeOpts, store.WithCredentialsFile(flags.firebaseCredentials))
		}
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.dbDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.openaiKey))
	}
	if flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.openaiModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	if flags.catalogFile != "" {
		apiOpts = append(apiOpts, api.WithCatalogFile(flags.catalogFile))
	}
	if flags.menuFile != "" {
		apiOpts = append(apiOpts, api.WithMenuFile(flags.menuFile))
	}
	if flags.menuImageURL != "" {
		apiOpts = append(apiOpts, api.WithMenuImageURL(flags.menuImageURL))
	}
	if flags.redisAddr != "" {
		apiOpts = append(apiOpts, api.WithRedis(flags.redisAddr, flags.redisPassword, flags.sessionTTL))
	}
	if flags.whatsmeow {
		apiOpts = append(apiOpts, api.WithWhatsmeow())
	}
	return apiOpts
}
