package main

import (
	"flag"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/store"
	"github.com/BTreeMap/PizzaPipe/internal/util"
)

// clearEnv blanks every variable loadEnvironmentConfig reads, prefixed or not.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PIZZAPIPE_STATE_DIR", "DATABASE_DSN", "DATABASE_URL", "FIREBASE_DATABASE_URL",
		"WHATSAPP_DB_DSN", "GOOGLE_APPLICATION_CREDENTIALS", "OPENAI_API_KEY", "OPENAI_MODEL",
		"API_ADDR", "REDIS_ADDR", "REDIS_PASSWORD", "SESSION_TTL", "CATALOG_FILE", "MENU_FILE",
		"MENU_IMAGE_URL", "USE_WHATSMEOW",
	} {
		t.Setenv(key, "")
		t.Setenv(util.EnvPrefix+key, "")
	}
}

func parseTestFlags(t *testing.T, config Config, args ...string) Flags {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags, err := parseCommandLineFlags(fs, args, config)
	if err != nil {
		t.Fatalf("parseCommandLineFlags failed: %v", err)
	}
	return flags
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("Expected default state dir %q, got %q", DefaultStateDir, config.StateDir)
	}
	expectedWhatsAppDSN := "file:" + filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	if config.WhatsAppDBDSN != expectedWhatsAppDSN {
		t.Errorf("Expected default WhatsApp DSN %q, got %q", expectedWhatsAppDSN, config.WhatsAppDBDSN)
	}
	expectedAppDSN := filepath.Join(DefaultStateDir, DefaultAppDBFileName)
	if config.ApplicationDBDSN != expectedAppDSN {
		t.Errorf("Expected default app DSN %q, got %q", expectedAppDSN, config.ApplicationDBDSN)
	}
	if config.SessionTTL != store.DefaultSessionTTL {
		t.Errorf("Expected default session TTL, got %v", config.SessionTTL)
	}
	if config.UseWhatsmeow {
		t.Error("Expected Twilio transport by default")
	}
}

func TestLoadEnvironmentConfigDSNPrecedence(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"DATABASE_URL", map[string]string{"DATABASE_URL": "postgres://u:p@localhost/legacy"}, "postgres://u:p@localhost/legacy"},
		{"DATABASE_DSN wins", map[string]string{
			"DATABASE_DSN": "postgres://u:p@localhost/preferred",
			"DATABASE_URL": "postgres://u:p@localhost/legacy",
		}, "postgres://u:p@localhost/preferred"},
		{"Firebase URL", map[string]string{"FIREBASE_DATABASE_URL": "https://pizza.firebaseio.com"}, "https://pizza.firebaseio.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := loadEnvironmentConfig().ApplicationDBDSN; got != tt.want {
				t.Errorf("Expected app DSN %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoadEnvironmentConfigCustomStateDir(t *testing.T) {
	clearEnv(t)
	customStateDir := "/tmp/custom_pizzapipe"
	t.Setenv("PIZZAPIPE_STATE_DIR", customStateDir)
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("USE_WHATSMEOW", "yes")

	config := loadEnvironmentConfig()
	if config.StateDir != customStateDir {
		t.Errorf("Expected custom state dir %q, got %q", customStateDir, config.StateDir)
	}
	if config.ApplicationDBDSN != filepath.Join(customStateDir, DefaultAppDBFileName) {
		t.Errorf("Expected app DSN in custom state dir, got %q", config.ApplicationDBDSN)
	}
	if config.SessionTTL != 2*time.Hour {
		t.Errorf("Expected session TTL 2h, got %v", config.SessionTTL)
	}
	if !config.UseWhatsmeow {
		t.Error("Expected USE_WHATSMEOW to enable whatsmeow")
	}
}

func TestLoadEnvironmentConfigPrefixedOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PIZZAPIPE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("PIZZAPIPE_DATABASE_URL", "postgres://u:p@localhost/pizza")
	t.Setenv("PIZZAPIPE_MENU_IMAGE_URL", "https://example.com/cardapio.png")

	config := loadEnvironmentConfig()
	if config.RedisAddr != "redis.internal:6379" {
		t.Errorf("Expected prefixed Redis address, got %q", config.RedisAddr)
	}
	if config.ApplicationDBDSN != "postgres://u:p@localhost/pizza" {
		t.Errorf("Expected prefixed database URL, got %q", config.ApplicationDBDSN)
	}
	flags := parseTestFlags(t, config)
	if flags.menuImageURL != "https://example.com/cardapio.png" {
		t.Errorf("Expected menu image from environment, got %q", flags.menuImageURL)
	}
	if n := len(buildAPIOptions(flags)); n != 2 {
		t.Errorf("Expected Redis and menu image options, got %d", n)
	}
}

func TestLoadEnvironmentConfigInvalidSessionTTL(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_TTL", "forever")
	if got := loadEnvironmentConfig().SessionTTL; got != store.DefaultSessionTTL {
		t.Errorf("Expected default TTL for invalid value, got %v", got)
	}
}

func TestParseCommandLineFlagsStateDirMovesDefaults(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	flags := parseTestFlags(t, config, "--state-dir", "/srv/pizza")

	if flags.dbDSN != filepath.Join("/srv/pizza", DefaultAppDBFileName) {
		t.Errorf("Expected app DSN to follow state dir, got %q", flags.dbDSN)
	}
	if flags.waDBDSN != "file:/srv/pizza/whatsmeow.db?_foreign_keys=on" {
		t.Errorf("Expected WhatsApp DSN to follow state dir, got %q", flags.waDBDSN)
	}
}

func TestParseCommandLineFlagsExplicitDSNKept(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	flags := parseTestFlags(t, config, "--state-dir", "/srv/pizza", "--db-dsn", "postgres://u:p@db/pizza")
	if flags.dbDSN != "postgres://u:p@db/pizza" {
		t.Errorf("Explicit DSN must win, got %q", flags.dbDSN)
	}
}

func TestParseCommandLineFlagsFirebaseURL(t *testing.T) {
	clearEnv(t)
	flags := parseTestFlags(t, loadEnvironmentConfig(), "--firebase-url", "https://pizza.firebaseio.com")
	if flags.dbDSN != "https://pizza.firebaseio.com" {
		t.Errorf("Expected Firebase URL as DSN, got %q", flags.dbDSN)
	}
}

func TestParseCommandLineFlagsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseCommandLineFlags(fs, []string{"--default-cron", "* * * * *"}, Config{}); err == nil {
		t.Error("Expected error for unknown flag")
	}
}

func TestBuildStoreOptions(t *testing.T) {
	tests := []struct {
		name      string
		flags     Flags
		wantCount int
		wantDSN   string
	}{
		{"in-memory", Flags{}, 0, ""},
		{"sqlite", Flags{dbDSN: "/tmp/pizzapipe.db"}, 1, "/tmp/pizzapipe.db"},
		{"postgres", Flags{dbDSN: "postgres://u:p@db/pizza"}, 1, "postgres://u:p@db/pizza"},
		{"firebase with credentials", Flags{dbDSN: "https://pizza.firebaseio.com", firebaseCredentials: "/etc/key.json"}, 2, "https://pizza.firebaseio.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := buildStoreOptions(tt.flags)
			if len(opts) != tt.wantCount {
				t.Fatalf("Expected %d options, got %d", tt.wantCount, len(opts))
			}
			var cfg store.Opts
			for _, opt := range opts {
				opt(&cfg)
			}
			if cfg.DSN != tt.wantDSN {
				t.Errorf("Expected DSN %q, got %q", tt.wantDSN, cfg.DSN)
			}
		})
	}
}

func TestBuildOptionCounts(t *testing.T) {
	flags := Flags{
		qrOutput:    "/tmp/qr.txt",
		numeric:     true,
		waDBDSN:     "file:/tmp/wa.db?_foreign_keys=on",
		openaiKey:   "sk-test",
		openaiModel: "gpt-4o",
		apiAddr:     ":9090",
		catalogFile: "steps.yaml",
		menuFile:    "menu.yaml",
		redisAddr:   "localhost:6379",
		whatsmeow:   true,
	}
	if n := len(buildWhatsAppOptions(flags)); n != 3 {
		t.Errorf("Expected 3 WhatsApp options, got %d", n)
	}
	if n := len(buildGenAIOptions(flags)); n != 2 {
		t.Errorf("Expected 2 GenAI options, got %d", n)
	}
	if n := len(buildAPIOptions(flags)); n != 5 {
		t.Errorf("Expected 5 API options, got %d", n)
	}
	if n := len(buildAPIOptions(Flags{})); n != 0 {
		t.Errorf("Expected no API options, got %d", n)
	}
}
