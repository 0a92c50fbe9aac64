package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/verigate/session-cli/apiclient"
	"github.com/verigate/session-cli/store"
)

// Store backends selectable with STORE.
const (
	storeFile   = "file"
	storeSQLite = "sqlite"
	storeMemory = "memory"
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()
}

// flags holds the raw persistent flag values; empty means "not given".
type flags struct {
	serverURL      string
	profile        string
	store          string
	tokenFile      string
	dbPath         string
	loginPath      string
	refreshPath    string
	logoutPath     string
	requestTimeout string
	maxRetries     string
	logLevel       string
}

// config is the resolved configuration of one invocation.
type config struct {
	serverURL      string
	profile        string
	store          string
	tokenFile      string
	dbPath         string
	loginPath      string
	refreshPath    string
	logoutPath     string
	requestTimeout time.Duration
	maxRetries     int
	logLevel       zerolog.Level
}

// loadConfig resolves every setting with priority: flag > env > default
func loadConfig(f *flags) (*config, error) {
	cfg := &config{
		serverURL:   getConfig(f.serverURL, "SERVER_URL", "http://localhost:8080"),
		profile:     getConfig(f.profile, "PROFILE", store.DefaultProfile),
		store:       strings.ToLower(getConfig(f.store, "STORE", storeFile)),
		tokenFile:   getConfig(f.tokenFile, "TOKEN_FILE", ".verigate-tokens.json"),
		dbPath:      getConfig(f.dbPath, "DB_PATH", ".verigate.db"),
		loginPath:   getConfig(f.loginPath, "LOGIN_PATH", apiclient.DefaultLoginPath),
		refreshPath: getConfig(f.refreshPath, "REFRESH_PATH", apiclient.DefaultRefreshPath),
		logoutPath:  getConfig(f.logoutPath, "LOGOUT_PATH", apiclient.DefaultLogoutPath),
	}

	if err := validateServerURL(cfg.serverURL); err != nil {
		return nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}

	switch cfg.store {
	case storeFile, storeSQLite, storeMemory:
	default:
		return nil, fmt.Errorf("STORE must be one of file, sqlite, memory, got: %s", cfg.store)
	}

	timeout, err := time.ParseDuration(
		getConfig(f.requestTimeout, "REQUEST_TIMEOUT", apiclient.DefaultRequestTimeout.String()),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive, got: %s", timeout)
	}
	cfg.requestTimeout = timeout

	retries, err := strconv.Atoi(getConfig(f.maxRetries, "MAX_RETRIES", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
	}
	if retries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must not be negative, got: %d", retries)
	}
	cfg.maxRetries = retries

	level, err := zerolog.ParseLevel(getConfig(f.logLevel, "LOG_LEVEL", zerolog.Disabled.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.logLevel = level

	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// warnInsecure prints the plaintext warning for http:// servers.
func warnInsecure(w io.Writer, serverURL string) {
	if !strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		return
	}
	fmt.Fprintln(w, "⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!")
	fmt.Fprintln(w, "⚠️  This is only safe for local development. Use HTTPS in production.")
	fmt.Fprintln(w)
}

// newLogger builds the console logger on w and makes it the global one, so
// that the stores log through it as well.
func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
	log.Logger = logger
	return logger
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
