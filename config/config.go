// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	configPath = pflag.String("config", "", "Path to the config.toml file")

	validLogLevels     = []string{"debug", "info", "warn", "error", "fatal"}
	validEnvs          = []string{"development", "production", "test"}
	validDrivers       = []string{"postgres", "sqlite"}
	validStorageTypes  = []string{"s3", "r2", "none"}
	validMailProviders = []string{"smtp", "sendgrid", "log"}
	validPayProviders  = []string{"sandbox", "http"}
	validJWTAlgorithms = []string{"HS256", "HS384", "HS512"}
)

// ErrMissingSecret is returned when no JWT secret is configured
var ErrMissingSecret = errors.New("jwt.secret is not set")

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	// .env is optional, real env vars always win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file, %w", err)
	}

	err := Load(*configPath)
	if errors.Is(err, ErrMissingSecret) {
		fmt.Println("WARNING: You haven't set a JWT secret, so it has been generated for you. Please set it as an environment variable or in the config.toml file.\nYour random JWT secret:\n\n" + genSecret() + "\n\nPaste it into your config.toml file.")
		os.Exit(0)
	}

	return err
}

// Load reads the config file at path, or config.toml in the working
// directory when path is empty, and validates the result. A missing config
// file is fine as long as the environment provides the required keys.
func Load(path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs()
	setDefaults()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); !ok || path != "" {
			return fmt.Errorf("failed to read config file, %w", err)
		}
	}

	return Validate()
}

func bindEnvs() {
	keys := []string{
		"app.env", "app.log_level", "app.client_url",
		"host.port", "host.cors_origins", "host.ssl.enabled",
		"db.driver", "db.host", "db.port", "db.user", "db.password", "db.name", "db.sslmode", "db.path",
		"jwt.secret", "jwt.algorithm", "jwt.issuer",
		"jwt.access_ttl", "jwt.refresh_ttl", "jwt.reset_ttl", "jwt.verify_ttl",
		"mail.provider", "mail.host", "mail.port", "mail.username", "mail.password",
		"mail.sender", "mail.sendgrid_key", "mail.workers", "mail.queue_size",
		"storage.type", "storage.bucket", "storage.region", "storage.access_key_id",
		"storage.secret_access_key", "storage.account_id", "storage.public_url",
		"upload.max_size", "upload.allowed_types",
		"payment.provider", "payment.endpoint", "payment.api_key", "payment.timeout",
		"security.rate_limit.api", "security.rate_limit.auth", "security.rate_limit.window",
		"security.turnstile.enabled", "security.turnstile.secret_token",
		"rollbar.token",
		"cleanup.tokens_schedule", "cleanup.accounts_schedule", "auth.unverified_ttl",
	}

	// jwt.secret <= JWT_SECRET
	for _, k := range keys {
		v.BindEnv(k, strings.ToUpper(strings.ReplaceAll(k, ".", "_")))
	}
}

func setDefaults() {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.client_url", "http://localhost:3000")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("host.ssl.enabled", false)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "school.db")

	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.issuer", "school-api")
	v.SetDefault("jwt.access_ttl", "15m")
	v.SetDefault("jwt.refresh_ttl", "168h")
	v.SetDefault("jwt.reset_ttl", "10m")
	v.SetDefault("jwt.verify_ttl", "24h")

	v.SetDefault("mail.provider", "log")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.sender", "no-reply@schoolapp.com")
	v.SetDefault("mail.workers", 2)
	v.SetDefault("mail.queue_size", 100)

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.region", "auto")

	v.SetDefault("upload.max_size", 10)
	v.SetDefault("upload.allowed_types", []string{
		"image/jpeg", "image/png", "application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain",
	})

	v.SetDefault("payment.provider", "sandbox")
	v.SetDefault("payment.timeout", "30s")

	v.SetDefault("security.rate_limit.api", 100)
	v.SetDefault("security.rate_limit.auth", 20)
	v.SetDefault("security.rate_limit.window", "15m")
	v.SetDefault("security.turnstile.enabled", false)

	v.SetDefault("cleanup.tokens_schedule", "@daily")
	v.SetDefault("cleanup.accounts_schedule", "@weekly")
	v.SetDefault("auth.unverified_ttl", "168h")
}

// Validate checks the loaded values. Upload size is converted from
// megabytes to bytes on success.
func Validate() error {
	if !slices.Contains(validEnvs, v.GetString("app.env")) {
		return errors.New("invalid app.env provided")
	}

	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if p := v.GetInt("host.port"); p <= 0 || p > 65535 {
		return errors.New("invalid port provided")
	}

	switch v.GetString("db.driver") {
	case "postgres":
		if v.GetString("db.name") == "" {
			return errors.New("db.name can't be empty")
		}
		if v.GetString("db.user") == "" {
			return errors.New("db.user can't be empty")
		}
	case "sqlite":
		if v.GetString("db.path") == "" {
			return errors.New("db.path can't be empty")
		}
	default:
		return fmt.Errorf("invalid database driver provided, expected one of %v", validDrivers)
	}

	if !slices.Contains(validJWTAlgorithms, v.GetString("jwt.algorithm")) {
		return errors.New("invalid jwt.algorithm provided")
	}

	for _, k := range []string{"jwt.access_ttl", "jwt.refresh_ttl", "jwt.reset_ttl", "jwt.verify_ttl", "payment.timeout", "security.rate_limit.window", "auth.unverified_ttl"} {
		if v.GetDuration(k) <= 0 {
			return fmt.Errorf("%s must be a positive duration", k)
		}
	}

	switch v.GetString("mail.provider") {
	case "smtp":
		if v.GetString("mail.host") == "" {
			return errors.New("mail.host can't be empty")
		}
	case "sendgrid":
		if v.GetString("mail.sendgrid_key") == "" {
			return errors.New("mail.sendgrid_key can't be empty")
		}
	case "log":
	default:
		return fmt.Errorf("invalid mail provider provided, expected one of %v", validMailProviders)
	}

	if v.GetInt("mail.workers") <= 0 || v.GetInt("mail.queue_size") <= 0 {
		return errors.New("mail.workers and mail.queue_size must be bigger than 0")
	}

	switch v.GetString("storage.type") {
	case "s3", "r2":
		if v.GetString("storage.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
		if v.GetString("storage.access_key_id") == "" {
			return errors.New("access key id can't be empty")
		}
		if v.GetString("storage.secret_access_key") == "" {
			return errors.New("secret access key can't be empty")
		}
		if v.GetString("storage.type") == "r2" && v.GetString("storage.account_id") == "" {
			return errors.New("account id can't be empty")
		}
	case "none":
		zap.L().Warn("No object storage configured, uploads with attachments will be rejected")
	default:
		return fmt.Errorf("invalid storage type provided, expected one of %v", validStorageTypes)
	}

	if v.GetInt64("upload.max_size") <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	if len(v.GetStringSlice("upload.allowed_types")) == 0 {
		zap.L().Warn("No upload.allowed_types specified, any file type will be accepted")
	}

	switch v.GetString("payment.provider") {
	case "http":
		if v.GetString("payment.endpoint") == "" {
			return errors.New("payment.endpoint can't be empty")
		}
	case "sandbox":
		if v.GetString("app.env") == "production" {
			zap.L().Warn("Sandbox payment processor in use, no real money will be charged")
		}
	default:
		return fmt.Errorf("invalid payment provider provided, expected one of %v", validPayProviders)
	}

	if v.GetInt("security.rate_limit.api") <= 0 || v.GetInt("security.rate_limit.auth") <= 0 {
		return errors.New("rate limits must be bigger than 0")
	}

	if !v.GetBool("security.turnstile.enabled") {
		fmt.Println("[WARNING]: Cloudflare's turnstile is disabled. Some public endpoints won't be guarded against bots")
	} else if v.GetString("security.turnstile.secret_token") == "" {
		return errors.New("turnstile secret token is missing")
	}

	if v.GetString("jwt.secret") == "" {
		return ErrMissingSecret
	}

	// Validate may run more than once, only convert values still in MB
	if size := v.GetInt64("upload.max_size"); size < 1<<20 {
		v.Set("upload.max_size", size<<20)
	}

	return nil
}
