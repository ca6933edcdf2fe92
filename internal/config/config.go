package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"fcmrelay/internal/fcm"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	FCM struct {
		APIKey      string        `validate:"required"`
		Endpoint    string        `validate:"required,url"`
		MaxAttempts int           `validate:"min=1,max=20"`
		Timeout     time.Duration `validate:"gt=0"`
		RateLimit   float64       `validate:"gte=0"`
		Parallel    int           `validate:"min=1,max=64"`
	}
	HTTP struct {
		Addr       string `validate:"required"`
		Tokens     []string
		ClientRate float64 `validate:"gte=0"`
		MaxBatch   int     `validate:"min=1,max=1000"`
	}
	Journal struct {
		Path          string        `validate:"required"`
		Retention     time.Duration `validate:"gt=0"`
		PruneSchedule string        `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var err error
	c.Env = getenv("ENV", "prod")
	c.FCM.APIKey = os.Getenv("FCM_API_KEY")
	c.FCM.Endpoint = getenv("FCM_ENDPOINT", fcm.DefaultEndpoint)
	if c.FCM.MaxAttempts, err = getint("FCM_MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if c.FCM.Timeout, err = getduration("FCM_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if c.FCM.RateLimit, err = getfloat("FCM_RATE_LIMIT", 0); err != nil {
		return Config{}, err
	}
	if c.FCM.Parallel, err = getint("FCM_PARALLEL", 4); err != nil {
		return Config{}, err
	}
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.HTTP.Tokens = splitList(os.Getenv("HTTP_API_TOKENS"))
	if c.HTTP.ClientRate, err = getfloat("HTTP_CLIENT_RATE", 0); err != nil {
		return Config{}, err
	}
	if c.HTTP.MaxBatch, err = getint("HTTP_MAX_BATCH", 100); err != nil {
		return Config{}, err
	}
	c.Journal.Path = getenv("JOURNAL_PATH", "data/fcmrelay.db")
	if c.Journal.Retention, err = getduration("JOURNAL_RETENTION", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	c.Journal.PruneSchedule = getenv("JOURNAL_PRUNE_SCHEDULE", "0 0 * * * *")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/fcmrelay.log")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getfloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return f, nil
}

func getduration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
