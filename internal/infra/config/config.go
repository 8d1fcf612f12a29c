package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates configuration for the inbox client and the dev backend, loaded from
// environment variables.
type Config struct {
	Env      string
	LogLevel string

	APIURL          string
	WSURL           string
	Token           string
	UserID          string
	ThreadPageSize  int
	MessagePageSize int
	HTTPTimeout     time.Duration
	ReconnectDelay  time.Duration

	HTTPAddr         string
	DevUsers         []DevUser
	KafkaBrokers     []string
	KafkaTopicPrefix string
	S3Endpoint       string
	S3PublicEndpoint string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool
}

// DevUser is a dev backend account. An empty Token is generated at startup.
type DevUser struct {
	ID    string
	Name  string
	Token string
}

// Load reads an optional .env file and parses configuration from the current environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		APIURL:           strings.TrimRight(getEnv("INBOX_API_URL", "http://localhost:8080"), "/"),
		WSURL:            getEnv("INBOX_WS_URL", ""),
		Token:            os.Getenv("INBOX_TOKEN"),
		UserID:           os.Getenv("INBOX_USER_ID"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3PublicEndpoint: getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "rentme-chat-media"),
	}
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.APIURL)
	}
	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.ThreadPageSize, err = parseIntEnv("INBOX_THREAD_PAGE_SIZE", 20); err != nil {
		return Config{}, err
	}
	if cfg.MessagePageSize, err = parseIntEnv("INBOX_MESSAGE_PAGE_SIZE", 50); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = parseDurationEnv("INBOX_HTTP_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectDelay, err = parseDurationEnv("INBOX_RECONNECT_DELAY", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.S3UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}
	if cfg.DevUsers, err = parseDevUsers(getEnv("DEV_USERS", "alice:Alice,bob:Bob")); err != nil {
		return Config{}, err
	}

	if cfg.ThreadPageSize <= 0 || cfg.MessagePageSize <= 0 {
		return Config{}, fmt.Errorf("page sizes must be positive")
	}
	return cfg, nil
}

func deriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://") + "/ws"
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://") + "/ws"
	default:
		return apiURL + "/ws"
	}
}

// parseDevUsers reads "id:name[:token]" entries separated by commas.
func parseDevUsers(raw string) ([]DevUser, error) {
	var users []DevUser
	seen := map[string]struct{}{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		u := DevUser{ID: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			u.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			u.Token = strings.TrimSpace(parts[2])
		}
		if u.ID == "" {
			return nil, fmt.Errorf("invalid DEV_USERS entry %q", entry)
		}
		if _, dup := seen[u.ID]; dup {
			return nil, fmt.Errorf("duplicate DEV_USERS id %q", u.ID)
		}
		seen[u.ID] = struct{}{}
		if u.Name == "" {
			u.Name = u.ID
		}
		users = append(users, u)
	}
	return users, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return n, nil
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
