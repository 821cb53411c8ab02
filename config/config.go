package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL string
	ServerPort  int

	// Внешний сервис сеток
	BracketAPIURL       string
	BracketAPIToken     string
	BracketMaxRetries   int
	BracketRetryBase    time.Duration
	BracketRetryMax     time.Duration
	BracketRatePerMin   int
	BracketCacheEntries int
	BracketCacheTTL     time.Duration

	// Чат-платформа
	DiscordToken     string
	DiscordChannelID string

	// Жизненный цикл матчей
	CheckInWindow time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load() // Отсутствие .env не считаем фатальным

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	apiURL := os.Getenv("BRACKET_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("BRACKET_API_URL environment variable is not set")
	}

	apiToken := os.Getenv("BRACKET_API_TOKEN")
	if apiToken == "" {
		return nil, fmt.Errorf("BRACKET_API_TOKEN environment variable is not set")
	}

	discordToken := os.Getenv("DISCORD_BOT_TOKEN")
	if discordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN environment variable is not set")
	}

	discordChannel := os.Getenv("DISCORD_MATCH_CHANNEL_ID")
	if discordChannel == "" {
		return nil, fmt.Errorf("DISCORD_MATCH_CHANNEL_ID environment variable is not set")
	}

	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	retries, err := intEnv("BRACKET_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	ratePerMin, err := intEnv("BRACKET_RATE_PER_MINUTE", 75)
	if err != nil {
		return nil, err
	}
	cacheEntries, err := intEnv("BRACKET_CACHE_ENTRIES", 128)
	if err != nil {
		return nil, err
	}

	retryBase, err := durationEnv("BRACKET_RETRY_BASE", time.Second)
	if err != nil {
		return nil, err
	}
	retryMax, err := durationEnv("BRACKET_RETRY_MAX", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := durationEnv("BRACKET_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	checkInWindow, err := durationEnv("CHECK_IN_WINDOW", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:         dbURL,
		ServerPort:          port,
		BracketAPIURL:       apiURL,
		BracketAPIToken:     apiToken,
		BracketMaxRetries:   retries,
		BracketRetryBase:    retryBase,
		BracketRetryMax:     retryMax,
		BracketRatePerMin:   ratePerMin,
		BracketCacheEntries: cacheEntries,
		BracketCacheTTL:     cacheTTL,
		DiscordToken:        discordToken,
		DiscordChannelID:    discordChannel,
		CheckInWindow:       checkInWindow,
	}, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return v, nil
}
