package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	Environment           string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CacheTTLSeconds       int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ShopifyShopDomain     string
	ShopifyAccessToken    string
	ShopifyAPIVersion     string
	ShopifyTimeoutSeconds int
	KafkaBrokers          []string
	KafkaTopicSales       string
	KafkaTopicInventory   string
	KafkaClientID         string
	KafkaAcks             string
	KafkaRetries          int
	LowStockThreshold     int
}

func Load() Config {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Environment:           getEnv("ENVIRONMENT", "development"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            os.Getenv("SQLITE_PATH"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		CacheTTLSeconds:       positive(getEnvAsInt("CACHE_TTL_SECONDS", 60), 60),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positive(getEnvAsInt("ACCESS_TOKEN_TTL_MINUTES", 480), 480),
		ShopifyShopDomain:     strings.TrimSpace(os.Getenv("SHOPIFY_SHOP_DOMAIN")),
		ShopifyAccessToken:    strings.TrimSpace(os.Getenv("SHOPIFY_ACCESS_TOKEN")),
		ShopifyAPIVersion:     getEnv("SHOPIFY_API_VERSION", "2024-01"),
		ShopifyTimeoutSeconds: positive(getEnvAsInt("SHOPIFY_TIMEOUT_SECONDS", 20), 20),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicSales:       getEnv("KAFKA_TOPIC_SALES", "pos.sales"),
		KafkaTopicInventory:   getEnv("KAFKA_TOPIC_INVENTORY", "pos.inventory"),
		KafkaClientID:         getEnv("KAFKA_CLIENT_ID", "voyapos-backend"),
		KafkaAcks:             getEnv("KAFKA_ACKS", "all"),
		KafkaRetries:          getEnvAsInt("KAFKA_RETRIES", 3),
		LowStockThreshold:     positive(getEnvAsInt("LOW_STOCK_THRESHOLD", 5), 5),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ShopifyEnabled() bool {
	return c.ShopifyShopDomain != "" && c.ShopifyAccessToken != ""
}

func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c Config) ShopifyTimeout() time.Duration {
	return time.Duration(c.ShopifyTimeoutSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return parsed
}

func positive(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
