package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SHOPIFY_API_VERSION", "")
	t.Setenv("LOW_STOCK_THRESHOLD", "")
	t.Setenv("CACHE_TTL_SECONDS", "-4")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("expected default address :8080, got %s", cfg.Address())
	}
	if cfg.ShopifyAPIVersion != "2024-01" {
		t.Fatalf("expected default shopify api version, got %s", cfg.ShopifyAPIVersion)
	}
	if cfg.LowStockThreshold != 5 {
		t.Fatalf("expected low stock threshold 5, got %d", cfg.LowStockThreshold)
	}
	if cfg.CacheTTL() != 60*time.Second {
		t.Fatalf("expected invalid cache ttl to fall back to 60s, got %s", cfg.CacheTTL())
	}
	if cfg.KafkaEnabled() {
		t.Fatalf("expected kafka disabled without brokers")
	}
}

func TestLoadParsesBrokerListAndShopify(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("SHOPIFY_SHOP_DOMAIN", "voya.myshopify.com")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "shpat_test")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %#v", cfg.KafkaBrokers)
	}
	if !cfg.ShopifyEnabled() {
		t.Fatalf("expected shopify enabled when domain and token are set")
	}
}
