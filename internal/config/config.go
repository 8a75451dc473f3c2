package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is built once at process start and passed by reference into the
// components that need it. No package keeps its own global client.
type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	GatewayBaseURL        string
	GatewayConsumerKey    string
	GatewayConsumerSecret string
	GatewayShortCode      string
	GatewayPasskey        string
	GatewayCallbackURL    string
	GatewayTimeout        time.Duration

	MaxPollAttempts int
	PollInterval    time.Duration

	// InventoryStore selects "memory" or "redis".
	InventoryStore string
	RedisAddr      string

	// NotifyBrokers enables the kafka notifier when non-empty; otherwise the
	// in-process bus is used.
	NotifyBrokers []string
	NotifyTopic   string

	// SeedStock is parsed from "p1:10,p2:5" into initial stock records.
	SeedStock map[string]int
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getenvDefault("SERVICE_NAME", "storefront"),
		Env:         getenvDefault("ENV", "dev"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),

		GatewayBaseURL:        getenvDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		GatewayConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		GatewayConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		GatewayShortCode:      getenvDefault("MPESA_SHORTCODE", "174379"),
		GatewayPasskey:        os.Getenv("MPESA_PASSKEY"),
		GatewayCallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),

		InventoryStore: getenvDefault("INVENTORY_STORE", "memory"),
		RedisAddr:      getenvDefault("REDIS_ADDR", "localhost:6379"),
		NotifyTopic:    getenvDefault("NOTIFY_TOPIC", "order-events"),
	}

	var err error
	if cfg.GatewayTimeout, err = getenvDuration("MPESA_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getenvDuration("PAYMENT_POLL_INTERVAL", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxPollAttempts, err = getenvInt("PAYMENT_POLL_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}

	if brokers := os.Getenv("NOTIFY_BROKERS"); brokers != "" {
		cfg.NotifyBrokers = strings.Split(brokers, ",")
	}

	if cfg.SeedStock, err = parseSeedStock(os.Getenv("SEED_STOCK")); err != nil {
		return nil, err
	}

	switch cfg.InventoryStore {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("config: unknown INVENTORY_STORE %q", cfg.InventoryStore)
	}

	return cfg, nil
}

func parseSeedStock(raw string) (map[string]int, error) {
	seed := make(map[string]int)
	if raw == "" {
		return seed, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: malformed SEED_STOCK entry %q", pair)
		}
		qty, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("config: malformed SEED_STOCK quantity %q: %w", parts[1], err)
		}
		seed[parts[0]] = qty
	}
	return seed, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
