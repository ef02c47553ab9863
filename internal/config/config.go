package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	ServiceName string
	AppPort     int

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	UseMemoryStore   bool

	KafkaBrokers string

	StorefrontURL     string
	StorefrontTimeout time.Duration

	SweepInterval time.Duration
	RequestTTL    time.Duration
	CartTTL       time.Duration
}

func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.ServiceName = cast.ToString(getOrReturnDefault("SERVICE_NAME", "dispatch-service"))
	cfg.AppPort = cast.ToInt(getOrReturnDefault("APP_PORT", 8081))

	cfg.PostgresHost = cast.ToString(getOrReturnDefault("POSTGRES_HOST", "localhost"))
	cfg.PostgresPort = cast.ToString(getOrReturnDefault("POSTGRES_PORT", "5432"))
	cfg.PostgresUser = cast.ToString(getOrReturnDefault("POSTGRES_USER", "dispatch"))
	cfg.PostgresPassword = cast.ToString(getOrReturnDefault("POSTGRES_PASSWORD", "dispatch"))
	cfg.PostgresDB = cast.ToString(getOrReturnDefault("POSTGRES_DB", "dispatch"))
	cfg.UseMemoryStore = cast.ToBool(getOrReturnDefault("USE_MEMORY_STORE", false))

	cfg.KafkaBrokers = cast.ToString(getOrReturnDefault("KAFKA_BROKERS", "localhost:9092"))

	cfg.StorefrontURL = cast.ToString(getOrReturnDefault("STOREFRONT_URL", ""))
	cfg.StorefrontTimeout = cast.ToDuration(getOrReturnDefault("STOREFRONT_TIMEOUT", "10s"))

	cfg.SweepInterval = cast.ToDuration(getOrReturnDefault("SWEEP_INTERVAL", "30s"))
	cfg.RequestTTL = cast.ToDuration(getOrReturnDefault("REQUEST_TTL", "1h"))
	cfg.CartTTL = cast.ToDuration(getOrReturnDefault("CART_TTL", "1h"))

	return cfg
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB)
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
