package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerHost         string
	RoutingServicePort string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxRequestBody     int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers       []string
	KafkaGroupID       string
	RoutingEventsTopic string
	IdeasInboundTopic  string

	// Publications the engine treats specially
	CorePublicationSlug     string
	BeginnerPublicationSlug string
	VideoPublicationSlug    string

	// Scheduler
	SchedulerTimezone     string
	SlotSearchHorizonDays int

	// Gateway
	RateLimitRPS   int
	RateLimitBurst int

	SeedFile string
}

func Load() *Config {
	return &Config{
		ServerHost:         getEnv("SERVER_HOST", "0.0.0.0"),
		RoutingServicePort: getEnv("ROUTING_SERVICE_PORT", "8090"),
		ReadTimeout:        getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:       getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody:     int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "routing"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "routing123"),
		PostgresDB:       getEnv("POSTGRES_DB", "routing"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:       getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "routing-engine"),
		RoutingEventsTopic: getEnv("ROUTING_EVENTS_TOPIC", "routing.status_changed"),
		IdeasInboundTopic:  getEnv("IDEAS_INBOUND_TOPIC", ""),

		CorePublicationSlug:     getEnv("CORE_PUBLICATION_SLUG", "core"),
		BeginnerPublicationSlug: getEnv("BEGINNER_PUBLICATION_SLUG", "beginner"),
		VideoPublicationSlug:    getEnv("VIDEO_PUBLICATION_SLUG", "video"),

		SchedulerTimezone:     getEnv("SCHEDULER_TIMEZONE", "UTC"),
		SlotSearchHorizonDays: getIntEnv("SLOT_SEARCH_HORIZON_DAYS", 90),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		SeedFile: getEnv("SEED_FILE", "config/routing.yaml"),
	}
}

// Location resolves SchedulerTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.SchedulerTimezone); err == nil {
		return loc
	}
	return time.UTC
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
