// Package config loads process configuration from the environment,
// following the same plain env-var convention across every binary in
// this module (world registry, room host, shard proxy).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds settings shared by the world registry and room/shard hosts.
// Not every field is meaningful to every binary; each cmd/ entrypoint reads
// only the subset it needs.
type Config struct {
	Environment string `env:"ENVIRONMENT"`
	Port        string `env:"PORT"`
	LogLevel    string `env:"LOG_LEVEL"`

	DatabaseURL string `env:"DATABASE_URL,secret"`
	RedisURL    string `env:"REDIS_URL"`

	// World admin auth, per spec §4.5/§6.5.
	AuthJWTSecret string `env:"AUTH_JWT_SECRET,secret"`
	ShardSecret   string `env:"SHARD_SECRET,secret"`
	WorldID       string `env:"WORLD_ID"`

	// Room runtime settings read by cmd/room. world.RoomConfig has
	// same-named fields, but the room binary does not read them.
	ThrottleSyncMS    int `env:"THROTTLE_SYNC_MS"`
	ThrottlePersistMS int `env:"THROTTLE_PERSIST_MS"`
	SessionExpiryMS   int `env:"SESSION_EXPIRY_MS"`

	// Shard proxy.
	MainRoomURL string `env:"MAIN_ROOM_URL"`
	ShardID     string `env:"SHARD_ID"`

	// World placement.
	ShardURLTemplate string `env:"SHARD_URL_TEMPLATE"`

	HeartbeatSweepInterval time.Duration
	HeartbeatInactiveAfter time.Duration
}

// Load reads configuration from the environment, applying the same
// defaults the rest of the fabric expects when a value is unset.
func Load() *Config {
	return &Config{
		Environment:            getEnv("ENVIRONMENT", "development"),
		Port:                   getEnv("PORT", "8080"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AuthJWTSecret:          getEnv("AUTH_JWT_SECRET", ""),
		ShardSecret:            getEnv("SHARD_SECRET", ""),
		WorldID:                getEnv("WORLD_ID", "default"),
		ThrottleSyncMS:         getEnvAsInt("THROTTLE_SYNC_MS", 500),
		ThrottlePersistMS:      getEnvAsInt("THROTTLE_PERSIST_MS", 2000),
		SessionExpiryMS:        getEnvAsInt("SESSION_EXPIRY_MS", 0),
		MainRoomURL:            getEnv("MAIN_ROOM_URL", ""),
		ShardID:                getEnv("SHARD_ID", ""),
		ShardURLTemplate:       getEnv("SHARD_URL_TEMPLATE", "ws://localhost:%s/rooms/%s"),
		HeartbeatSweepInterval: time.Minute,
		HeartbeatInactiveAfter: 5 * time.Minute,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
