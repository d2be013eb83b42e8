// Package config loads runtime configuration for the storage engine from
// environment variables: a struct plus getEnv/getEnvDuration/getEnvInt
// helpers, no dedicated
// config library (see DESIGN.md for why).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the dedup file-store engine.
type Config struct {
	// StorageRoot is the directory disk blobs are sharded under.
	StorageRoot string
	// MetadataDSN is the SQLite data source name (a file path) backing the
	// metadata store.
	MetadataDSN string
	// ReclaimInterval is how often the orphan reclaimer sweeps.
	ReclaimInterval time.Duration
	// ReclaimBatchSize bounds how many orphan hashes each fetch within a
	// sweep asks the metadata store for.
	ReclaimBatchSize int
}

// Load reads configuration from the environment, falling back to
// development-friendly defaults for anything unset.
func Load() *Config {
	return &Config{
		StorageRoot:      getEnv("STORAGE_ROOT", "./data/blobs"),
		MetadataDSN:      getEnv("METADATA_DSN", "./data/metadata.db"),
		ReclaimInterval:  getEnvDuration("RECLAIM_INTERVAL", time.Hour),
		ReclaimBatchSize: getEnvInt("RECLAIM_BATCH_SIZE", 256),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
