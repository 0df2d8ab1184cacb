package main

import (
	"fmt"
	"os"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/jacentio/versiondb/store"
)

// loadConfig reads the store configuration from the environment. Unset or
// malformed variables keep their defaults.
func loadConfig() store.Config {
	cfg := store.DefaultConfig()

	cfg.ResourceTable = stringSetting("RESOURCE_TABLE", cfg.ResourceTable)
	cfg.LockDuration = secondsSetting("LOCK_DURATION_SECONDS", cfg.LockDuration)
	cfg.MaxExecutionTime = secondsSetting("MAX_EXECUTION_SECONDS", cfg.MaxExecutionTime)
	cfg.MaxTransactionSize = intSetting("MAX_TRANSACTION_SIZE", cfg.MaxTransactionSize)
	cfg.UpdateCreateSupported = boolSetting("UPDATE_CREATE_SUPPORTED", false)
	cfg.DeletedTTL = secondsSetting("DELETED_TTL_SECONDS", 0)

	return cfg
}

// loadRegistry reads the versioned link rules named by VERSIONED_LINKS_FILE.
// An unset variable yields an empty registry.
func loadRegistry() (*store.Registry, error) {
	path := stringSetting("VERSIONED_LINKS_FILE", "")
	if path == "" {
		return store.NewRegistry(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open versioned links: %w", err)
	}
	defer f.Close()
	return store.LoadRegistry(f)
}

func stringSetting(key, fallback string) string {
	v, err := env.GetAsString(key, false, fallback)
	if err != nil || v == "" {
		return fallback
	}
	return v
}

func intSetting(key string, fallback int) int {
	v, err := env.GetAsInt(key, false, fallback)
	if err != nil {
		warnMalformed(key, err)
		return fallback
	}
	return v
}

func boolSetting(key string, fallback bool) bool {
	v, err := env.GetAsBool(key, false, fallback)
	if err != nil {
		warnMalformed(key, err)
		return fallback
	}
	return v
}

func secondsSetting(key string, fallback time.Duration) time.Duration {
	return time.Duration(intSetting(key, int(fallback/time.Second))) * time.Second
}

func warnMalformed(key string, err error) {
	if _, set := os.LookupEnv(key); set {
		zap.S().Warnf("ignoring %s: %s", key, err)
	}
}
