package main

import (
	"os"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/jacentio/versiondb/stream"
)

type settings struct {
	Endpoint string

	// Offline targets a local search engine without request signing.
	Offline bool

	Stream stream.Config
}

func loadSettings() settings {
	s := settings{Stream: stream.DefaultConfig()}

	s.Offline = boolSetting("IS_OFFLINE", false)
	if s.Offline {
		s.Endpoint, _ = env.GetAsString("OFFLINE_ELASTICSEARCH_DOMAIN_ENDPOINT", false, "") //nolint:errcheck
	} else {
		s.Endpoint, _ = env.GetAsString("ELASTICSEARCH_DOMAIN_ENDPOINT", true, "") //nolint:errcheck
	}

	s.Stream.HardDelete = boolSetting("ENABLE_ES_HARD_DELETE", false)

	cacheSize, err := env.GetAsInt("KNOWN_ALIAS_CACHE_SIZE", false, s.Stream.AliasCacheSize)
	if err == nil {
		s.Stream.AliasCacheSize = cacheSize
	} else if _, set := os.LookupEnv("KNOWN_ALIAS_CACHE_SIZE"); set {
		zap.S().Warnf("ignoring KNOWN_ALIAS_CACHE_SIZE: %s", err)
	}

	return s
}

func boolSetting(key string, fallback bool) bool {
	v, err := env.GetAsBool(key, false, fallback)
	if err != nil {
		if _, set := os.LookupEnv(key); set {
			zap.S().Warnf("ignoring %s: %s", key, err)
		}
		return fallback
	}
	return v
}
