package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServerAddr     string
	Store          string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	// Dwell is how long unread messages stay on screen before they are
	// marked read.
	Dwell time.Duration
	// RedisAddr is optional; without it the last opened conversation is
	// kept in memory.
	RedisAddr string
	Migrate   bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	return key, nil
}

func NewConfig(serverAddr, store, databaseDSN, base64Secret string, allowedOrigins []string, dwell time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	switch store {
	case StorePostgres:
		if databaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store %q", store)
	}

	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	if dwell <= 0 {
		return nil, fmt.Errorf("dwell must be positive, got %s", dwell)
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		Store:          store,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Dwell:          dwell,
	}, nil
}
