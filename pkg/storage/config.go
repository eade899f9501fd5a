package storage

import (
	"fmt"
	"time"
)

// Config holds database and Redis connection settings
type Config struct {
	// Driver is "postgres" or "sqlite3"
	Driver string
	URL    string

	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	// Redis config (optional, enables the shared permission cache)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          DriverPostgres,
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
	}
}

// Validate checks the configuration for obvious mistakes
func (c Config) Validate() error {
	if _, err := DialectFor(c.Driver); err != nil {
		return err
	}
	if c.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		return fmt.Errorf("connection pool sizes must not be negative")
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) exceeds max connections (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}
