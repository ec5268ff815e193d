package server

import (
	"time"

	"github.com/keygrant/keygrant/domain"
)

// Config holds the server's protocol configuration
type Config struct {
	// AuthorizationCodeLifetime is the validity window for authorization
	// codes. Default: 60 seconds.
	AuthorizationCodeLifetime time.Duration
}

// applyDefaults normalizes the configuration
func applyDefaults(config *Config) *Config {
	c := *config
	if c.AuthorizationCodeLifetime <= 0 {
		c.AuthorizationCodeLifetime = domain.AuthorizationCodeLifetime
	}
	return &c
}
