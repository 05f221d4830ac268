package config

import (
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/logging"
)

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Canvas    CanvasConfig    `mapstructure:"canvas"`
	Logging   logging.Config  `mapstructure:"logging"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
	// Required rejects upgrades that carry no valid identity token.
	Required bool `mapstructure:"required"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout       time.Duration `mapstructure:"readTimeout"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	SendBuffer        int           `mapstructure:"sendBuffer"`
}

type SessionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxReconnects int           `mapstructure:"maxReconnects"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

type RateLimitConfig struct {
	MaxMessages   int           `mapstructure:"maxMessages"`
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

type CanvasConfig struct {
	// Presence classification thresholds.
	IdleAfter time.Duration `mapstructure:"idleAfter"`
	AwayAfter time.Duration `mapstructure:"awayAfter"`
	// PresenceSweepInterval drives the periodic status reclassification.
	PresenceSweepInterval time.Duration `mapstructure:"presenceSweepInterval"`
	// EmptyGrace delays deletion of a room that just lost its last member.
	EmptyGrace time.Duration `mapstructure:"emptyGrace"`
	// InactiveThreshold and InactiveSweepInterval reap abandoned rooms on a
	// longer horizon than the per-leave grace deletion.
	InactiveThreshold     time.Duration `mapstructure:"inactiveThreshold"`
	InactiveSweepInterval time.Duration `mapstructure:"inactiveSweepInterval"`
}
