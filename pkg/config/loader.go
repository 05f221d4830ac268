package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.auth.required", true)
	v.SetDefault("server.connectionLimit.maxPerUser", 5)
	v.SetDefault("server.connectionLimit.mode", "cycle")

	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.heartbeatInterval", "30s")
	v.SetDefault("transport.sendBuffer", 256)

	v.SetDefault("session.timeout", "5m")
	v.SetDefault("session.maxReconnects", 10)
	v.SetDefault("session.sweepInterval", "1m")

	v.SetDefault("rateLimit.maxMessages", 300)
	v.SetDefault("rateLimit.window", "60s")
	v.SetDefault("rateLimit.sweepInterval", "60s")

	v.SetDefault("canvas.idleAfter", "2m")
	v.SetDefault("canvas.awayAfter", "5m")
	v.SetDefault("canvas.presenceSweepInterval", "30s")
	v.SetDefault("canvas.emptyGrace", "30s")
	v.SetDefault("canvas.inactiveThreshold", "10m")
	v.SetDefault("canvas.inactiveSweepInterval", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("CANVASRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
