package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the file-backed server configuration. Environment variables
// override individual fields after the file loads.
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Transport struct {
		Kind    string `yaml:"kind"` // nats or memory
		NATSURL string `yaml:"nats_url"`
	} `yaml:"transport"`

	Rooms struct {
		MaxRooms        int `yaml:"max_rooms"`
		SoftLimit       int `yaml:"soft_limit"`
		SweepSeconds    int `yaml:"sweep_seconds"`
		MaxParticipants int `yaml:"max_participants"`
		TimeoutMinutes  int `yaml:"timeout_minutes"`
	} `yaml:"rooms"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.Port = "8080"
	config.Server.AllowedOrigins = []string{"*"}
	config.Transport.Kind = "nats"
	config.Transport.NATSURL = "nats://localhost:4222"
	config.Rooms.SweepSeconds = 60
	config.Log.Level = "info"
	return &config
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment overrides
	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.Transport.Kind = getEnv("TRANSPORT", config.Transport.Kind)
	config.Transport.NATSURL = getEnv("NATS_URL", config.Transport.NATSURL)
	config.Rooms.MaxRooms = getEnvAsInt("MAX_ROOMS", config.Rooms.MaxRooms)
	config.Rooms.SoftLimit = getEnvAsInt("ROOM_SOFT_LIMIT", config.Rooms.SoftLimit)
	config.Rooms.SweepSeconds = getEnvAsInt("SWEEP_SECONDS", config.Rooms.SweepSeconds)
	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
