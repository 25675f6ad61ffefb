package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harry-urek/Live-Poll/internal/poll"
)

// Config holds server configuration assembled from the environment and an
// optional YAML file.
type Config struct {
	Port           string
	AllowedOrigins []string
	GraceDelay     time.Duration
	ConsoleLog     bool
	Settings       poll.Settings
}

// settingsFile is the on-disk shape of the optional settings YAML.
type settingsFile struct {
	Session poll.SettingsPatch `yaml:"session"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "5000"),
		GraceDelay: time.Duration(getEnvAsInt("GRACE_DELAY_SEC", 3)) * time.Second,
		ConsoleLog: getEnv("LOG_CONSOLE", "") != "",
		Settings:   poll.DefaultSettings(),
	}

	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	} else {
		cfg.AllowedOrigins = []string{"*"}
	}

	if path := getEnv("POLL_CONFIG", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// applyFile merges session settings from a YAML file over the defaults.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file settingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if file.Session.AllowLateSubmissions != nil {
		c.Settings.AllowLateSubmissions = *file.Session.AllowLateSubmissions
	}
	if file.Session.ShowLiveResults != nil {
		c.Settings.ShowLiveResults = *file.Session.ShowLiveResults
	}
	if file.Session.AutoNextQuestion != nil {
		c.Settings.AutoNextQuestion = *file.Session.AutoNextQuestion
	}
	if file.Session.MaxStudents != nil {
		c.Settings.MaxStudents = *file.Session.MaxStudents
	}
	return nil
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
