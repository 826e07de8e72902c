package internal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hbomb79/Lyre/internal/database"
	"github.com/hbomb79/Lyre/internal/download"
	"github.com/hbomb79/Lyre/internal/ffmpeg"
	"github.com/hbomb79/Lyre/internal/youtube"
	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// LyreConfig is the struct used to contain the
// various user config supplied by file, or
// by environment variables.
type LyreConfig struct {
	HostAddr string                  `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0"`
	Port     string                  `yaml:"port" env:"PORT" env-default:"5000"`
	LogLevel string                  `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Download download.Config         `yaml:"download"`
	YouTube  youtube.Config          `yaml:"youtube"`
	Ffmpeg   ffmpeg.Config           `yaml:"ffmpeg"`
	History  HistoryConfig           `yaml:"history"`
	Database database.DatabaseConfig `yaml:"database"`
	Services ServiceConfig           `yaml:"docker_services"`
}

// HistoryConfig controls whether completed downloads are persisted
// to PostgreSQL. When disabled, history is held in memory and lost
// when Lyre stops.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" env:"HISTORY_ENABLED" env-default:"false"`
}

// ServiceConfig is used to enable/disable the internal intialisation of
// supporting services for Lyre.
type ServiceConfig struct {
	EnablePostgres bool `yaml:"enable_postgres" env:"SERVICE_ENABLE_POSTGRES" env-default:"false"`
}

// LoadConfig reads the YAML configuration file at the path provided (a leading
// '~' is expanded to the users home directory), applying environment variable
// overrides and defaults. If the path is empty, the config is read solely from
// the environment. The resulting config is validated before being returned.
func LoadConfig(configPath string) (*LyreConfig, error) {
	config := &LyreConfig{}
	if configPath == "" {
		if err := cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
		}
	} else {
		path, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path %s: %w", configPath, err)
		}

		if err := cleanenv.ReadConfig(path, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
	}

	config.Port = strings.TrimSpace(config.Port)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration is invalid: %w", err)
	}

	return config, nil
}

// Validate checks every part of the configuration, returning
// all the problems found.
func (config *LyreConfig) Validate() error {
	var errs []error
	if err := validatePort(config.Port); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := config.Download.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := config.YouTube.Validate(); err != nil {
		errs = append(errs, err)
	}
	if config.History.Enabled && (config.Database.User == "" || config.Database.Password == "") {
		errs = append(errs, errors.New("database username and password (DB_USERNAME, DB_PASSWORD) are required when history is enabled"))
	}
	if config.Services.EnablePostgres && !config.History.Enabled {
		errs = append(errs, errors.New("embedded postgres service requires history to be enabled (HISTORY_ENABLED)"))
	}

	return errors.Join(errs...)
}

func validatePort(port string) error {
	port = strings.TrimSpace(port)
	if strings.HasPrefix(port, "$") {
		return fmt.Errorf("port %q looks like an unexpanded shell variable; set PORT to a number", port)
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port %q must be an integer between 1 and 65535", port)
	}

	return nil
}
