package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"salonagenda/internal/timegrid"
)

const (
	DefaultPath      = "configs/config.yaml"
	DefaultBoxesPath = "configs/boxes.yaml"
	PathEnv          = "AGENDA_CONFIG_PATH"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address       string `yaml:"address"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"redis"`

	Telegram struct {
		BotToken          string  `yaml:"bot_token"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Grid struct {
		AdminStart        string `yaml:"admin_start"`
		AdminEnd          string `yaml:"admin_end"`
		ProfessionalStart string `yaml:"professional_start"`
		ProfessionalEnd   string `yaml:"professional_end"`
		StepMinutes       int    `yaml:"step_minutes"`
	} `yaml:"grid"`

	Availability struct {
		EnforceDayOfWeek bool `yaml:"enforce_day_of_week"`
	} `yaml:"availability"`

	BoxesConfigPath string `yaml:"boxes_config_path"`
}

// PathFromEnv returns the config path named by AGENDA_CONFIG_PATH.
func PathFromEnv() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML config at path. A .env file in the working directory,
// if present, is loaded first so its variables can fill ${VAR} placeholders.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if _, err := cfg.AdminGrid(); err != nil {
		return nil, fmt.Errorf("grid.admin: %w", err)
	}
	if _, err := cfg.ProfessionalGrid(); err != nil {
		return nil, fmt.Errorf("grid.professional: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/salonagenda.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Grid.AdminStart == "" {
		c.Grid.AdminStart = "08:00"
	}
	if c.Grid.AdminEnd == "" {
		c.Grid.AdminEnd = "20:00"
	}
	if c.Grid.ProfessionalStart == "" {
		c.Grid.ProfessionalStart = "09:00"
	}
	if c.Grid.ProfessionalEnd == "" {
		c.Grid.ProfessionalEnd = "18:00"
	}
	if c.Grid.StepMinutes <= 0 {
		c.Grid.StepMinutes = timegrid.DefaultStep
	}
	if c.BoxesConfigPath == "" {
		c.BoxesConfigPath = DefaultBoxesPath
	}
}

// AdminGrid is the operating window of the admin agenda.
func (c *Config) AdminGrid() (timegrid.Grid, error) {
	return timegrid.ParseGrid(c.Grid.AdminStart, c.Grid.AdminEnd, c.Grid.StepMinutes)
}

// ProfessionalGrid is the operating window used for professional schedules.
func (c *Config) ProfessionalGrid() (timegrid.Grid, error) {
	return timegrid.ParseGrid(c.Grid.ProfessionalStart, c.Grid.ProfessionalEnd, c.Grid.StepMinutes)
}

// RedisEnabled reports whether a redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Address != ""
}
