package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// DirectoryConfig holds the upstream directory service configuration
type DirectoryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// EngineConfig holds workflow engine configuration
type EngineConfig struct {
	MaxActionRetries int `mapstructure:"max_action_retries"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	EscalationInterval    time.Duration `mapstructure:"escalation_interval"`
	EscalationBatchSize   int           `mapstructure:"escalation_batch_size"`
	NotificationInterval  time.Duration `mapstructure:"notification_interval"`
	NotificationBatchSize int           `mapstructure:"notification_batch_size"`
}

// StorageConfig holds file storage configuration
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/approvalflow.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Directory defaults
	viper.SetDefault("directory.timeout", 10*time.Second)

	// Engine defaults
	viper.SetDefault("engine.max_action_retries", 3)

	// Worker defaults
	viper.SetDefault("worker.escalation_interval", time.Minute)
	viper.SetDefault("worker.escalation_batch_size", 100)
	viper.SetDefault("worker.notification_interval", 5*time.Second)
	viper.SetDefault("worker.notification_batch_size", 50)

	// Storage defaults
	viper.SetDefault("storage.base_dir", "data/files")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("directory.base_url", "DIRECTORY_BASE_URL")
	viper.BindEnv("storage.base_dir", "STORAGE_BASE_DIR")
	viper.BindEnv("logger.level", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir is required")
	}
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("directory.base_url is required")
	}
	if c.Engine.MaxActionRetries <= 0 {
		return fmt.Errorf("engine.max_action_retries must be positive")
	}
	if c.Worker.EscalationInterval <= 0 {
		return fmt.Errorf("worker.escalation_interval must be positive")
	}
	if c.Worker.NotificationInterval <= 0 {
		return fmt.Errorf("worker.notification_interval must be positive")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	return nil
}
