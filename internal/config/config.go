package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Views       ViewsConfig       `yaml:"views"`
	Replication ReplicationConfig `yaml:"replication"`
	Events      EventsConfig      `yaml:"events"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	PrettyJSON      bool          `yaml:"pretty_json"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ViewsConfig struct {
	// Language applies to design documents that do not name one.
	Language string `yaml:"language"`
}

type ReplicationConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AuthToken      string        `yaml:"auth_token"`
}

// EventsConfig controls forwarding of committed changes to NATS JetStream.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	// Stream is created on startup when set.
	Stream string `yaml:"stream"`
}

type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PrivateKeyFile string        `yaml:"private_key_file"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from defaults, config/config.yml,
// config/config.local.yml and the environment, in that order.
func LoadConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            5984,
			ShutdownTimeout: 10 * time.Second,
		},
		Views: ViewsConfig{
			Language: "cel",
		},
		Replication: ReplicationConfig{
			BatchSize:      100,
			ConnectTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			NatsURL:       "nats://localhost:4222",
			SubjectPrefix: "touchdb",
		},
		Auth: AuthConfig{
			PrivateKeyFile: "keys/auth_private.pem",
			TokenTTL:       time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	loadFile("config/config.yml", cfg)
	loadFile("config/config.local.yml", cfg)
	cfg.applyEnv()

	return cfg
}

func loadFile(path string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read config file", "path", path, "error", err)
		}
		return
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file", "path", path, "error", err)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TOUCHDB_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("TOUCHDB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NatsURL = v
	}
	if v := os.Getenv("TOUCHDB_AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Auth.Enabled = enabled
		}
	}
	if v := os.Getenv("TOUCHDB_PRIVATE_KEY_FILE"); v != "" {
		c.Auth.PrivateKeyFile = v
	}
	if v := os.Getenv("VIEW_LANGUAGE"); v != "" {
		c.Views.Language = v
	}
}
