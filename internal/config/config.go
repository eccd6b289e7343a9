package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	AI       AIConfig       `yaml:"ai"`
	Vision   VisionConfig   `yaml:"vision"`
	Geo      GeoConfig      `yaml:"geo"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type StorageConfig struct {
	// Driver selects the incident/registry store: "badger" or "postgres".
	Driver    string `yaml:"driver"`
	BadgerDir string `yaml:"badger_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
	// Embedded starts an in-process NATS server with JetStream.
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
	StoreDir string `yaml:"store_dir"`
	// Workers is the number of concurrent scan handlers per worker process.
	Workers int `yaml:"workers"`
}

// Enabled reports whether any broker is configured.
func (n NATSConfig) Enabled() bool {
	return n.Embedded || n.URL != ""
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

type AIConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// Simulated reports whether classification runs without the external service.
func (a AIConfig) Simulated() bool {
	return a.APIKey == ""
}

type VisionConfig struct {
	ModelsDir              string  `yaml:"models_dir"`
	RuntimeLib             string  `yaml:"runtime_lib"`
	NearDuplicateThreshold float64 `yaml:"near_duplicate_threshold"`
}

type GeoConfig struct {
	RoutingURL    string        `yaml:"routing_url"`
	FacilitiesURL string        `yaml:"facilities_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Offline       bool          `yaml:"offline"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable overrides.
// An empty path yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "badger", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.AI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	if c.Vision.NearDuplicateThreshold < 0 || c.Vision.NearDuplicateThreshold > 1 {
		return fmt.Errorf("vision.near_duplicate_threshold must be within [0,1]")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 64
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "badger"
	}
	if cfg.Storage.BadgerDir == "" {
		cfg.Storage.BadgerDir = "data/sentinel"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.NATS.Embedded && cfg.NATS.Port == 0 {
		cfg.NATS.Port = 4222
	}
	if cfg.NATS.Workers == 0 {
		cfg.NATS.Workers = 4
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "sentinel-media"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "gemini"
	}
	if cfg.AI.Model == "" {
		switch cfg.AI.Provider {
		case "openai":
			cfg.AI.Model = "gpt-4o"
		default:
			cfg.AI.Model = "gemini-2.5-pro"
		}
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 30 * time.Second
	}
	if cfg.AI.RequestsPerMinute == 0 {
		cfg.AI.RequestsPerMinute = 30
	}
	if cfg.Vision.NearDuplicateThreshold == 0 {
		cfg.Vision.NearDuplicateThreshold = 0.92
	}
	if cfg.Geo.RoutingURL == "" {
		cfg.Geo.RoutingURL = "https://router.project-osrm.org"
	}
	if cfg.Geo.FacilitiesURL == "" {
		cfg.Geo.FacilitiesURL = "https://overpass-api.de/api/interpreter"
	}
	if cfg.Geo.Timeout == 0 {
		cfg.Geo.Timeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SENTINEL_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SENTINEL_BADGER_DIR"); v != "" {
		cfg.Storage.BadgerDir = v
	}
	if v := os.Getenv("SENTINEL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SENTINEL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SENTINEL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SENTINEL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SENTINEL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SENTINEL_NATS_EMBEDDED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NATS.Embedded = b
		}
	}
	if v := os.Getenv("SENTINEL_NATS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Workers = n
		}
	}
	if v := os.Getenv("SENTINEL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SENTINEL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SENTINEL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SENTINEL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SENTINEL_AI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("SENTINEL_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	// The credential may come from any of the names the console has used.
	for _, name := range []string{"SENTINEL_AI_API_KEY", "API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			cfg.AI.APIKey = v
			break
		}
	}
	if v := os.Getenv("SENTINEL_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AI.Timeout = d
		}
	}
	if v := os.Getenv("SENTINEL_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("SENTINEL_ONNX_LIB"); v != "" {
		cfg.Vision.RuntimeLib = v
	}
	if v := os.Getenv("SENTINEL_GEO_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Geo.Offline = b
		}
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
