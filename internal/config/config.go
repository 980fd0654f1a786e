package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int      `yaml:"port"`
		ShutdownTimeout Duration `yaml:"shutdownTimeout"`
		CORSOrigins     []string `yaml:"corsOrigins"`
	} `yaml:"server"`

	Analysis struct {
		CapabilityTimeout   Duration `yaml:"capabilityTimeout"`
		OverallTimeout      Duration `yaml:"overallTimeout"`
		MaxCapabilities     int      `yaml:"maxCapabilities"`
		DefaultCapabilities []string `yaml:"defaultCapabilities"`
		EnhancedContext     bool     `yaml:"enhancedContext"`
		FetchTimeout        Duration `yaml:"fetchTimeout"`
		UserAgent           string   `yaml:"userAgent"`
	} `yaml:"analysis"`

	Cache struct {
		TTL     Duration `yaml:"ttl"`
		Backend string   `yaml:"backend"` // memory | mysql
	} `yaml:"cache"`

	Session struct {
		IdleTTL          Duration `yaml:"idleTTL"`
		MaxSessions      int      `yaml:"maxSessions"`
		MaxRecentTargets int      `yaml:"maxRecentTargets"`
		SweepInterval    Duration `yaml:"sweepInterval"`
	} `yaml:"session"`

	Database struct {
		Driver   string `yaml:"driver"` // "", mysql, postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string   `yaml:"endpoint"`
		AccessKey  string   `yaml:"accessKey"`
		SecretKey  string   `yaml:"secretKey"`
		BucketName string   `yaml:"bucketName"`
		Region     string   `yaml:"region"`
		UseSSL     bool     `yaml:"useSSL"`
		PresignTTL Duration `yaml:"presignTTL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseURL"`
	} `yaml:"openai"`

	RateLimit struct {
		Capacity        int     `yaml:"capacity"`
		RefillPerSecond float64 `yaml:"refillPerSecond"`
	} `yaml:"rateLimit"`

	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"` // client name -> key
	} `yaml:"auth"`
}

// Duration reads Go duration strings such as "20s" or "1h".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Server.ShutdownTimeout = Duration{15 * time.Second}
	c.Analysis.CapabilityTimeout = Duration{20 * time.Second}
	c.Analysis.OverallTimeout = Duration{60 * time.Second}
	c.Analysis.MaxCapabilities = 8
	c.Analysis.DefaultCapabilities = []string{"technical", "content", "conversion", "mobile"}
	c.Analysis.FetchTimeout = Duration{15 * time.Second}
	c.Cache.TTL = Duration{time.Hour}
	c.Cache.Backend = "memory"
	c.Session.IdleTTL = Duration{30 * time.Minute}
	c.Session.MaxSessions = 1000
	c.Session.MaxRecentTargets = 5
	c.Session.SweepInterval = Duration{time.Minute}
	c.Database.Port = 3306
	c.Database.SSLMode = "disable"
	c.Minio.BucketName = "insight-reports"
	c.Minio.Region = "us-east-1"
	c.OpenAI.Model = "gpt-4o-mini"
	c.RateLimit.Capacity = 60
	c.RateLimit.RefillPerSecond = 1
	c.Auth.APIKeys = map[string]string{}
	return &c
}

// Load baca file config.yaml. A missing file yields the defaults; secrets
// can come from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	a := c.Analysis
	switch {
	case a.CapabilityTimeout.Duration <= 0 || a.OverallTimeout.Duration <= 0:
		return errors.New("config: analysis timeouts must be positive")
	case a.CapabilityTimeout.Duration > a.OverallTimeout.Duration:
		return errors.New("config: analysis.capabilityTimeout exceeds analysis.overallTimeout")
	case a.MaxCapabilities < 1:
		return errors.New("config: analysis.maxCapabilities must be at least 1")
	case c.Cache.TTL.Duration <= 0:
		return errors.New("config: cache.ttl must be positive")
	case c.Session.IdleTTL.Duration <= 0:
		return errors.New("config: session.idleTTL must be positive")
	case c.Session.MaxRecentTargets < 1:
		return errors.New("config: session.maxRecentTargets must be at least 1")
	}
	switch c.Database.Driver {
	case "", "mysql", "postgres":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "memory":
	case "mysql":
		if c.Database.Driver != "mysql" {
			return errors.New("config: cache.backend mysql needs database.driver mysql")
		}
	default:
		return fmt.Errorf("config: unknown cache.backend %q", c.Cache.Backend)
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
