package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"

	"github.com/pnptcn/nuner/internal/util"
	"github.com/pnptcn/nuner/pkg/similarity"
)

type Config struct {
	Backend        string  `yaml:"backend" validate:"required,oneof=postgres neo4j redis badger"`
	FuzzyMatch     bool    `yaml:"fuzzy_match"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" validate:"gte=0,lte=1"`
	RepairPayloads bool    `yaml:"repair_payloads"`

	Postgres Postgres `yaml:"postgres"`
	Neo4j    Neo4j    `yaml:"neo4j"`
	Redis    Redis    `yaml:"redis"`
	Badger   Badger   `yaml:"badger"`

	Queue   Queue   `yaml:"queue"`
	Archive Archive `yaml:"archive"`
	Server  Server  `yaml:"server"`

	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`
}

type Postgres struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
}

type Neo4j struct {
	URI         string        `yaml:"uri"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	MaxPoolSize int           `yaml:"max_pool_size" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
}

type Redis struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db" validate:"gte=0"`
	Prefix        string `yaml:"prefix"`
	IdentityLocks bool   `yaml:"identity_locks"`
}

type Badger struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

type Queue struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name" validate:"required"`
}

// Enabled reports whether a broker is configured.
func (q Queue) Enabled() bool { return q.Host != "" }

// URL is the AMQP connection string of the broker.
func (q Queue) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

type Archive struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

// Enabled reports whether unmergeable payloads should be archived.
func (a Archive) Enabled() bool { return a.Bucket != "" }

type Server struct {
	Port         string `yaml:"port" validate:"required"`
	MasterAPIKey string `yaml:"master_api_key"`
	AuthURL      string `yaml:"auth_url"`
}

// FromEnv reads the configuration from the process environment.
func FromEnv() *Config {
	return &Config{
		Backend:        util.GetEnvString("GRAPH_BACKEND", "postgres"),
		FuzzyMatch:     util.GetEnvBool("FUZZY_MATCH", false),
		FuzzyThreshold: util.GetEnvNumeric("FUZZY_THRESHOLD", 0),
		RepairPayloads: util.GetEnvBool("REPAIR_PAYLOADS", false),
		Postgres: Postgres{
			URL:      util.GetEnv("DATABASE_URL"),
			MaxConns: int32(util.GetEnvInt("DATABASE_MAX_CONNS", 0)),
		},
		Neo4j: Neo4j{
			URI:         util.GetEnv("NEO4J_URI"),
			User:        util.GetEnvString("NEO4J_USER", "neo4j"),
			Password:    util.GetEnv("NEO4J_PASSWORD"),
			Database:    util.GetEnv("NEO4J_DATABASE"),
			MaxPoolSize: util.GetEnvInt("NEO4J_MAX_POOL_SIZE", 0),
			Timeout:     util.GetEnvSeconds("NEO4J_TIMEOUT_SECONDS", 10*time.Second),
		},
		Redis: Redis{
			Addr:          util.GetEnv("REDIS_ADDR"),
			Password:      util.GetEnv("REDIS_PASSWORD"),
			DB:            util.GetEnvInt("REDIS_DB", 0),
			Prefix:        util.GetEnvString("REDIS_PREFIX", "nuner"),
			IdentityLocks: util.GetEnvBool("REDIS_IDENTITY_LOCKS", false),
		},
		Badger: Badger{
			Dir:      util.GetEnvString("BADGER_DIR", "./data/badger"),
			InMemory: util.GetEnvBool("BADGER_IN_MEMORY", false),
		},
		Queue: Queue{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
			Name:     util.GetEnvString("MERGE_QUEUE", "merge_queue"),
		},
		Archive: Archive{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		Server: Server{
			Port:         util.GetEnvString("PORT", "8080"),
			MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
			AuthURL:      util.GetEnv("AUTH_URL"),
		},
		Debug:     util.GetEnvBool("DEBUG", false),
		LogFormat: util.GetEnvString("LOG_FORMAT", "console"),
	}
}

// Load reads the environment, then overlays the YAML file at filename when
// one is given. ${VAR} references in the file are expanded first.
func Load(filename string) (*Config, error) {
	cfg := FromEnv()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and the settings the selected backend needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	var errs []error
	switch c.Backend {
	case "postgres":
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("postgres backend requires DATABASE_URL"))
		}
	case "neo4j":
		if c.Neo4j.URI == "" {
			errs = append(errs, errors.New("neo4j backend requires NEO4J_URI"))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis backend requires REDIS_ADDR"))
		}
	case "badger":
		if !c.Badger.InMemory && c.Badger.Dir == "" {
			errs = append(errs, errors.New("badger backend requires BADGER_DIR or BADGER_IN_MEMORY"))
		}
	}
	return errors.Join(errs...)
}

// Threshold returns the effective fuzzy matching threshold.
func (c *Config) Threshold() float64 {
	if c.FuzzyThreshold == 0 {
		return similarity.DefaultThreshold
	}
	return c.FuzzyThreshold
}
