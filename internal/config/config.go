// Package config loads the process configuration.
//
// Sources are layered from lowest to highest priority:
//
//  1. defaults
//  2. the YAML file given with --config, when present
//  3. .env files (read with godotenv; they never override the real environment)
//  4. environment variables
//
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverDynamoDB = "dynamodb"
)

type Config struct {
	Bot     Bot     `yaml:"bot"`
	Storage Storage `yaml:"storage"`
	Log     Log     `yaml:"log"`
	HTTP    HTTP    `yaml:"http"`
}

type Bot struct {
	Token string `yaml:"token"`
	// HardWordLimit caps every generated sentence.
	HardWordLimit int `yaml:"hard_word_limit" validate:"min=1,max=2000"`
	// TestGuild, when set, registers commands to that guild only.
	TestGuild             string   `yaml:"test_guild" validate:"omitempty,numeric"`
	DefaultForbiddenWords []string `yaml:"default_forbidden_words" validate:"dive,required"`
	// IngestMessages turns learning from guild messages on or off.
	IngestMessages bool `yaml:"ingest_messages"`
}

type Storage struct {
	Driver           string        `yaml:"driver" validate:"oneof=memory dynamodb"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" validate:"min=0"`
	DynamoDB         DynamoDB      `yaml:"dynamodb"`
	Breaker          Breaker       `yaml:"breaker"`
}

type DynamoDB struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

type Breaker struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests" validate:"min=1"`
	Interval         time.Duration `yaml:"interval" validate:"min=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
}

type Log struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type HTTP struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Bot: Bot{
			HardWordLimit:  50,
			IngestMessages: true,
		},
		Storage: Storage{
			Driver:           DriverMemory,
			SnapshotPath:     "data/markov.gob",
			SnapshotInterval: 5 * time.Minute,
			DynamoDB: DynamoDB{
				Table: "markov",
			},
			Breaker: Breaker{
				Enabled:          true,
				FailureThreshold: 0.8,
				MinRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          time.Minute,
			},
		},
		Log: Log{
			Level: "info",
		},
		HTTP: HTTP{
			Addr: ":8080",
		},
	}
}

// Loader reads a Config from its sources.
type Loader struct {
	// File is the YAML file. An empty path skips the file layer.
	File string
	// EnvFiles are read with godotenv; missing files are ignored.
	EnvFiles []string
	// LookupEnv reads the process environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load is a shortcut for a Loader reading file and ./.env.
func Load(file string) (*Config, error) {
	return (&Loader{File: file, EnvFiles: []string{".env"}}).Load()
}

// Load builds and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.File != "" {
		if err := loadYAML(l.File, cfg); err != nil {
			return nil, err
		}
	}

	dotenv, err := readEnvFiles(l.EnvFiles)
	if err != nil {
		return nil, err
	}
	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, file := range files {
		vars, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		for k, v := range vars {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out, nil
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}

	str("DISCORD_TOKEN", &cfg.Bot.Token)
	str("GUILD_ID", &cfg.Bot.TestGuild)
	str("MARKOV_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("MARKOV_SNAPSHOT_PATH", &cfg.Storage.SnapshotPath)
	str("MARKOV_DYNAMODB_TABLE", &cfg.Storage.DynamoDB.Table)
	str("MARKOV_DYNAMODB_ENDPOINT", &cfg.Storage.DynamoDB.Endpoint)
	str("AWS_REGION", &cfg.Storage.DynamoDB.Region)
	str("MARKOV_LOG_LEVEL", &cfg.Log.Level)
	str("MARKOV_HTTP_ADDR", &cfg.HTTP.Addr)

	if v, ok := env("MARKOV_HARD_WORD_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MARKOV_HARD_WORD_LIMIT: %w", err)
		}
		cfg.Bot.HardWordLimit = n
	}
	if v, ok := env("MARKOV_SNAPSHOT_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MARKOV_SNAPSHOT_INTERVAL: %w", err)
		}
		cfg.Storage.SnapshotInterval = d
	}
	if v, ok := env("MARKOV_DEFAULT_FORBIDDEN_WORDS"); ok {
		cfg.Bot.DefaultForbiddenWords = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.Storage.Driver == DriverDynamoDB && c.Storage.DynamoDB.Table == "" {
		return errors.New("invalid config: storage.dynamodb.table is required for the dynamodb driver")
	}
	return nil
}

// ValidateBot checks what the gateway needs on top of Validate.
func (c *Config) ValidateBot() error {
	if c.Bot.Token == "" {
		return errors.New("invalid config: bot token is required (bot.token or DISCORD_TOKEN)")
	}
	if _, err := c.TestGuildID(); err != nil {
		return err
	}
	return nil
}

// TestGuildID parses Bot.TestGuild. Zero means commands are global.
func (c *Config) TestGuildID() (snowflake.ID, error) {
	if c.Bot.TestGuild == "" {
		return 0, nil
	}
	id, err := snowflake.Parse(c.Bot.TestGuild)
	if err != nil {
		return 0, fmt.Errorf("invalid config: test guild %q: %w", c.Bot.TestGuild, err)
	}
	return id, nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(strings.TrimPrefix(e.Namespace(), "Config."))
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "min", "max", "gt", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, e.Tag(), e.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
