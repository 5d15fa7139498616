// Package config loads service configuration from defaults, an optional
// YAML file and ACTIVITIES_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/events"
	"github.com/example/activities-management/internal/jobs"
	"github.com/example/activities-management/internal/notify"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// APIClient is one caller of the admin API. KeyHash is an argon2id hash
// produced by `activities --hash-api-key`.
type APIClient struct {
	Name    string `yaml:"name"`
	KeyHash string `yaml:"key_hash"`
}

// StorageConfig selects and locates the repository backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AWSConfig locates the AWS services. An empty endpoint uses the public one.
type AWSConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// InboundConfig controls the movement event consumer.
type InboundConfig struct {
	QueueURL          string        `yaml:"queue_url"`
	EnabledEventTypes []string      `yaml:"enabled_event_types"`
	Concurrency       int           `yaml:"concurrency"`
	WaitTime          time.Duration `yaml:"wait_time"`
}

// OutboundConfig controls domain event publishing.
type OutboundConfig struct {
	TopicARN  string             `yaml:"topic_arn"`
	QueueSize int                `yaml:"queue_size"`
	Retry     notify.RetryConfig `yaml:"retry"`
}

// Config captures the service configuration.
type Config struct {
	HTTPPort           int            `yaml:"http_port"`
	TimeZone           string         `yaml:"time_zone"`
	LogLevel           string         `yaml:"log_level"`
	Storage            StorageConfig  `yaml:"storage"`
	AWS                AWSConfig      `yaml:"aws"`
	Inbound            InboundConfig  `yaml:"inbound"`
	Outbound           OutboundConfig `yaml:"outbound"`
	PlannedChangesCron string         `yaml:"planned_changes_cron"`
	APIClients         []APIClient    `yaml:"api_clients"`
	// CancellationReasons replaces the built-in catalogue when set.
	CancellationReasons []appointment.CancellationReason `yaml:"cancellation_reasons"`

	location *time.Location
}

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() Config {
	enabled := make([]string, 0, len(events.KnownTypes))
	for _, t := range events.KnownTypes {
		enabled = append(enabled, string(t))
	}
	return Config{
		HTTPPort: 8080,
		TimeZone: "Europe/London",
		LogLevel: "info",
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "activities.db",
		},
		AWS: AWSConfig{Region: "eu-west-2"},
		Inbound: InboundConfig{
			EnabledEventTypes: enabled,
			Concurrency:       4,
			WaitTime:          20 * time.Second,
		},
		Outbound: OutboundConfig{
			QueueSize: notify.DefaultQueueSize,
			Retry:     notify.DefaultRetryConfig(),
		},
		PlannedChangesCron: jobs.DefaultPlannedChangesSchedule,
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
//
// Missing and invalid keys are collected and reported together.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s does not exist", path)
			}
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	var invalid []string
	applyEnvironment(&cfg, &invalid)

	var missing []string
	cfg.validate(&missing, &invalid)

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required configuration: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		problems = append(problems, "invalid configuration values: "+strings.Join(invalid, ", "))
	}
	if len(problems) > 0 {
		return Config{}, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func applyEnvironment(cfg *Config, invalid *[]string) {
	setString := func(key string, target *string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*target = value
		}
	}
	setInt := func(key string, target *int, minimum int) {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < minimum {
			*invalid = append(*invalid, key)
			return
		}
		*target = n
	}

	setInt("ACTIVITIES_HTTP_PORT", &cfg.HTTPPort, 1)
	setString("ACTIVITIES_TIME_ZONE", &cfg.TimeZone)
	setString("ACTIVITIES_LOG_LEVEL", &cfg.LogLevel)
	setString("ACTIVITIES_STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("ACTIVITIES_SQLITE_PATH", &cfg.Storage.SQLitePath)
	setString("ACTIVITIES_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	setString("ACTIVITIES_AWS_REGION", &cfg.AWS.Region)
	setString("ACTIVITIES_AWS_ENDPOINT", &cfg.AWS.Endpoint)
	setString("ACTIVITIES_INBOUND_QUEUE_URL", &cfg.Inbound.QueueURL)
	setInt("ACTIVITIES_CONSUMER_CONCURRENCY", &cfg.Inbound.Concurrency, 1)
	setString("ACTIVITIES_OUTBOUND_TOPIC_ARN", &cfg.Outbound.TopicARN)
	setInt("ACTIVITIES_NOTIFY_MAX_RETRIES", &cfg.Outbound.Retry.MaxRetries, 0)
	setString("ACTIVITIES_PLANNED_CHANGES_CRON", &cfg.PlannedChangesCron)

	if value := strings.TrimSpace(os.Getenv("ACTIVITIES_ENABLED_EVENT_TYPES")); value != "" {
		cfg.Inbound.EnabledEventTypes = splitList(value)
	}

	// name:hash pairs, comma separated.
	if value := strings.TrimSpace(os.Getenv("ACTIVITIES_API_KEYS")); value != "" {
		clients := make([]APIClient, 0)
		for _, entry := range splitList(value) {
			name, hash, ok := strings.Cut(entry, ":")
			if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(hash) == "" {
				*invalid = append(*invalid, "ACTIVITIES_API_KEYS")
				clients = nil
				break
			}
			clients = append(clients, APIClient{Name: strings.TrimSpace(name), KeyHash: strings.TrimSpace(hash)})
		}
		if clients != nil {
			cfg.APIClients = clients
		}
	}
}

func (c *Config) validate(missing, invalid *[]string) {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		*invalid = append(*invalid, "http_port")
	}

	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		*invalid = append(*invalid, "time_zone")
	} else {
		c.location = loc
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		*invalid = append(*invalid, "log_level")
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			*missing = append(*missing, "storage.sqlite_path")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			*missing = append(*missing, "storage.postgres_dsn")
		}
	default:
		*invalid = append(*invalid, "storage.driver")
	}

	known := make(map[string]struct{}, len(events.KnownTypes))
	for _, t := range events.KnownTypes {
		known[string(t)] = struct{}{}
	}
	for _, t := range c.Inbound.EnabledEventTypes {
		if _, ok := known[t]; !ok {
			*invalid = append(*invalid, "inbound.enabled_event_types")
			break
		}
	}
	if c.Inbound.Concurrency < 1 {
		*invalid = append(*invalid, "inbound.concurrency")
	}

	seen := make(map[int64]struct{}, len(c.CancellationReasons))
	for _, reason := range c.CancellationReasons {
		_, dup := seen[reason.ID]
		if reason.ID <= 0 || dup || strings.TrimSpace(reason.Description) == "" {
			*invalid = append(*invalid, "cancellation_reasons")
			break
		}
		seen[reason.ID] = struct{}{}
	}

	if len(c.APIClients) == 0 {
		*missing = append(*missing, "api_clients")
	}
	for _, client := range c.APIClients {
		if client.Name == "" || client.KeyHash == "" {
			*invalid = append(*invalid, "api_clients")
			break
		}
	}
}

// Location returns the facility time zone. It is only valid on a Config
// returned by Load.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// EventTypes returns the enabled inbound event types.
func (c Config) EventTypes() []events.Type {
	types := make([]events.Type, 0, len(c.Inbound.EnabledEventTypes))
	for _, t := range c.Inbound.EnabledEventTypes {
		types = append(types, events.Type(t))
	}
	return types
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
