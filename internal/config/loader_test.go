package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/activities-management/internal/events"
)

var configEnvKeys = []string{
	"ACTIVITIES_HTTP_PORT",
	"ACTIVITIES_TIME_ZONE",
	"ACTIVITIES_LOG_LEVEL",
	"ACTIVITIES_STORAGE_DRIVER",
	"ACTIVITIES_SQLITE_PATH",
	"ACTIVITIES_POSTGRES_DSN",
	"ACTIVITIES_AWS_REGION",
	"ACTIVITIES_AWS_ENDPOINT",
	"ACTIVITIES_INBOUND_QUEUE_URL",
	"ACTIVITIES_CONSUMER_CONCURRENCY",
	"ACTIVITIES_OUTBOUND_TOPIC_ARN",
	"ACTIVITIES_NOTIFY_MAX_RETRIES",
	"ACTIVITIES_PLANNED_CHANGES_CRON",
	"ACTIVITIES_ENABLED_EVENT_TYPES",
	"ACTIVITIES_API_KEYS",
}

// clearEnvironment unsets every key for the duration of the test.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "activities.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoader_Defaults(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("ACTIVITIES_API_KEYS", "activities-ui:$argon2id$hash")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.HTTPPort != 8080 || cfg.Storage.Driver != DriverSQLite || cfg.Storage.SQLitePath != "activities.db" {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.PlannedChangesCron != "5 0 * * *" {
		t.Fatalf("unexpected cron default %q", cfg.PlannedChangesCron)
	}
	if len(cfg.EventTypes()) != len(events.KnownTypes) {
		t.Fatalf("expected every known event type enabled, got %v", cfg.EventTypes())
	}
	if cfg.Location().String() != "Europe/London" {
		t.Fatalf("unexpected location %v", cfg.Location())
	}
	if len(cfg.APIClients) != 1 || cfg.APIClients[0].Name != "activities-ui" || cfg.APIClients[0].KeyHash != "$argon2id$hash" {
		t.Fatalf("unexpected api clients %#v", cfg.APIClients)
	}
}

func TestLoader_FileThenEnvironment(t *testing.T) {
	clearEnvironment(t)

	path := writeConfig(t, `
http_port: 9090
time_zone: UTC
storage:
  driver: postgres
  postgres_dsn: postgres://file/activities
inbound:
  queue_url: https://sqs.local/inbound
  enabled_event_types: [person-returned]
  wait_time: 5s
outbound:
  topic_arn: arn:aws:sns:eu-west-2:000000000000:domain-events
  retry:
    max_retries: 5
    initial_delay: 1s
api_clients:
  - name: activities-ui
    key_hash: hash-one
`)
	t.Setenv("ACTIVITIES_POSTGRES_DSN", "postgres://env/activities")
	t.Setenv("ACTIVITIES_CONSUMER_CONCURRENCY", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.HTTPPort != 9090 || cfg.Location() != time.UTC {
		t.Fatalf("expected file values, got port=%d loc=%v", cfg.HTTPPort, cfg.Location())
	}
	if cfg.Storage.PostgresDSN != "postgres://env/activities" {
		t.Fatalf("expected environment to override file DSN, got %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Inbound.Concurrency != 8 || cfg.Inbound.WaitTime != 5*time.Second {
		t.Fatalf("unexpected inbound config %#v", cfg.Inbound)
	}
	if types := cfg.EventTypes(); len(types) != 1 || types[0] != events.TypePersonReturned {
		t.Fatalf("unexpected enabled types %v", types)
	}
	if cfg.Outbound.Retry.MaxRetries != 5 || cfg.Outbound.Retry.InitialDelay != time.Second {
		t.Fatalf("unexpected retry config %#v", cfg.Outbound.Retry)
	}
	if cfg.Outbound.Retry.BackoffFactor != 2.0 {
		t.Fatalf("expected unset retry fields to keep defaults, got %v", cfg.Outbound.Retry.BackoffFactor)
	}
}

func TestLoader_ReportsMissingValues(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("ACTIVITIES_STORAGE_DRIVER", "postgres")

	_, err := Load("")
	if err == nil {
		t.Fatalf("expected error when required values are missing")
	}
	expected := "missing required configuration: storage.postgres_dsn, api_clients"
	if err.Error() != expected {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}

func TestLoader_ReportsInvalidValues(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("ACTIVITIES_API_KEYS", "activities-ui:hash")
	t.Setenv("ACTIVITIES_HTTP_PORT", "zero")
	t.Setenv("ACTIVITIES_TIME_ZONE", "Mars/Olympus")
	t.Setenv("ACTIVITIES_STORAGE_DRIVER", "mongo")
	t.Setenv("ACTIVITIES_ENABLED_EVENT_TYPES", "person-returned, person-teleported")

	_, err := Load("")
	if err == nil {
		t.Fatalf("expected error for invalid values")
	}
	for _, key := range []string{"ACTIVITIES_HTTP_PORT", "time_zone", "storage.driver", "inbound.enabled_event_types"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %q", key, err.Error())
		}
	}
}

func TestLoader_RejectsMalformedAPIKeys(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("ACTIVITIES_API_KEYS", "no-separator")

	_, err := Load("")
	if err == nil {
		t.Fatalf("expected error for malformed api keys")
	}
	expected := "missing required configuration: api_clients; invalid configuration values: ACTIVITIES_API_KEYS"
	if err.Error() != expected {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}

func TestLoader_ReportsMissingAndInvalidTogether(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("ACTIVITIES_STORAGE_DRIVER", "postgres")
	t.Setenv("ACTIVITIES_HTTP_PORT", "-1")

	_, err := Load("")
	if err == nil {
		t.Fatalf("expected error when values are missing and invalid")
	}
	for _, key := range []string{"storage.postgres_dsn", "api_clients", "ACTIVITIES_HTTP_PORT"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %q", key, err.Error())
		}
	}
}

func TestLoader_MissingFile(t *testing.T) {
	clearEnvironment(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoader_CancellationReasons(t *testing.T) {
	clearEnvironment(t)

	path := writeConfig(t, `
api_clients:
  - name: activities-ui
    key_hash: $argon2id$hash
cancellation_reasons:
  - id: 2
    description: Cancelled
  - id: 4
    description: Staff shortage
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.CancellationReasons) != 2 || cfg.CancellationReasons[1].Description != "Staff shortage" {
		t.Fatalf("unexpected reasons %#v", cfg.CancellationReasons)
	}

	path = writeConfig(t, `
api_clients:
  - name: activities-ui
    key_hash: $argon2id$hash
cancellation_reasons:
  - id: 2
    description: Cancelled
  - id: 2
    description: Duplicate
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cancellation_reasons") {
		t.Fatalf("expected duplicate reason ids to be rejected, got %v", err)
	}
}
