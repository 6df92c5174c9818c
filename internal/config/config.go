// Package config loads counters engine configuration from a YAML file
// plus COUNTERS_-prefixed environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Config holds all counters-engine configuration.
type Config struct {
	UseShortNames        bool    `yaml:"use_short_names"`
	DebugMode            bool    `yaml:"debug_mode"`
	UndefinedFieldIsTrue bool    `yaml:"undefined_field_is_true"`
	SplitIntervals       []int64 `yaml:"split_intervals"`

	// MessageTypeField names the query key treated as the fact-type
	// discriminator when building type-keyed candidate caches.
	MessageTypeField string `yaml:"message_type_field"`

	// CatalogueFile is resolved against the current working directory
	// and up to three parent directories. NameMapFile is read at the path
	// as given (relative to the current working directory only).
	CatalogueFile string `yaml:"catalogue_file"`
	NameMapFile   string `yaml:"name_map_file"`

	Store   Store   `yaml:"store"`
	Metrics Metrics `yaml:"metrics"`

	// Notifications configures outbound alerting for serve's
	// --notify mode: a fact contributing to a counter, or the fact's
	// affected-counter count reaching a configured threshold.
	Notifications []Notification `yaml:"notifications"`
}

// Store configures the storage backend.
type Store struct {
	Driver   string `yaml:"driver"` // "memory" or "mongo"
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// Metrics configures Prometheus exposition.
type Metrics struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Notification configures a single outbound alert channel: slack,
// webhook, or email. Secrets (webhook_url, smtp_password, sensitive
// headers) must be given as ${ENV_VAR} placeholders, never literal
// values, and are resolved at dispatcher construction time.
type Notification struct {
	Type string   `yaml:"type"` // "slack", "webhook", "email"
	On   []string `yaml:"on"`   // event filter: "contributing", "threshold_crossed"; empty means all

	// slack
	WebhookURL   string `yaml:"webhook_url"`
	DashboardURL string `yaml:"dashboard_url"`

	// webhook
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`

	// email
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUsername string   `yaml:"smtp_username"`
	SMTPPassword string   `yaml:"smtp_password"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`
	Subject      string   `yaml:"subject"`

	// Threshold is compared against the fact's affected count (the
	// number of counters the fact affects, one figure per fact); reaching
	// it triggers a "threshold_crossed" event. A non-empty CounterName
	// additionally requires the fact to contribute to that counter; empty
	// means no such requirement. No per-counter affected count is kept.
	CounterName string `yaml:"counter_name"`
	Threshold   int    `yaml:"threshold"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MessageTypeField: "t",
		CatalogueFile:    "counters.json",
		NameMapFile:      "namemap.json",
		Store:            Store{Driver: "memory"},
		Metrics:          Metrics{ListenAddr: ":9090"},
	}
}

// Load reads configuration from .counters.yml in dir, falling back to
// ~/.counters.yml, then applies COUNTERS_-prefixed environment
// overrides. Returns DefaultConfig (with overrides applied) if no file
// is found.
func Load(dir string) (Config, error) {
	cfg := DefaultConfig()

	paths := []string{filepath.Join(dir, ".counters.yml")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".counters.yml"))
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue // file not found, try next
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
		break
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg from COUNTERS_-prefixed environment
// variables, the external contract named for the engine's configuration
// knobs.
func applyEnvOverrides(cfg *Config) {
	if v, ok := boolEnv("COUNTERS_USE_SHORT_NAMES"); ok {
		cfg.UseShortNames = v
	}
	if v, ok := boolEnv("COUNTERS_DEBUG_MODE"); ok {
		cfg.DebugMode = v
	}
	if v, ok := boolEnv("COUNTERS_UNDEFINED_FIELD_IS_TRUE"); ok {
		cfg.UndefinedFieldIsTrue = v
	}
	if raw := os.Getenv("COUNTERS_SPLIT_INTERVALS"); raw != "" {
		if v, ok := parseIntervals(raw); ok {
			cfg.SplitIntervals = v
		}
	}
	if v := os.Getenv("COUNTERS_CATALOGUE_FILE"); v != "" {
		cfg.CatalogueFile = v
	}
	if v := os.Getenv("COUNTERS_NAME_MAP_FILE"); v != "" {
		cfg.NameMapFile = v
	}
	if v := os.Getenv("COUNTERS_STORE_URI"); v != "" {
		cfg.Store.URI = v
	}
}

func boolEnv(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func parseIntervals(raw string) ([]int64, bool) {
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
