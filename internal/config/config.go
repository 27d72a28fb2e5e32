package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Hardware        HardwareConfig    `yaml:"hardware"`
	Routines        RoutinesConfig    `yaml:"routines"`
	Schedules       SchedulesConfig   `yaml:"schedules"`
	Telemetry       TelemetryConfig   `yaml:"telemetry"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// HardwareConfig selects and shapes the hardware backend.
type HardwareConfig struct {
	Driver  string `yaml:"driver"` // "sim" is the only in-tree backend
	Sim     SimRig `yaml:"sim"`
	StartMM int    `yaml:"start_mm"` // initial simulated distance reading
}

// SimRig contains simulated rig parameters
type SimRig struct {
	EmptyMM     int     `yaml:"empty_mm"`
	FullMM      int     `yaml:"full_mm"`
	DrainRate   float64 `yaml:"drain_rate"`   // mm/s at 100% drain duty
	FillRate    float64 `yaml:"fill_rate"`    // mm/s at 100% source duty
	NoiseMM     float64 `yaml:"noise_mm"`
	FaultChance float64 `yaml:"fault_chance"` // probability of an invalid reading
}

// RoutinesConfig contains routine loop timing overrides
type RoutinesConfig struct {
	Poll          Duration `yaml:"poll"`
	ConfirmPoll   Duration `yaml:"confirm_poll"`
	SafetyTimeout Duration `yaml:"safety_timeout"`
	Debounce      int      `yaml:"debounce"`
}

// SchedulesConfig contains schedule application intervals
type SchedulesConfig struct {
	LightAirInterval Duration `yaml:"light_air_interval"`
	PlanterInterval  Duration `yaml:"planter_interval"`
}

// TelemetryConfig contains MQTT telemetry publisher settings
type TelemetryConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Broker      string   `yaml:"broker"`
	TopicPrefix string   `yaml:"topic_prefix"`
	ClientID    string   `yaml:"client_id"`
	Interval    Duration `yaml:"interval"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LedgerConfig contains event ledger retention settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// RetentionPeriod returns the retention window as a duration
func (c *LedgerConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./podd.sqlite"
	}

	// Hardware defaults
	if cfg.Hardware.Driver == "" {
		cfg.Hardware.Driver = "sim"
	}
	if cfg.Hardware.Sim.EmptyMM == 0 {
		cfg.Hardware.Sim.EmptyMM = 800
	}
	if cfg.Hardware.Sim.FullMM == 0 {
		cfg.Hardware.Sim.FullMM = 100
	}
	if cfg.Hardware.Sim.DrainRate == 0 {
		cfg.Hardware.Sim.DrainRate = 6.0
	}
	if cfg.Hardware.Sim.FillRate == 0 {
		cfg.Hardware.Sim.FillRate = 5.0
	}
	if cfg.Hardware.StartMM == 0 {
		cfg.Hardware.StartMM = cfg.Hardware.Sim.EmptyMM
	}

	// Routine loop defaults live in the routine package; zero values mean
	// "use firmware timing".

	// Telemetry defaults
	if cfg.Telemetry.TopicPrefix == "" {
		cfg.Telemetry.TopicPrefix = "podd"
	}
	if cfg.Telemetry.Interval == 0 {
		cfg.Telemetry.Interval = Duration(10 * time.Second)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// GetShutdownTimeout returns the shutdown timeout as a duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
