package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/n0needt0/goodies/sbs-relay/alerts"
	"github.com/n0needt0/goodies/sbs-relay/domain"
)

// ServiceUUIDLength is the exact length the collector expects for a sender id
const ServiceUUIDLength = 16

type Config struct {
	App          App           `mapstructure:"app"`
	Logging      LoggingConfig `mapstructure:"logging"`
	Receiver     Receiver      `mapstructure:"receiver"`
	Service      Service       `mapstructure:"service"`
	Reconnect    Reconnect     `mapstructure:"reconnect"`
	Dashboard    Dashboard     `mapstructure:"dashboard"`
	SOC          SOCAlert      `mapstructure:"soc"`
	Otel         Otel          `mapstructure:"otel"`
	Housekeeping Housekeeping  `mapstructure:"housekeeping"`
	Dev          bool          `mapstructure:"dev"`

	// Runtime components
	SOCAlertClient *alerts.SOCAlertClient `mapstructure:"-"`
}

type App struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Receiver is the upstream byte source the relay dials
type Receiver struct {
	IP                  string `mapstructure:"ip"`
	Port                int    `mapstructure:"port"`
	ReadBufferSizeBytes int    `mapstructure:"read_buffer_size_bytes"`
	BufferGrowthLimit   int    `mapstructure:"buffer_growth_limit"`
	ReadTimeoutMs       int    `mapstructure:"read_timeout_ms"`
	RetryPauseMs        int    `mapstructure:"retry_pause_ms"`
	DialTimeoutSec      int    `mapstructure:"dial_timeout_seconds"`
}

// Service is the remote collector batches are posted to
type Service struct {
	URL        string `mapstructure:"url"`
	UUID       string `mapstructure:"uuid"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

type Reconnect struct {
	BaseDelaySec int `mapstructure:"base_delay_seconds"`
	MaxAttempts  int `mapstructure:"max_attempts"`
}

type Dashboard struct {
	Disabled bool `mapstructure:"disabled"`
	Port     int  `mapstructure:"port"`
}

type SOCAlert struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Timeout     int    `mapstructure:"timeout"`
	ThrottleSec int    `mapstructure:"throttle_seconds"`
}

type Otel struct {
	Enabled               bool   `mapstructure:"enabled"`
	Endpoint              string `mapstructure:"endpoint"`
	ServiceName           string `mapstructure:"service_name"`
	ScrapeIntervalSeconds int    `mapstructure:"scrapeIntervalseconds"`
}

type Housekeeping struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"intervalseconds"`
}

// flagKeys maps CLI flag names onto config keys
var flagKeys = map[string]string{
	"receiver-ip":    "receiver.ip",
	"receiver-port":  "receiver.port",
	"service-url":    "service.url",
	"service-uuid":   "service.uuid",
	"dashboard-port": "dashboard.port",
	"log-level":      "logging.level",
}

// RegisterFlags adds the relay command-line flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "TOML or YAML config file path (look like: ./conf.toml)")
	fs.String("receiver-ip", "127.0.0.1", "Receiver ip")
	fs.Int("receiver-port", 30003, "Receiver port")
	fs.String("service-url", "", "Service url")
	fs.String("service-uuid", "", "Service uuid")
	fs.Int("dashboard-port", 8080, "Dashboard port")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
}

// LoadConfig layers defaults, the optional config file, environment and
// command-line flags (highest precedence) into cfg.
func LoadConfig(cfgFile, envPrefix string, flags *pflag.FlagSet, cfg *Config) error {
	k := koanf.New(".")

	if cfgFile != "" {
		var parser koanf.Parser = yaml.Parser()
		if strings.EqualFold(filepath.Ext(cfgFile), ".toml") {
			parser = toml.Parser()
		}
		if err := k.Load(file.Provider(cfgFile), parser); err != nil {
			return errors.Wrapf(err, "failed to parse %s", cfgFile)
		}
		liftLegacyKeys(k)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return errors.Wrapf(err, "error loading config from env")
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return errors.Wrap(err, "error loading config from flags")
		}
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s", cfgFile)
	}

	cfg.applyDefaults(k.Exists)
	return nil
}

// legacyKeys maps flat keys of older relay config files onto current keys
var legacyKeys = map[string]string{
	"dashboard_port": "dashboard.port",
}

func liftLegacyKeys(k *koanf.Koanf) {
	for legacy, key := range legacyKeys {
		if !k.Exists(legacy) || k.Exists(key) {
			continue
		}
		if err := k.Set(key, k.Get(legacy)); err != nil {
			log.Warnf("Ignoring config key %s: %v", legacy, err)
			continue
		}
		log.Warnf("Config key %s is deprecated, use %s", legacy, key)
	}
}

// applyDefaults fills zero values. Keys reported by isSet were given
// explicitly and are left for Validate, so an explicit 0 is not replaced.
func (cfg *Config) applyDefaults(isSet func(key string) bool) {
	unset := func(key string) bool {
		return isSet == nil || !isSet(key)
	}

	if cfg.App.Name == "" {
		cfg.App.Name = "sbs-relay"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Receiver.IP == "" {
		cfg.Receiver.IP = "127.0.0.1"
	}
	if cfg.Receiver.Port == 0 && unset("receiver.port") {
		cfg.Receiver.Port = 30003
	}
	if cfg.Receiver.ReadBufferSizeBytes == 0 {
		cfg.Receiver.ReadBufferSizeBytes = 8192 // 8KB baseline
	}
	if cfg.Receiver.BufferGrowthLimit == 0 {
		cfg.Receiver.BufferGrowthLimit = 8
	}
	if cfg.Receiver.ReadTimeoutMs == 0 {
		cfg.Receiver.ReadTimeoutMs = 1000
	}
	if cfg.Receiver.RetryPauseMs == 0 {
		cfg.Receiver.RetryPauseMs = 200
	}
	if cfg.Receiver.DialTimeoutSec == 0 {
		cfg.Receiver.DialTimeoutSec = 10
	}
	if cfg.Service.TimeoutSec == 0 {
		cfg.Service.TimeoutSec = 30
	}
	if cfg.Reconnect.BaseDelaySec == 0 {
		cfg.Reconnect.BaseDelaySec = 15
	}
	if cfg.Reconnect.MaxAttempts == 0 && unset("reconnect.max_attempts") {
		cfg.Reconnect.MaxAttempts = 5
	}
	if cfg.Dashboard.Port == 0 && unset("dashboard.port") {
		cfg.Dashboard.Port = 8080
	}
	if cfg.SOC.ThrottleSec == 0 {
		cfg.SOC.ThrottleSec = 300
	}
	if cfg.Otel.ServiceName == "" {
		cfg.Otel.ServiceName = cfg.App.Name
	}
	if cfg.Otel.ScrapeIntervalSeconds == 0 {
		cfg.Otel.ScrapeIntervalSeconds = 15
	}
	if cfg.Housekeeping.IntervalSeconds == 0 {
		cfg.Housekeeping.IntervalSeconds = 60
	}
}

// Validate checks the settings the relay cannot run without
func (cfg *Config) Validate() error {
	if cfg.Service.URL == "" {
		return domain.InvalidConfig{Field: "service.url", Err: errors.New("server url is required")}
	}
	u, err := url.Parse(cfg.Service.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.InvalidConfig{Field: "service.url", Err: fmt.Errorf("not an absolute http(s) url: %q", cfg.Service.URL)}
	}
	if cfg.Service.UUID == "" {
		return domain.InvalidConfig{Field: "service.uuid", Err: errors.New("server uuid is required")}
	}
	if len(cfg.Service.UUID) != ServiceUUIDLength {
		return domain.InvalidConfig{Field: "service.uuid", Err: fmt.Errorf("must be exactly %d characters, got %d", ServiceUUIDLength, len(cfg.Service.UUID))}
	}
	if cfg.Receiver.Port < 1 || cfg.Receiver.Port > 65535 {
		return domain.InvalidConfig{Field: "receiver.port", Err: fmt.Errorf("out of range: %d", cfg.Receiver.Port)}
	}
	if !cfg.Dashboard.Disabled && (cfg.Dashboard.Port < 1 || cfg.Dashboard.Port > 65535) {
		return domain.InvalidConfig{Field: "dashboard.port", Err: fmt.Errorf("out of range: %d", cfg.Dashboard.Port)}
	}
	if cfg.Reconnect.MaxAttempts < 1 {
		return domain.InvalidConfig{Field: "reconnect.max_attempts", Err: fmt.Errorf("must be positive: %d", cfg.Reconnect.MaxAttempts)}
	}
	return nil
}

func (cfg *Config) InitializeComponents() error {
	cfg.SOCAlertClient = alerts.NewSOCAlertClient(alerts.AlertClientConfig{
		SOC: alerts.SOCConfig{
			Enabled:  cfg.SOC.Enabled,
			Endpoint: cfg.SOC.Endpoint,
			Timeout:  cfg.SOC.Timeout,
			Throttle: time.Duration(cfg.SOC.ThrottleSec) * time.Second,
		},
		App: alerts.AppConfig{
			Name:    cfg.App.Name,
			Version: cfg.App.Version,
		},
		Dev: cfg.Dev,
	})

	return nil
}

// MaskSensitiveValue keeps the first and last four characters of value
func MaskSensitiveValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// ReceiverAddress returns the upstream host:port
func (cfg *Config) ReceiverAddress() string {
	return fmt.Sprintf("%s:%d", cfg.Receiver.IP, cfg.Receiver.Port)
}

func (cfg *Config) GetServiceTimeout() time.Duration {
	return time.Duration(cfg.Service.TimeoutSec) * time.Second
}

func (cfg *Config) GetDialTimeout() time.Duration {
	return time.Duration(cfg.Receiver.DialTimeoutSec) * time.Second
}

func (cfg *Config) GetReadTimeout() time.Duration {
	return time.Duration(cfg.Receiver.ReadTimeoutMs) * time.Millisecond
}

func (cfg *Config) GetRetryPause() time.Duration {
	return time.Duration(cfg.Receiver.RetryPauseMs) * time.Millisecond
}

func (cfg *Config) GetReconnectBaseDelay() time.Duration {
	return time.Duration(cfg.Reconnect.BaseDelaySec) * time.Second
}

func (cfg *Config) GetHousekeepingInterval() time.Duration {
	return time.Duration(cfg.Housekeeping.IntervalSeconds) * time.Second
}
