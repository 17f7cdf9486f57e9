package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "railsim.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. RAILSIM_SIM_TICKRATE.
const EnvPrefix = "RAILSIM"

// SimConfig holds tick pipeline settings.
type SimConfig struct {
	TickRate           float64 `json:"tickRate" mapstructure:"tickRate"`
	Ticks              int     `json:"ticks" mapstructure:"ticks"`
	Realtime           bool    `json:"realtime" mapstructure:"realtime"`
	GravityMode        string  `json:"gravityMode" mapstructure:"gravityMode"`
	MinDistanceSquared float64 `json:"minDistanceSquared" mapstructure:"minDistanceSquared"`
	PhysicsEngine      string  `json:"physicsEngine" mapstructure:"physicsEngine"`
	ContactTolerance   float64 `json:"contactTolerance" mapstructure:"contactTolerance"`
	ZoomSpeed          float64 `json:"zoomSpeed" mapstructure:"zoomSpeed"`
}

// InfluxConfig holds InfluxDB telemetry settings
type InfluxConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	URL           string        `json:"url" mapstructure:"url"`
	Token         string        `json:"token" mapstructure:"token"`
	Org           string        `json:"org" mapstructure:"org"`
	Bucket        string        `json:"bucket" mapstructure:"bucket"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
}

// PrometheusConfig holds the scrape endpoint settings
type PrometheusConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// StreamConfig holds websocket telemetry stream settings
type StreamConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
	Session string `json:"session" mapstructure:"session"`
}

// OTelConfig holds metrics and log export settings. Logs are exported to a
// file in the logs directory when Logs is set, and to an OTLP collector when
// Endpoint is.
type OTelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	ExportInterval time.Duration `json:"exportInterval" mapstructure:"exportInterval"`
	Logs           bool          `json:"logs" mapstructure:"logs"`
	Endpoint       string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `json:"insecure" mapstructure:"insecure"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logFormat", "text")
	viper.SetDefault("logBackend", "slog")
	viper.SetDefault("logsDir", "./railsimlogs")

	viper.SetDefault("sim.tickRate", 64.0)
	viper.SetDefault("sim.ticks", 640)
	viper.SetDefault("sim.realtime", false)

	viper.SetDefault("gravity.mode", "velocity")
	viper.SetDefault("gravity.minDistanceSquared", 1e-6)

	viper.SetDefault("physics.engine", "reference")
	viper.SetDefault("physics.contactTolerance", 0.05)

	viper.SetDefault("camera.zoomSpeed", 8.0)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "railsim")
	viper.SetDefault("otel.exportInterval", "10s")
	viper.SetDefault("otel.logs", true)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("prometheus.enabled", false)
	viper.SetDefault("prometheus.address", ":9464")

	viper.SetDefault("stream.enabled", false)
	viper.SetDefault("stream.url", "ws://localhost:5000/stream")
	viper.SetDefault("stream.secret", "")
	viper.SetDefault("stream.session", "railsim")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "railsim")
	viper.SetDefault("influx.bucket", "railsim")
	viper.SetDefault("influx.flushInterval", "1s")
}

// Load sets default values and reads configuration from the JSON file in
// configDir. A missing file is not an error; defaults and environment
// overrides still apply.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// Simulation returns the pipeline settings.
func Simulation() SimConfig {
	return SimConfig{
		TickRate:           viper.GetFloat64("sim.tickRate"),
		Ticks:              viper.GetInt("sim.ticks"),
		Realtime:           viper.GetBool("sim.realtime"),
		GravityMode:        viper.GetString("gravity.mode"),
		MinDistanceSquared: viper.GetFloat64("gravity.minDistanceSquared"),
		PhysicsEngine:      viper.GetString("physics.engine"),
		ContactTolerance:   viper.GetFloat64("physics.contactTolerance"),
		ZoomSpeed:          viper.GetFloat64("camera.zoomSpeed"),
	}
}

// Influx returns the InfluxDB telemetry settings.
func Influx() InfluxConfig {
	return InfluxConfig{
		Enabled:       viper.GetBool("influx.enabled"),
		URL:           viper.GetString("influx.url"),
		Token:         viper.GetString("influx.token"),
		Org:           viper.GetString("influx.org"),
		Bucket:        viper.GetString("influx.bucket"),
		FlushInterval: viper.GetDuration("influx.flushInterval"),
	}
}

// Prometheus returns the scrape endpoint settings.
func Prometheus() PrometheusConfig {
	return PrometheusConfig{
		Enabled: viper.GetBool("prometheus.enabled"),
		Address: viper.GetString("prometheus.address"),
	}
}

// Stream returns the websocket stream settings.
func Stream() StreamConfig {
	return StreamConfig{
		Enabled: viper.GetBool("stream.enabled"),
		URL:     viper.GetString("stream.url"),
		Secret:  viper.GetString("stream.secret"),
		Session: viper.GetString("stream.session"),
	}
}

// OTel returns the metrics and log export settings.
func OTel() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		ExportInterval: viper.GetDuration("otel.exportInterval"),
		Logs:           viper.GetBool("otel.logs"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
