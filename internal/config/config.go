package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the name of the JSON config file looked up in the config dir.
const FileName = "markerlens.cfg.json"

// DetectionConfig holds the detection service connection settings.
type DetectionConfig struct {
	URL              string        `json:"url" mapstructure:"url"`
	ReconnectDelay   time.Duration `json:"reconnectDelay" mapstructure:"reconnectDelay"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout" mapstructure:"handshakeTimeout"`
}

// SamplerConfig holds frame sampling settings.
type SamplerConfig struct {
	Interval     time.Duration `json:"interval" mapstructure:"interval"`
	Quality      int           `json:"quality" mapstructure:"quality"`
	TickInterval time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
}

// CatalogConfig holds marker catalog service settings.
type CatalogConfig struct {
	ServerURL string        `json:"serverUrl" mapstructure:"serverUrl"`
	Path      string        `json:"path" mapstructure:"path"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// CaptureConfig selects and configures the frame source.
type CaptureConfig struct {
	Type   string `json:"type" mapstructure:"type"` // "synthetic" or "mjpeg"
	URL    string `json:"url" mapstructure:"url"`
	Width  int    `json:"width" mapstructure:"width"`
	Height int    `json:"height" mapstructure:"height"`
}

// RenderConfig selects where render instructions are delivered.
type RenderConfig struct {
	Type        string `json:"type" mapstructure:"type"` // "log", "websocket" or "zmq"
	Listen      string `json:"listen" mapstructure:"listen"`
	ZMQEndpoint string `json:"zmqEndpoint" mapstructure:"zmqEndpoint"`
}

// MemoryConfig holds in-memory journal settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds sqlite journal settings
type SQLiteConfig struct {
	OutputDir    string        `json:"outputDir" mapstructure:"outputDir"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// JournalConfig selects the session journal backend.
type JournalConfig struct {
	Type          string        `json:"type" mapstructure:"type"` // "memory", "sqlite", "postgres" or "none"
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	QueueSize     int           `json:"queueSize" mapstructure:"queueSize"`
	Memory        MemoryConfig  `json:"memory" mapstructure:"memory"`
	SQLite        SQLiteConfig  `json:"sqlite" mapstructure:"sqlite"`
}

// DBConfig holds postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN returns the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database,
	)
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
}

// URL returns the InfluxDB server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds GELF log shipping settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	Endpoint       string
	Insecure       bool
	Metrics        bool // dump metrics to a file next to the session log
	MetricInterval time.Duration
}

// MonitorConfig holds status monitor settings.
type MonitorConfig struct {
	Enabled   bool
	Interval  time.Duration
	StatusDir string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// SetDefaults registers every default value. Load calls it; callers that
// continue without a config file rely on it alone.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./markerlens-logs")
	viper.SetDefault("debug", false)

	viper.SetDefault("detection.url", "ws://localhost:8000/ws/detect")
	viper.SetDefault("detection.reconnectDelay", "2s")
	viper.SetDefault("detection.handshakeTimeout", "5s")

	viper.SetDefault("sampler.interval", "150ms")
	viper.SetDefault("sampler.quality", 70)
	viper.SetDefault("sampler.tickInterval", "16ms")

	viper.SetDefault("catalog.serverUrl", "http://localhost:8000")
	viper.SetDefault("catalog.path", "/api/ads")
	viper.SetDefault("catalog.timeout", "10s")

	viper.SetDefault("capture.type", "synthetic")
	viper.SetDefault("capture.url", "")
	viper.SetDefault("capture.width", 640)
	viper.SetDefault("capture.height", 480)

	viper.SetDefault("render.type", "websocket")
	viper.SetDefault("render.listen", ":8090")
	viper.SetDefault("render.zmqEndpoint", "tcp://*:5557")

	viper.SetDefault("journal.type", "memory")
	viper.SetDefault("journal.flushInterval", "1s")
	viper.SetDefault("journal.queueSize", 4096)
	viper.SetDefault("journal.memory.outputDir", "./sessions")
	viper.SetDefault("journal.memory.compressOutput", true)
	viper.SetDefault("journal.sqlite.outputDir", "./sessions")
	viper.SetDefault("journal.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "markerlens")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "markerlens")
	viper.SetDefault("influx.bucket", "session_stats")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "markerlens")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.metrics", true)
	viper.SetDefault("otel.metricInterval", "30s")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusDir", "./markerlens-logs")
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

// GetDetectionConfig returns the detection channel settings.
func GetDetectionConfig() DetectionConfig {
	return DetectionConfig{
		URL:              viper.GetString("detection.url"),
		ReconnectDelay:   viper.GetDuration("detection.reconnectDelay"),
		HandshakeTimeout: viper.GetDuration("detection.handshakeTimeout"),
	}
}

// GetSamplerConfig returns the frame sampler settings.
func GetSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval:     viper.GetDuration("sampler.interval"),
		Quality:      viper.GetInt("sampler.quality"),
		TickInterval: viper.GetDuration("sampler.tickInterval"),
	}
}

// GetCatalogConfig returns the marker catalog settings.
func GetCatalogConfig() CatalogConfig {
	return CatalogConfig{
		ServerURL: viper.GetString("catalog.serverUrl"),
		Path:      viper.GetString("catalog.path"),
		Timeout:   viper.GetDuration("catalog.timeout"),
	}
}

// GetCaptureConfig returns the frame source settings.
func GetCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Type:   viper.GetString("capture.type"),
		URL:    viper.GetString("capture.url"),
		Width:  viper.GetInt("capture.width"),
		Height: viper.GetInt("capture.height"),
	}
}

// GetRenderConfig returns the render sink settings.
func GetRenderConfig() RenderConfig {
	return RenderConfig{
		Type:        viper.GetString("render.type"),
		Listen:      viper.GetString("render.listen"),
		ZMQEndpoint: viper.GetString("render.zmqEndpoint"),
	}
}

// GetJournalConfig returns the session journal settings.
func GetJournalConfig() JournalConfig {
	return JournalConfig{
		Type:          viper.GetString("journal.type"),
		FlushInterval: viper.GetDuration("journal.flushInterval"),
		QueueSize:     viper.GetInt("journal.queueSize"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("journal.memory.outputDir"),
			CompressOutput: viper.GetBool("journal.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			OutputDir:    viper.GetString("journal.sqlite.outputDir"),
			DumpInterval: viper.GetDuration("journal.sqlite.dumpInterval"),
		},
	}
}

// GetDBConfig returns the postgres settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
		Metrics:        viper.GetBool("otel.metrics"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// GetMonitorConfig returns the status monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:   viper.GetBool("monitor.enabled"),
		Interval:  viper.GetDuration("monitor.interval"),
		StatusDir: viper.GetString("monitor.statusDir"),
	}
}
