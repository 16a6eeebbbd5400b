// Command markerlens samples a video source, streams frames to a marker
// detection service and keeps video overlays pinned to the detected markers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/markerlens/tracker/internal/capture"
	"github.com/markerlens/tracker/internal/catalog"
	"github.com/markerlens/tracker/internal/config"
	"github.com/markerlens/tracker/internal/detection"
	"github.com/markerlens/tracker/internal/dispatcher"
	"github.com/markerlens/tracker/internal/influx"
	"github.com/markerlens/tracker/internal/journal"
	"github.com/markerlens/tracker/internal/logging"
	"github.com/markerlens/tracker/internal/monitor"
	intOtel "github.com/markerlens/tracker/internal/otel"
	"github.com/markerlens/tracker/internal/render"
	"github.com/markerlens/tracker/internal/sampler"
	"github.com/markerlens/tracker/internal/streamer"
)

const (
	ExtensionName   = "markerlens"
	syntheticWarmup = 500 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

var (
	BuildVersion = "dev"
	BuildDate    = "unknown"

	SessionStartTime = time.Now()

	SlogManager *logging.SlogManager
	Logger      *slog.Logger
	ZLogger     zerolog.Logger
	LogFile     *os.File
	LogFilePath string
	MetricsFile *os.File

	OTelProvider *intOtel.Provider

	eventDispatcher *dispatcher.Dispatcher
	journalBackend  journal.Backend
	renderSink      render.Sink
	frameSource     capture.Source
	influxManager   *influx.Manager
	monitorService  *monitor.Service

	session atomic.Pointer[streamer.Session]
)

func main() {
	configDir := parseFlags()
	if viper.GetBool("version") {
		fmt.Printf("%s %s (%s)\n", ExtensionName, BuildVersion, BuildDate)
		return
	}

	setupLogging(configDir)
	defer closeLogging()

	Logger.Info("Starting up...", "version", BuildVersion)

	if err := run(); err != nil {
		Logger.Error("Exiting with error", "error", err)
		closeLogging()
		os.Exit(1)
	}
	Logger.Info("Shut down cleanly")
}

// parseFlags registers command line flags, binds them over the config file
// values and returns the config directory.
func parseFlags() string {
	fs := pflag.CommandLine
	configDir := fs.String("config-dir", ".", "directory containing "+config.FileName)
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("detection-url", "", "detection service WebSocket URL")
	fs.String("catalog-url", "", "marker catalog base URL")
	fs.String("capture", "", "frame source (synthetic, mjpeg)")
	fs.String("capture-url", "", "MJPEG stream URL")
	fs.String("render", "", "render sink (websocket, zmq, log)")
	fs.String("render-listen", "", "render WebSocket listen address")
	fs.String("journal", "", "journal backend (memory, sqlite, postgres, none)")
	fs.Bool("version", false, "print version and exit")
	pflag.Parse()

	bindings := map[string]string{
		"logLevel":          "log-level",
		"detection.url":     "detection-url",
		"catalog.serverUrl": "catalog-url",
		"capture.type":      "capture",
		"capture.url":       "capture-url",
		"render.type":       "render",
		"render.listen":     "render-listen",
		"journal.type":      "journal",
		"version":           "version",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, fs.Lookup(flag))
	}
	return *configDir
}

func setupLogging(configDir string) {
	// console logging until the log file is open
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, viper.GetString("logLevel"), nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		config.SetDefaults()
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", configDir)
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}

	LogFilePath = logging.LogFilePath(logsDir, ExtensionName, SessionStartTime)
	if _, err := os.Stat(LogFilePath); err == nil {
		_ = os.Rename(LogFilePath, LogFilePath+".old")
	}

	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var logWriter, metricWriter io.Writer
		if LogFile != nil {
			logWriter = LogFile
		}
		if otelCfg.Metrics {
			path := logging.LogFilePath(logsDir, ExtensionName+".metrics", SessionStartTime)
			if MetricsFile, err = os.Create(path); err != nil {
				Logger.Error("Failed to create metrics file", "error", err, "path", path)
				MetricsFile = nil
			} else {
				metricWriter = MetricsFile
			}
		}
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			InstanceID:     fmt.Sprintf("%s-%d", hostname(), os.Getpid()),
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      logWriter,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
			MetricWriter:   metricWriter,
			MetricInterval: otelCfg.MetricInterval,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	opts := []logging.Option{logging.WithContext(func() []slog.Attr {
		s := session.Load()
		if s == nil {
			return nil
		}
		return []slog.Attr{slog.String("session", s.ID())}
	})}

	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		w, err := logging.NewGELFWriter(graylogCfg.Address)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", graylogCfg.Address)
		} else {
			opts = append(opts, logging.WithGELF(w))
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	if LogFile != nil {
		SlogManager.Setup(LogFile, viper.GetString("logLevel"), otelLogProvider, opts...)
		ZLogger = logging.NewZerolog(LogFile, viper.GetString("logLevel"))
	} else {
		SlogManager.Setup(nil, viper.GetString("logLevel"), otelLogProvider, opts...)
		ZLogger = logging.NewConsoleZerolog(os.Stdout, viper.GetString("logLevel"))
	}
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)
	Logger.Info("Logging to file", "path", LogFilePath)
}

func closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shut down OTel provider: %v\n", err)
		}
		OTelProvider = nil
	}
	if MetricsFile != nil {
		_ = MetricsFile.Close()
		MetricsFile = nil
	}
	if LogFile != nil {
		_ = LogFile.Close()
		LogFile = nil
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ExtensionName
	}
	return h
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(ZLogger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	defer eventDispatcher.Close()

	Logger.Info("Initializing journal...")
	if err := initJournal(); err != nil {
		return err
	}
	defer closeJournal()

	renderSink, err = createSink(config.GetRenderConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := renderSink.Close(); err != nil {
			Logger.Warn("Failed to close render sink", "error", err)
		}
	}()

	frameSource, err = createSource(ctx, config.GetCaptureConfig())
	if err != nil {
		return err
	}
	defer frameSource.Close()

	sess, err := createSession()
	if err != nil {
		return err
	}
	session.Store(sess)
	sess.RegisterHandlers(eventDispatcher)

	startInflux(ctx)
	defer closeInflux()

	startMonitor(sess)
	defer stopMonitor()

	checkCatalogStatus(ctx)

	if err := sess.Run(ctx); err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	return nil
}

func createSource(ctx context.Context, captureCfg config.CaptureConfig) (capture.Source, error) {
	switch captureCfg.Type {
	case "mjpeg":
		if captureCfg.URL == "" {
			return nil, errors.New("capture.url is required for the mjpeg source")
		}
		src := capture.NewMJPEG(captureCfg.URL, Logger)
		src.Start(ctx)
		Logger.Info("MJPEG capture source initialized", "url", captureCfg.URL)
		return src, nil

	default:
		Logger.Info("Synthetic capture source initialized", "width", captureCfg.Width, "height", captureCfg.Height)
		return capture.NewSynthetic(captureCfg.Width, captureCfg.Height, syntheticWarmup), nil
	}
}

func createSession() (*streamer.Session, error) {
	detectionCfg := config.GetDetectionConfig()
	samplerCfg := config.GetSamplerConfig()
	catalogCfg := config.GetCatalogConfig()

	channel := detection.New(detection.Config{
		URL:              detectionCfg.URL,
		ReconnectDelay:   detectionCfg.ReconnectDelay,
		HandshakeTimeout: detectionCfg.HandshakeTimeout,
	}, Logger)

	smp := sampler.New(frameSource, sampler.JPEGEncoder{Quality: samplerCfg.Quality}, samplerCfg.Interval, Logger)

	opts := []streamer.Option{
		streamer.WithSink(renderSink),
		streamer.WithLogger(Logger),
	}
	if journalBackend != nil {
		opts = append(opts, streamer.WithJournal(journalBackend))
	}

	return streamer.New(streamer.Config{
		TickInterval: samplerCfg.TickInterval,
		DetectionURL: detectionCfg.URL,
		CatalogURL:   catalogCfg.ServerURL + catalogCfg.Path,
	}, catalog.New(catalogCfg.ServerURL, catalogCfg.Path, catalogCfg.Timeout), channel, smp, opts...)
}

func checkCatalogStatus(ctx context.Context) {
	catalogCfg := config.GetCatalogConfig()
	client := catalog.New(catalogCfg.ServerURL, catalogCfg.Path, catalogCfg.Timeout)
	if err := client.Healthcheck(ctx); err != nil {
		Logger.Warn("Catalog server is not reachable", "url", catalogCfg.ServerURL, "error", err)
		return
	}
	Logger.Info("Catalog server is reachable", "url", catalogCfg.ServerURL)
}

func startInflux(ctx context.Context) {
	influxCfg := config.GetInfluxConfig()
	if !influxCfg.Enabled {
		return
	}
	backupPath := filepath.Join(
		viper.GetString("logsDir"),
		fmt.Sprintf("influx_backup_%s.log.gz", SessionStartTime.Format("20060102_150405")),
	)
	influxManager = influx.NewManager(influxCfg, ZLogger, backupPath)
	if err := influxManager.Connect(ctx); err != nil {
		Logger.Error("Failed to connect to InfluxDB", "error", err)
		influxManager = nil
	}
}

func closeInflux() {
	if influxManager == nil {
		return
	}
	if err := influxManager.Close(); err != nil {
		Logger.Warn("Failed to close InfluxDB", "error", err)
	}
}

func startMonitor(sess *streamer.Session) {
	monitorCfg := config.GetMonitorConfig()
	if !monitorCfg.Enabled {
		return
	}
	deps := monitor.Dependencies{
		Status:    sess.Status,
		StatusDir: monitorCfg.StatusDir,
		Interval:  monitorCfg.Interval,
		Logger:    Logger,
	}
	if r, ok := journalBackend.(monitor.StatRecorder); ok {
		deps.Journal = r
	}
	if influxManager != nil {
		deps.Influx = influxManager
	}
	monitorService = monitor.NewService(deps)
	if err := monitorService.Start(); err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
		monitorService = nil
	}
}

func stopMonitor() {
	if monitorService != nil {
		monitorService.Stop()
	}
}
