package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forensiq/wacapture/internal/api"
	"github.com/forensiq/wacapture/internal/config"
	"github.com/forensiq/wacapture/internal/daemon"
	"github.com/forensiq/wacapture/internal/driver"
	"github.com/forensiq/wacapture/internal/extract"
	"github.com/forensiq/wacapture/internal/health"
	wlog "github.com/forensiq/wacapture/internal/log"
	"github.com/forensiq/wacapture/internal/notify"
	"github.com/forensiq/wacapture/internal/session"
	"github.com/forensiq/wacapture/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	wlog.Configure(wlog.Config{
		Level:   "info",
		Service: "wacapture",
		Version: version,
	})
	logger := wlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(wlog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	wlog.Configure(wlog.Config{
		Level:   cfg.LogLevel,
		Service: "wacapture",
		Version: version,
	})

	if *configPath != "" {
		logger.Info().
			Str(wlog.FieldEvent, "config.loaded").
			Str("source", "file").
			Str(wlog.FieldPath, *configPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(wlog.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	// Pre-flight checks (fail fast).
	if err := config.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(wlog.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	// Tracing.
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "wacapture",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSample,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(wlog.FieldEvent, "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	logger.Info().
		Str(wlog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting wacapture")

	logger.Info().Msgf("→ Login page: %s", cfg.LoginURL)
	logger.Info().Msgf("→ Export dir: %s", cfg.ExportDir)
	if cfg.BackendBaseURL != "" {
		logger.Info().Msgf("→ Backend: %s", maskURL(cfg.BackendBaseURL))
	} else {
		logger.Warn().Msg("→ Backend: NOT configured, exports will not be announced")
	}
	logger.Info().Msgf("→ Auth deadlines: qr=%s pairing=%s", cfg.QRTimeout, cfg.PairingTimeout)
	logger.Info().Msgf("→ Extraction bounds: %d conversations × %d messages", cfg.MaxConversations, cfg.MaxMessages)

	// Session manager with the real browser driver.
	var notifier session.Notifier
	if cfg.BackendBaseURL != "" {
		notifier = notify.New(cfg.BackendBaseURL, cfg.SourceLabel)
	}
	mgr := session.NewManager(session.Config{
		Factory: driver.NewFactory(driver.Options{
			Bin:        cfg.BrowserBin,
			ControlURL: cfg.BrowserControlURL,
			Headless:   cfg.Headless,
			LoginURL:   cfg.LoginURL,
		}),
		Notifier: notifier,
		Extract: extract.Options{
			ExportDir:        cfg.ExportDir,
			MaxConversations: cfg.MaxConversations,
			MaxMessages:      cfg.MaxMessages,
			FetchTimeout:     cfg.FetchTimeout,
			FetchRPS:         cfg.FetchRPS,
		},
		QRTimeout:      cfg.QRTimeout,
		PairingTimeout: cfg.PairingTimeout,
		Retention:      cfg.Retention,
	})

	// Readiness gates on the export directory staying writable.
	hm := health.NewManager(version)
	hm.RegisterChecker(health.CheckerFunc{
		CheckName: "export_dir",
		Fn: func(context.Context) error {
			return config.PerformStartupChecks(cfg)
		},
	})

	srv := api.New(api.Options{
		Manager:       mgr,
		Health:        hm,
		ServiceName:   "wacapture",
		RateLimit:     cfg.RateLimitEnabled,
		RateLimitMax:  cfg.RateLimitMax,
		RateLimitWin:  cfg.RateLimitWindow,
		ExposeMetrics: cfg.MetricsAddr == "", // otherwise served on the metrics listener
	})

	dm, err := daemon.NewManager(daemon.DefaultServerConfig(cfg.ListenAddr), daemon.Deps{
		Logger:         logger,
		APIHandler:     srv.Handler(),
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    cfg.MetricsAddr,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(wlog.FieldEvent, "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	dm.RegisterShutdownHook("sessions", func(ctx context.Context) error {
		return mgr.Shutdown(ctx)
	})
	dm.RegisterShutdownHook("telemetry", func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	if err := dm.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(wlog.FieldEvent, "manager.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}
