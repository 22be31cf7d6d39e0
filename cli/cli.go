package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/serpent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/coder/csplistener/allowlist"
	"github.com/coder/csplistener/audit"
	"github.com/coder/csplistener/config"
	"github.com/coder/csplistener/geo"
	"github.com/coder/csplistener/listener"
	"github.com/coder/csplistener/metrics"
	"github.com/coder/csplistener/server"
)

const shutdownTimeout = 10 * time.Second

// NewCommand creates and returns the root serpent command
func NewCommand(version string) *serpent.Command {
	var (
		cfg         config.CliConfig
		showVersion bool
	)

	return &serpent.Command{
		Use:   "csplistener [flags]",
		Short: "Receive and audit Content-Security-Policy violation reports",
		Long: `csplistener accepts CSP violation reports posted by browsers, checks that
the page that raised them belongs to an allow-listed site and writes one JSON
audit line per report.

Allow rules take one or more keys:
  domain=host[,host...]     exact hostname match
  suffix=.zone[,.zone...]   hostname ends with the suffix

Examples:
  # Built-in allow-list, listening on :5000 (or $PORT)
  csplistener

  # Accept reports from one site only
  csplistener --allow "domain=www.example.com suffix=.example.org"

  # Expose prometheus metrics and ship audit records over OTLP
  csplistener --prometheus-enable --otlp-endpoint collector:4318`,
		Options: serpent.OptionSet{
			{
				Name:        "config",
				Flag:        "config",
				Env:         "CSP_LISTENER_CONFIG",
				Description: "Path to YAML config file (default: $XDG_CONFIG_HOME/csplistener/config.yaml).",
				Value:       serpent.StringOf(&cfg.ConfigPath),
			},
			{
				Name:        "allow",
				Flag:        "allow",
				Env:         "CSP_LISTENER_ALLOW",
				Description: "Allow rule (can be specified multiple times). Format: 'domain=host[,host] suffix=.zone[,.zone]'.",
				Value:       serpent.StringArrayOf(&cfg.AllowStrings),
			},
			{
				Name:        "listen-address",
				Flag:        "listen-address",
				Env:         "CSP_LISTENER_LISTEN_ADDRESS",
				Description: "Address to accept reports on (default: \":$PORT\", or \":5000\").",
				Value:       serpent.StringOf(&cfg.ListenAddress),
			},
			{
				Name:        "port",
				Env:         "PORT",
				Description: "Port to listen on when no listen address is given.",
				Value:       serpent.StringOf(&cfg.Port),
			},
			{
				Name:        "log-level",
				Flag:        "log-level",
				Env:         "CSP_LISTENER_LOG_LEVEL",
				Description: "Set log level (error, warn, info, debug). Default: warn.",
				Value:       serpent.StringOf(&cfg.LogLevel),
			},
			{
				Name:        "log-dir",
				Flag:        "log-dir",
				Env:         "CSP_LISTENER_LOG_DIR",
				Description: "Write operational logs to a rotated file in this directory instead of stderr.",
				Value:       serpent.StringOf(&cfg.LogDir),
			},
			{
				Name:        "audit-log-file",
				Flag:        "audit-log-file",
				Env:         "CSP_LISTENER_AUDIT_LOG_FILE",
				Description: "Write audit records to this rotated file instead of stdout.",
				Value:       serpent.StringOf(&cfg.AuditLogFile),
			},
			{
				Name:        "max-body-bytes",
				Flag:        "max-body-bytes",
				Env:         "CSP_LISTENER_MAX_BODY_BYTES",
				Description: "Largest report body accepted, in bytes. Default: 65536.",
				Value:       serpent.Int64Of(&cfg.MaxBodyBytes),
			},
			{
				Name:        "redirect-url",
				Flag:        "redirect-url",
				Env:         "CSP_LISTENER_REDIRECT_URL",
				Description: "Where GET / redirects to.",
				Value:       serpent.StringOf(&cfg.RedirectURL),
			},
			{
				Name:        "prometheus-enable",
				Flag:        "prometheus-enable",
				Env:         "CSP_LISTENER_PROMETHEUS_ENABLE",
				Description: "Serve prometheus metrics on the debug address.",
				Value:       serpent.BoolOf(&cfg.PrometheusEnable),
			},
			{
				Name:        "prometheus-address",
				Flag:        "prometheus-address",
				Env:         "CSP_LISTENER_PROMETHEUS_ADDRESS",
				Description: "Debug address for metrics and pprof. Default: " + config.DefaultDebugAddress + ".",
				Value:       serpent.StringOf(&cfg.PrometheusAddress),
			},
			{
				Name:        "pprof-enable",
				Flag:        "pprof-enable",
				Env:         "CSP_LISTENER_PPROF_ENABLE",
				Description: "Serve pprof under /debug/pprof on the debug address.",
				Value:       serpent.BoolOf(&cfg.PprofEnable),
			},
			{
				Name:        "otlp-endpoint",
				Flag:        "otlp-endpoint",
				Env:         "CSP_LISTENER_OTLP_ENDPOINT",
				Description: "Host:port of an OTLP/HTTP collector to export audit records to.",
				Value:       serpent.StringOf(&cfg.OTLPEndpoint),
			},
			{
				Name:        "otlp-insecure",
				Flag:        "otlp-insecure",
				Env:         "CSP_LISTENER_OTLP_INSECURE",
				Description: "Use plain HTTP for the OTLP collector.",
				Value:       serpent.BoolOf(&cfg.OTLPInsecure),
			},
			{
				Name:        "geoip-database",
				Flag:        "geoip-database",
				Env:         "CSP_LISTENER_GEOIP_DATABASE",
				Description: "MaxMind GeoIP2/GeoLite2 country database used to add src_country.",
				Value:       serpent.StringOf(&cfg.GeoIPDatabase),
			},
			{
				Name:        "version",
				Flag:        "version",
				Description: "Print the version and exit.",
				Value:       serpent.BoolOf(&showVersion),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			if showVersion {
				_, err := fmt.Fprintf(inv.Stdout, "csplistener %s\n", version)
				return err
			}

			file, _, err := loadConfigFile(cfg.ConfigPath)
			if err != nil {
				return err
			}
			merged, allow, err := mergeConfig(file, cfg)
			if err != nil {
				return err
			}
			appConfig, err := config.NewAppConfigFromCliConfig(merged, allow)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(inv.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, appConfig, inv.Stdout, inv.Stderr)
		},
	}
}

// Run serves reports until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, cfg config.AppConfig, stdout, stderr io.Writer) error {
	logger, logCloser, err := setupLogging(cfg.LogLevel, cfg.LogDir, stderr)
	if err != nil {
		return xerrors.Errorf("could not set up logging: %w", err)
	}
	defer logCloser.Close()

	auditLogger, auditCloser, err := setupAuditLog(cfg.AuditLogFile, stdout)
	if err != nil {
		return xerrors.Errorf("could not set up audit log: %w", err)
	}
	defer auditCloser.Close()

	rules, err := allowlist.ParseAllowSpecs(cfg.AllowRules)
	if err != nil {
		logger.Error("Failed to parse allow rules", "error", err)
		return xerrors.Errorf("failed to parse allow rules: %w", err)
	}
	allowList := allowlist.New(rules)
	if allowList.Empty() {
		logger.Warn("No allow rules specified; every report will be blocked")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(reg)
	if err != nil {
		return xerrors.Errorf("register metrics: %w", err)
	}

	auditors := []audit.Auditor{audit.NewLoggingAuditor(auditLogger), m}

	if cfg.OTLPEndpoint != "" {
		provider, err := newLoggerProvider(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to flush OTLP audit records", "error", err)
			}
		}()
		auditors = append(auditors, audit.NewOTelAuditor(provider))
		logger.Info("Exporting audit records over OTLP", "endpoint", cfg.OTLPEndpoint)
	}

	listenerConfig := listener.Config{
		AllowList:    allowList,
		Auditor:      audit.NewMultiAuditor(auditors...),
		Logger:       logger,
		Diagnostics:  auditLogger,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Errors:       m,
	}
	if cfg.GeoIPDatabase != "" {
		locator, err := geo.Open(cfg.GeoIPDatabase)
		if err != nil {
			return err
		}
		defer locator.Close()
		listenerConfig.Locator = locator
	}

	servers := []*server.Server{server.New(server.Config{
		Address:     cfg.ListenAddress,
		Listener:    listener.New(listenerConfig),
		Logger:      logger,
		RedirectURL: cfg.RedirectURL,
	})}
	if cfg.DebugEnabled() {
		var gatherer prometheus.Gatherer
		if cfg.PrometheusEnable {
			gatherer = reg
		}
		servers = append(servers, server.NewDebug(server.DebugConfig{
			Address:  cfg.PrometheusAddress,
			Gatherer: gatherer,
			Pprof:    cfg.PprofEnable,
			Logger:   logger,
		}))
	}

	for _, srv := range servers {
		if err := srv.Start(); err != nil {
			_ = stopAll(logger, servers)
			return err
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	return stopAll(logger, servers)
}

// stopAll stops every server concurrently. Servers that never started are
// skipped.
func stopAll(logger *slog.Logger, servers []*server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for _, srv := range servers {
		g.Go(func() error {
			return srv.Stop(ctx)
		})
	}
	err := g.Wait()
	logger.Info("Stopped")
	return err
}
