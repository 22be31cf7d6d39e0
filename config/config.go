package config

import (
	"net"
	"strings"

	"golang.org/x/xerrors"
)

const (
	DefaultPort          = "5000"
	DefaultLogLevel      = "warn"
	DefaultMaxBodyBytes  = 64 << 10
	DefaultDebugAddress  = "127.0.0.1:2112"
	defaultListenAddress = ":" + DefaultPort
)

// CliConfig is what the command line and environment provide, before any
// defaults are applied. Zero values mean "not set" so a config file can fill
// them in.
type CliConfig struct {
	ConfigPath        string
	AllowStrings      []string
	ListenAddress     string
	Port              string
	LogLevel          string
	LogDir            string
	AuditLogFile      string
	MaxBodyBytes      int64
	RedirectURL       string
	PrometheusEnable  bool
	PrometheusAddress string
	PprofEnable       bool
	OTLPEndpoint      string
	OTLPInsecure      bool
	GeoIPDatabase     string
}

// AppConfig is the validated configuration the listener runs with.
type AppConfig struct {
	AllowRules        []string
	ListenAddress     string
	LogLevel          string
	LogDir            string
	AuditLogFile      string
	MaxBodyBytes      int64
	RedirectURL       string
	PrometheusEnable  bool
	PrometheusAddress string
	PprofEnable       bool
	OTLPEndpoint      string
	OTLPInsecure      bool
	GeoIPDatabase     string
}

// DebugEnabled reports whether the metrics/pprof server should run.
func (c AppConfig) DebugEnabled() bool {
	return c.PrometheusEnable || c.PprofEnable
}

// NewAppConfigFromCliConfig applies defaults to a merged CliConfig.
func NewAppConfigFromCliConfig(cfg CliConfig, allowRules []string) (AppConfig, error) {
	listenAddress := cfg.ListenAddress
	if listenAddress == "" && cfg.Port != "" {
		listenAddress = ":" + cfg.Port
	}
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}
	if _, _, err := net.SplitHostPort(listenAddress); err != nil {
		return AppConfig{}, xerrors.Errorf("invalid listen address %q: %w", listenAddress, err)
	}

	logLevel := strings.ToLower(cfg.LogLevel)
	switch logLevel {
	case "":
		logLevel = DefaultLogLevel
	case "error", "warn", "info", "debug":
	default:
		return AppConfig{}, xerrors.Errorf("invalid log level %q: must be one of error, warn, info, debug", cfg.LogLevel)
	}

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes < 0 {
		return AppConfig{}, xerrors.Errorf("max body bytes must not be negative, got %d", maxBodyBytes)
	}
	if maxBodyBytes == 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	prometheusAddress := cfg.PrometheusAddress
	if prometheusAddress == "" {
		prometheusAddress = DefaultDebugAddress
	}

	return AppConfig{
		AllowRules:        allowRules,
		ListenAddress:     listenAddress,
		LogLevel:          logLevel,
		LogDir:            cfg.LogDir,
		AuditLogFile:      cfg.AuditLogFile,
		MaxBodyBytes:      maxBodyBytes,
		RedirectURL:       cfg.RedirectURL,
		PrometheusEnable:  cfg.PrometheusEnable,
		PrometheusAddress: prometheusAddress,
		PprofEnable:       cfg.PprofEnable,
		OTLPEndpoint:      cfg.OTLPEndpoint,
		OTLPInsecure:      cfg.OTLPInsecure,
		GeoIPDatabase:     cfg.GeoIPDatabase,
	}, nil
}
