package cli

import (
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/coder/csplistener/allowlist"
	"github.com/coder/csplistener/config"
)

type fileConfig struct {
	Allow         []string `yaml:"allow"`
	ListenAddress string   `yaml:"listen_address"`
	LogLevel      string   `yaml:"log_level"`
	LogDir        string   `yaml:"log_dir"`
	AuditLogFile  string   `yaml:"audit_log_file"`
	MaxBodyBytes  int64    `yaml:"max_body_bytes"`
	RedirectURL   string   `yaml:"redirect_url"`
	GeoIPDatabase string   `yaml:"geoip_database"`
	Prometheus    struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"prometheus"`
	Pprof struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"pprof"`
	OTLP struct {
		Endpoint string `yaml:"endpoint"`
		Insecure bool   `yaml:"insecure"`
	} `yaml:"otlp"`
}

func loadConfigFile(configPath string) (fileConfig, string, error) {
	var cfg fileConfig
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return cfg, "", err
	}
	if path == "" {
		return cfg, "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", xerrors.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, "", xerrors.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return cfg, path, nil
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	// XDG default: $XDG_CONFIG_HOME/csplistener/config.yaml or ~/.config/csplistener/config.yaml
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", nil
		}
		base = filepath.Join(h, ".config")
	}
	path := filepath.Join(base, "csplistener", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return "", nil
}

// mergeConfig applies CLI over file config (CLI wins), with allow exclusivity enforced.
// Returns final config and the allow list to use.
func mergeConfig(file fileConfig, cliCfg config.CliConfig) (config.CliConfig, []string, error) {
	// Enforce allow exclusivity
	if len(file.Allow) > 0 && len(cliCfg.AllowStrings) > 0 {
		return config.CliConfig{}, nil, xerrors.New("allow rules specified in both config file and CLI; specify in only one source")
	}

	final := cliCfg

	// Fill from file where CLI left zero values
	fillString(&final.ListenAddress, file.ListenAddress)
	fillString(&final.LogLevel, file.LogLevel)
	fillString(&final.LogDir, file.LogDir)
	fillString(&final.AuditLogFile, file.AuditLogFile)
	fillString(&final.RedirectURL, file.RedirectURL)
	fillString(&final.GeoIPDatabase, file.GeoIPDatabase)
	if final.MaxBodyBytes == 0 && file.MaxBodyBytes != 0 {
		final.MaxBodyBytes = file.MaxBodyBytes
	}
	// prometheus
	if !final.PrometheusEnable && file.Prometheus.Enabled {
		final.PrometheusEnable = true
	}
	fillString(&final.PrometheusAddress, file.Prometheus.Address)
	// pprof
	if !final.PprofEnable && file.Pprof.Enabled {
		final.PprofEnable = true
	}
	// otlp
	fillString(&final.OTLPEndpoint, file.OTLP.Endpoint)
	if !final.OTLPInsecure && file.OTLP.Insecure {
		final.OTLPInsecure = true
	}

	// Choose allow from the only specified source, falling back to the
	// built-in list when neither has any.
	allow := cliCfg.AllowStrings
	if len(allow) == 0 && len(file.Allow) > 0 {
		allow = file.Allow
	}
	if len(allow) == 0 {
		allow = allowlist.DefaultAllowSpecs
	}

	return final, allow, nil
}

func fillString(dst *string, fromFile string) {
	if *dst == "" && fromFile != "" {
		*dst = fromFile
	}
}
