package config

import (
	"flag"
	"io"
)

// CLIFlags holds command-line overrides. Nil pointers mean the flag was not
// set; CLI values take precedence over both YAML and environment variables.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments into CLIFlags. Only flags that
// were explicitly provided are non-nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("buildhive", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP server port")
	fs.StringVar(port, "p", "", "HTTP server port (shorthand)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var flags CLIFlags
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	if *port != "" {
		flags.Port = port
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *dsn != "" {
		flags.DSN = dsn
	}
	if *natsURL != "" {
		flags.NatsURL = natsURL
	}
	return flags, nil
}

// LoadWithCLI loads configuration with the full hierarchy:
// defaults < YAML < ENV < CLI flags. It returns the resolved YAML path.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		return nil, yamlPath, err
	}

	applyCLI(cfg, flags)

	if err := validate(cfg); err != nil {
		return nil, yamlPath, err
	}
	return cfg, yamlPath, nil
}

// applyCLI overlays set CLI flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}
