package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are expanded from the environment before decoding.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicHost == "" {
		errs = append(errs, errors.New("server.public_host is required; the telephony provider must be able to dial back"))
	} else if strings.Contains(cfg.Server.PublicHost, "://") {
		errs = append(errs, fmt.Errorf("server.public_host %q must be a bare hostname without a scheme", cfg.Server.PublicHost))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Backend
	if cfg.Backend.APIKey == "" {
		errs = append(errs, errors.New("backend.api_key is required"))
	}

	// Telephony credentials are only needed for outbound dialing.
	if cfg.Telephony.AccountSID == "" || cfg.Telephony.AuthToken == "" {
		slog.Warn("telephony credentials not configured; outbound calls will be rejected")
	} else if cfg.Telephony.FromNumber == "" {
		errs = append(errs, errors.New("telephony.from_number is required when credentials are configured"))
	}

	// Agent
	if cfg.Agent.Instructions != "" && !strings.Contains(cfg.Agent.Instructions, "{name}") {
		slog.Warn("agent.instructions has no {name} placeholder; the agent will not address callers by name")
	}

	// Summary
	switch cfg.Summary.Backend {
	case "", SummaryNone:
		if cfg.Summary.Backend == "" {
			slog.Warn("summary.backend not set; call summaries will be discarded")
		}
	case SummarySheets:
		if cfg.Summary.Sheets == nil {
			errs = append(errs, errors.New("summary.sheets is required when summary.backend is sheets"))
		} else {
			if cfg.Summary.Sheets.SheetID == "" {
				errs = append(errs, errors.New("summary.sheets.sheet_id is required"))
			}
			if cfg.Summary.Sheets.ServiceAccountEmail == "" {
				errs = append(errs, errors.New("summary.sheets.service_account_email is required"))
			}
			if cfg.Summary.Sheets.PrivateKey == "" {
				errs = append(errs, errors.New("summary.sheets.private_key is required"))
			}
		}
	case SummaryPostgres:
		if cfg.Summary.Postgres == nil || cfg.Summary.Postgres.DSN == "" {
			errs = append(errs, errors.New("summary.postgres.dsn is required when summary.backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("summary.backend %q is invalid; valid values: none, sheets, postgres", cfg.Summary.Backend))
	}

	// Bridge overrides must not go negative; zero keeps the default.
	b := cfg.Bridge
	for _, field := range []struct {
		name  string
		value int
	}{
		{"bridge.accum_bytes", b.AccumBytes},
		{"bridge.settle_delay_ms", b.SettleDelayMS},
		{"bridge.bootstrap_delay_ms", b.BootstrapDelayMS},
		{"bridge.frame_bytes", b.FrameBytes},
		{"bridge.frame_delay_ms", b.FrameDelayMS},
		{"bridge.keep_alive_sec", b.KeepAliveSec},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", field.name))
		}
	}
	if b.AccumBytes > 0 && b.FrameBytes > 0 && b.AccumBytes < b.FrameBytes {
		errs = append(errs, errors.New("bridge.accum_bytes must be at least one frame"))
	}

	return errors.Join(errs...)
}
