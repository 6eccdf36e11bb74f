package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
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
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Engine
	if cfg.Engine.ModelPath == "" {
		errs = append(errs, errors.New("engine.model_path is required"))
	}
	if cfg.Engine.WindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("engine.window_seconds %d must not be negative", cfg.Engine.WindowSeconds))
	}

	// VAD
	if cfg.VAD.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required"))
	}
	if cfg.VAD.Threshold != 0 && (cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1) {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range (0, 1)", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms %d must not be negative", cfg.VAD.MinSilenceMs))
	}

	// Session
	if cfg.Session.MaxBufferChunks < 0 {
		errs = append(errs, fmt.Errorf("session.max_buffer_chunks %d must not be negative", cfg.Session.MaxBufferChunks))
	}
	if cfg.Session.MinTurnChunks < 0 {
		errs = append(errs, fmt.Errorf("session.min_turn_chunks %d must not be negative", cfg.Session.MinTurnChunks))
	}
	if cfg.Session.MinTurnChunks > 0 && cfg.Session.MaxBufferChunks > 0 &&
		cfg.Session.MinTurnChunks > cfg.Session.MaxBufferChunks {
		errs = append(errs, fmt.Errorf("session.min_turn_chunks %d exceeds session.max_buffer_chunks %d; no source could ever take a turn",
			cfg.Session.MinTurnChunks, cfg.Session.MaxBufferChunks))
	}
	if cfg.Session.ReceiveTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("session.receive_timeout_ms %d must not be negative", cfg.Session.ReceiveTimeoutMs))
	}

	// Archive availability
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; transcripts will be kept in memory only")
	}

	return errors.Join(errs...)
}
