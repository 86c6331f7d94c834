// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultPort is the port used when PORT is absent or unparsable.
	DefaultPort = 8080

	// DefaultConfigPath is the TOML file looked up in the working directory.
	DefaultConfigPath = "answer.toml"

	// DefaultEnvFile is the env file looked up in the working directory.
	DefaultEnvFile = ".env"

	// DefaultBodyLimit is the maximum accepted JSON body size (100kb).
	DefaultBodyLimit = 100 * 1024

	// MaxPort is the highest valid TCP port.
	MaxPort = 65535
)

// defaultCORSMethods mirrors the methods advertised on preflight responses.
var defaultCORSMethods = []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete server configuration.
type Config struct {
	// Host is the interface to bind; empty binds all interfaces.
	Host string `toml:"host"`
	// Port is the TCP port to bind. 0 picks an ephemeral port.
	Port int `toml:"port"`
	// EnvFile is the env file loaded before PORT is read.
	EnvFile string `toml:"env_file"`

	Server  ServerConfig  `toml:"server"`
	Body    BodyConfig    `toml:"body"`
	CORS    CORSConfig    `toml:"cors"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains transport-level timeouts for the listener.
type ServerConfig struct {
	ReadHeaderTimeoutSecs int `toml:"read_header_timeout_secs"`
	ReadTimeoutSecs       int `toml:"read_timeout_secs"`
	WriteTimeoutSecs      int `toml:"write_timeout_secs"`
	IdleTimeoutSecs       int `toml:"idle_timeout_secs"`
}

// BodyConfig controls the JSON body-parsing stage.
type BodyConfig struct {
	// Limit is the maximum decoded body size in bytes.
	Limit int64 `toml:"limit"`
	// Strict only accepts top-level objects and arrays.
	Strict bool `toml:"strict"`
}

// CORSConfig contains the cross-origin policy applied to every response.
type CORSConfig struct {
	// AllowedOrigins lists accepted origins. "*" allows any origin.
	AllowedOrigins []string `toml:"allowed_origins"`
	// AllowedMethods is advertised on preflight responses.
	AllowedMethods []string `toml:"allowed_methods"`
	// MaxAge is the preflight cache lifetime in seconds; 0 omits the header.
	MaxAge int `toml:"max_age"`
}

// LoggingConfig contains logging switches.
type LoggingConfig struct {
	// Requests enables one log line per request.
	Requests bool `toml:"requests"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Host:    "",
		Port:    DefaultPort,
		EnvFile: DefaultEnvFile,

		Server: ServerConfig{
			ReadHeaderTimeoutSecs: 10,
			ReadTimeoutSecs:       30,
			WriteTimeoutSecs:      30,
			IdleTimeoutSecs:       120,
		},

		Body: BodyConfig{
			Limit:  DefaultBodyLimit,
			Strict: true,
		},

		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: append([]string(nil), defaultCORSMethods...),
			MaxAge:         0,
		},

		Logging: LoggingConfig{
			Requests: false,
		},
	}
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Duration converts a seconds setting to a time.Duration.
func Duration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadOptions selects the files Load reads.
type LoadOptions struct {
	// ConfigPath is the TOML file. A missing file is ignored.
	ConfigPath string
	// EnvFile overrides the env_file setting when non-empty.
	EnvFile string
}

// EnvFileError reports an env file that exists but could not be loaded.
// Load still returns a usable Config alongside it.
type EnvFileError struct {
	Path string
	Err  error
}

func (e *EnvFileError) Error() string {
	return fmt.Sprintf("env file %s: %v", e.Path, e.Err)
}

func (e *EnvFileError) Unwrap() error {
	return e.Err
}

// Load builds the configuration from defaults, the optional TOML file, the
// optional env file and the environment.
//
// A broken env file is best-effort: the returned Config is valid and the
// error is an *EnvFileError. Any other error is fatal and the Config is nil.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigPath != "" {
		if _, statErr := os.Stat(opts.ConfigPath); statErr == nil {
			if err := LoadTOML(cfg, opts.ConfigPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
		}
	}

	if opts.EnvFile != "" {
		cfg.EnvFile = opts.EnvFile
	}

	// The env file may define PORT, so it must be loaded before the overrides.
	var envErr error
	if err := LoadEnvFile(cfg.EnvFile); err != nil {
		envErr = &EnvFileError{Path: cfg.EnvFile, Err: err}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, envErr
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set are left untouched. A missing file, or an
// empty path, is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PORT: TCP port; ignored when unparsable or out of range
//   - HOST: bind interface
func (c *Config) ApplyEnvOverrides() {
	if port, ok := parsePort(os.Getenv("PORT")); ok {
		c.Port = port
	}

	if host, ok := os.LookupEnv("HOST"); ok {
		c.Host = strings.TrimSpace(host)
	}
}

// parsePort parses a PORT value. Returns false for empty, non-numeric or
// out-of-range input.
func parsePort(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 || port > MaxPort {
		return 0, false
	}
	return port, true
}

// SetDefaults fills zero-value fields that have no meaningful zero.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Body.Limit == 0 {
		c.Body.Limit = defaults.Body.Limit
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = defaults.CORS.AllowedOrigins
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = defaults.CORS.AllowedMethods
	}
	for i, m := range c.CORS.AllowedMethods {
		c.CORS.AllowedMethods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Port < 0 || c.Port > MaxPort {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("port %d out of range 0-%d", c.Port, MaxPort),
		})
	}

	timeouts := []struct {
		field string
		secs  int
	}{
		{"server.read_header_timeout_secs", c.Server.ReadHeaderTimeoutSecs},
		{"server.read_timeout_secs", c.Server.ReadTimeoutSecs},
		{"server.write_timeout_secs", c.Server.WriteTimeoutSecs},
		{"server.idle_timeout_secs", c.Server.IdleTimeoutSecs},
	}
	for _, t := range timeouts {
		if t.secs < 0 {
			errs = append(errs, ValidationError{
				Field:   t.field,
				Message: fmt.Sprintf("must not be negative, got %d", t.secs),
			})
		}
	}

	if c.Body.Limit < 0 {
		errs = append(errs, ValidationError{
			Field:   "body.limit",
			Message: fmt.Sprintf("must be positive, got %d", c.Body.Limit),
		})
	}

	for _, origin := range c.CORS.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			errs = append(errs, ValidationError{
				Field:   "cors.allowed_origins",
				Message: "empty origin",
			})
			break
		}
	}

	for _, method := range c.CORS.AllowedMethods {
		if !isToken(method) {
			errs = append(errs, ValidationError{
				Field:   "cors.allowed_methods",
				Message: fmt.Sprintf("invalid method '%s'", method),
			})
		}
	}

	if c.CORS.MaxAge < 0 {
		errs = append(errs, ValidationError{
			Field:   "cors.max_age",
			Message: fmt.Sprintf("must not be negative, got %d", c.CORS.MaxAge),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// isToken reports whether s is a non-empty run of uppercase letters.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
