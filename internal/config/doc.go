// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the answer server.
//
// The configuration is a plain value built once at startup and passed to
// the server. Nothing in the server reads the environment directly.
//
// # Key Types
//
//   - Config: listen address, timeouts, body parsing, CORS and logging settings
//   - LoadOptions: which config and env files to read
//   - EnvFileError: a best-effort env file that failed to load
//
// # Configuration Precedence
//
// Later sources win:
//   - Built-in defaults (port 8080)
//   - answer.toml
//   - .env (never overrides variables already in the environment)
//   - PORT and HOST environment variables
//
// # Usage
//
//	cfg, err := config.Load(config.LoadOptions{ConfigPath: config.DefaultConfigPath})
//	var envErr *config.EnvFileError
//	if errors.As(err, &envErr) {
//	    log.Printf("CONFIG_WARNING | %v", envErr)
//	} else if err != nil {
//	    log.Fatal(err)
//	}
package config
