// answer-server - A minimal JSON HTTP service.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/jeranaias/answer-server/internal/config"
	"github.com/jeranaias/answer-server/internal/server"
)

// Version information (set at build time)
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := pflag.String("config", config.DefaultConfigPath, "path to the TOML config file (ignored if missing)")
	envFile := pflag.String("env-file", "", "environment file loaded before reading PORT (default \".env\")")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("answer-server %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: *configPath,
		EnvFile:    *envFile,
	})
	if err != nil {
		// A broken env file is not fatal; the rest of the config still loaded.
		var envErr *config.EnvFileError
		if !errors.As(err, &envErr) {
			log.Fatalf("CONFIG_ERROR | %v", err)
		}
		log.Printf("CONFIG_WARNING | %v", err)
	}

	if err := server.NewServer(cfg).Start(); err != nil {
		log.Fatalf("SERVER_ERROR | %v", err)
	}
}
