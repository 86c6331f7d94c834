// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP listener, middleware pipeline and route
// dispatch for the answer service.
//
// # Endpoints
//
//   - POST /answer - returns {"message":"Hello World!"}
//   - anything else - JSON 404, or 405 for a known path with the wrong method
//
// # Pipeline
//
// Stages run in a fixed order (see Server.Pipeline):
//
//  1. recovery   - panics become 500 replies
//  2. request-id - X-Request-Id on every response
//  3. logging    - one line per request, only when enabled in config
//  4. json-body  - decodes application/json bodies, rejects malformed ones
//  5. cors       - Access-Control-Allow-Origin on every response, preflights
//
// Errors raised before the cors stage apply the CORS policy themselves, so
// every response carries Access-Control-Allow-Origin.
//
// # Key Types
//
//   - Server: listener with pipeline and chi routing table
//   - CORSPolicy: cross-origin policy built from config
//   - BodyError: rejected JSON body with status and error type
//
// # Usage
//
//	cfg, _ := config.Load(config.LoadOptions{})
//	srv := server.NewServer(cfg)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
