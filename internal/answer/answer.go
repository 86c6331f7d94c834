// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package answer provides the router mounted under /answer.
//
// It has a single route, POST /, which always replies
// {"message":"Hello World!"} with status 200. The request body is parsed
// upstream and ignored here.
package answer

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Greeting is the fixed message returned by the handler.
const Greeting = "Hello World!"

// Reply is the response body.
type Reply struct {
	Message string `json:"message"`
}

// replyBody is encoded once; the handler has nothing to compute per request.
var replyBody = mustMarshal(Reply{Message: Greeting})

// NewRouter returns a router exposing POST / only. Other methods and paths
// fall through to the parent router's 405 and 404 handlers.
func NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Post("/", Handle)
	return r
}

// Handle writes the fixed greeting.
func Handle(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(replyBody)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
