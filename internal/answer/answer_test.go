// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package answer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"question":"anything"}`))
	w := httptest.NewRecorder()

	Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"message":"Hello World!"}`, w.Body.String())
}

func TestNewRouter(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "post root", method: http.MethodPost, path: "/", wantStatus: http.StatusOK, wantBody: `{"message":"Hello World!"}`},
		{name: "get root", method: http.MethodGet, path: "/", wantStatus: http.StatusMethodNotAllowed},
		{name: "put root", method: http.MethodPut, path: "/", wantStatus: http.StatusMethodNotAllowed},
		{name: "post elsewhere", method: http.MethodPost, path: "/other", wantStatus: http.StatusNotFound},
	}

	router := NewRouter()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			require.Equal(t, tc.wantStatus, w.Code)
			if tc.wantBody != "" {
				assert.Equal(t, tc.wantBody, w.Body.String())
			} else {
				assert.NotContains(t, w.Body.String(), Greeting)
			}
		})
	}
}

func TestReplyBody(t *testing.T) {
	assert.Equal(t, `{"message":"Hello World!"}`, string(replyBody))
}
