// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/answer-server/internal/config"
)

// bodyProbe records what the next stage observed.
type bodyProbe struct {
	called  bool
	value   any
	present bool
	raw     string
}

func (p *bodyProbe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.called = true
	p.value, p.present = BodyFromContext(r.Context())
	data, _ := io.ReadAll(r.Body)
	p.raw = string(data)
	w.WriteHeader(http.StatusOK)
}

// recordFail captures the reply a stage reported through ErrorWriter.
type recordFail struct {
	status  int
	errType string
}

func (f *recordFail) write(w http.ResponseWriter, r *http.Request, status int, errType, message string) {
	f.status = status
	f.errType = errType
	writeError(w, status, errType, message)
}

func runBody(t *testing.T, cfg config.BodyConfig, req *http.Request) (*bodyProbe, *recordFail, *httptest.ResponseRecorder) {
	t.Helper()
	probe := &bodyProbe{}
	fail := &recordFail{}
	w := httptest.NewRecorder()
	JSONBodyMiddleware(cfg, fail.write)(probe).ServeHTTP(w, req)
	return probe, fail, w
}

func jsonRequest(body io.Reader) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/answer", body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestJSONBody_Decodes(t *testing.T) {
	probe, fail, _ := runBody(t, config.Default().Body, jsonRequest(strings.NewReader(`{"q":"life","n":42}`)))

	require.True(t, probe.called)
	assert.Zero(t, fail.status)
	require.True(t, probe.present)
	assert.Equal(t, map[string]any{"q": "life", "n": float64(42)}, probe.value)
	assert.Equal(t, `{"q":"life","n":42}`, probe.raw, "body is restored for later stages")
}

func TestJSONBody_NullIsPresent(t *testing.T) {
	cfg := config.Default().Body
	cfg.Strict = false

	probe, _, _ := runBody(t, cfg, jsonRequest(strings.NewReader("null")))

	require.True(t, probe.called)
	assert.True(t, probe.present)
	assert.Nil(t, probe.value)
}

func TestJSONBody_SkipsOtherContent(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{name: "none", contentType: ""},
		{name: "text", contentType: "text/plain"},
		{name: "json suffix", contentType: "application/vnd.api+json"},
		{name: "unparsable", contentType: "application/json; =="},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/answer", strings.NewReader("{ not json"))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}

			probe, fail, _ := runBody(t, config.Default().Body, req)

			assert.True(t, probe.called)
			assert.False(t, probe.present)
			assert.Zero(t, fail.status)
			assert.Equal(t, "{ not json", probe.raw)
		})
	}
}

func TestJSONBody_EmptyBodyIsAbsent(t *testing.T) {
	probe, fail, _ := runBody(t, config.Default().Body, jsonRequest(nil))

	assert.True(t, probe.called)
	assert.False(t, probe.present)
	assert.Zero(t, fail.status)
}

func TestJSONBody_ChunkedEmptyBodyIsAbsent(t *testing.T) {
	// An unknown-length reader exercises the read path rather than ContentLength.
	req := jsonRequest(io.MultiReader(strings.NewReader("")))

	probe, fail, _ := runBody(t, config.Default().Body, req)

	assert.True(t, probe.called)
	assert.False(t, probe.present)
	assert.Zero(t, fail.status)
}

func TestJSONBody_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		encoding    string
		body        string
		limit       int64
		wantStatus  int
		wantType    string
	}{
		{name: "syntax", body: `{"a":`, wantStatus: http.StatusBadRequest, wantType: ErrTypeParseFailed},
		{name: "strict scalar", body: `true`, wantStatus: http.StatusBadRequest, wantType: ErrTypeParseFailed},
		{name: "too large by length", body: `{"a":"0123456789"}`, limit: 8, wantStatus: http.StatusRequestEntityTooLarge, wantType: ErrTypeTooLarge},
		{name: "charset", contentType: "application/json; charset=iso-8859-1", body: `{}`, wantStatus: http.StatusUnsupportedMediaType, wantType: ErrTypeCharsetUnsupported},
		{name: "encoding", encoding: "compress", body: `{}`, wantStatus: http.StatusUnsupportedMediaType, wantType: ErrTypeEncodingUnsupported},
		{name: "bad gzip", encoding: "gzip", body: `{}`, wantStatus: http.StatusBadRequest, wantType: ErrTypeParseFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default().Body
			if tc.limit > 0 {
				cfg.Limit = tc.limit
			}
			req := jsonRequest(strings.NewReader(tc.body))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			if tc.encoding != "" {
				req.Header.Set("Content-Encoding", tc.encoding)
			}

			probe, fail, w := runBody(t, cfg, req)

			assert.False(t, probe.called, "rejected bodies never reach later stages")
			assert.Equal(t, tc.wantStatus, fail.status)
			assert.Equal(t, tc.wantType, fail.errType)
			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestJSONBody_TooLargeWithoutContentLength(t *testing.T) {
	cfg := config.Default().Body
	cfg.Limit = 8
	req := jsonRequest(io.MultiReader(strings.NewReader(`{"a":"0123456789"}`)))

	probe, fail, _ := runBody(t, cfg, req)

	assert.False(t, probe.called)
	assert.Equal(t, http.StatusRequestEntityTooLarge, fail.status)
}

func TestJSONBody_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"zipped":true}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := jsonRequest(&buf)
	req.Header.Set("Content-Encoding", "gzip")

	probe, fail, _ := runBody(t, config.Default().Body, req)

	require.True(t, probe.called)
	assert.Zero(t, fail.status)
	assert.Equal(t, map[string]any{"zipped": true}, probe.value)
	assert.Equal(t, `{"zipped":true}`, probe.raw)
}

func TestJSONBody_Deflate(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte(`[1,2,3]`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := jsonRequest(&buf)
	req.Header.Set("Content-Encoding", "deflate")

	probe, fail, _ := runBody(t, config.Default().Body, req)

	require.True(t, probe.called)
	assert.Zero(t, fail.status)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, probe.value)
}

func TestJSONBody_GzipBombCapped(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"a":"` + strings.Repeat("x", 4096) + `"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	cfg := config.Default().Body
	cfg.Limit = 1024
	req := jsonRequest(&buf)
	req.Header.Set("Content-Encoding", "gzip")

	probe, fail, _ := runBody(t, cfg, req)

	assert.False(t, probe.called)
	assert.Equal(t, http.StatusRequestEntityTooLarge, fail.status)
	assert.Equal(t, ErrTypeTooLarge, fail.errType)
}

func TestBodyError(t *testing.T) {
	inner := errors.New("unexpected EOF")
	err := &BodyError{Status: http.StatusBadRequest, Type: ErrTypeParseFailed, Message: "Invalid request format", Err: inner}

	assert.Equal(t, "Invalid request format: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "bare", (&BodyError{Message: "bare"}).Error())
}

func TestBodyFromContext_Missing(t *testing.T) {
	_, ok := BodyFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
