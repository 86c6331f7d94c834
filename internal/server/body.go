// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/jeranaias/answer-server/internal/config"
)

// Error types reported by the body stage.
const (
	ErrTypeParseFailed         = "entity.parse.failed"
	ErrTypeTooLarge            = "entity.too.large"
	ErrTypeCharsetUnsupported  = "charset.unsupported"
	ErrTypeEncodingUnsupported = "encoding.unsupported"
	ErrTypeRequestAborted      = "request.aborted"
)

// BodyError describes why a declared JSON body was rejected.
type BodyError struct {
	Status  int
	Type    string
	Message string
	Err     error
}

func (e *BodyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BodyError) Unwrap() error {
	return e.Err
}

type bodyKey struct{}

// BodyFromContext returns the decoded JSON body, if the body stage parsed one.
func BodyFromContext(ctx context.Context) (any, bool) {
	v, ok := ctx.Value(bodyKey{}).(parsedBody)
	if !ok {
		return nil, false
	}
	return v.value, true
}

// parsedBody boxes the decoded value so a JSON null is still "present".
type parsedBody struct {
	value any
}

// JSONBodyMiddleware returns HTTP middleware that decodes bodies declared as
// application/json.
//
// Requests without a body, or with another content type, pass through
// untouched. A rejected body ends the pipeline: fail is called and later
// stages never run. On success the decoded value is available through
// BodyFromContext and r.Body is replaced with the decoded bytes.
func JSONBodyMiddleware(cfg config.BodyConfig, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r) || !isJSON(r) {
				next.ServeHTTP(w, r)
				return
			}

			raw, value, err := readJSONBody(w, r, cfg)
			if err != nil {
				var bodyErr *BodyError
				if !errors.As(err, &bodyErr) {
					bodyErr = &BodyError{Status: http.StatusBadRequest, Type: ErrTypeParseFailed, Message: "Invalid request body", Err: err}
				}
				fail(w, r, bodyErr.Status, bodyErr.Type, bodyErr.Message)
				return
			}

			if raw == nil {
				// Empty body: nothing to parse.
				next.ServeHTTP(w, r)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			r.ContentLength = int64(len(raw))
			r.Header.Del("Content-Encoding")
			r.Header.Set("Content-Length", strconv.Itoa(len(raw)))

			ctx := context.WithValue(r.Context(), bodyKey{}, parsedBody{value: value})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// hasBody reports whether the request carries a body at all.
func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

// isJSON reports whether the request declares an application/json body.
func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// readJSONBody reads, decodes and validates the body. A nil raw slice with a
// nil error means the body was empty.
func readJSONBody(w http.ResponseWriter, r *http.Request, cfg config.BodyConfig) ([]byte, any, error) {
	_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if charset := strings.ToLower(params["charset"]); charset != "" && charset != "utf-8" && charset != "utf8" {
		return nil, nil, &BodyError{
			Status:  http.StatusUnsupportedMediaType,
			Type:    ErrTypeCharsetUnsupported,
			Message: fmt.Sprintf("unsupported charset \"%s\"", strings.ToUpper(charset)),
		}
	}

	if r.ContentLength > cfg.Limit {
		return nil, nil, tooLarge(cfg.Limit)
	}

	// Cap the wire bytes first; the decoded stream is capped again below.
	wire := http.MaxBytesReader(w, r.Body, cfg.Limit)
	defer wire.Close()

	reader, err := decodeContent(r.Header.Get("Content-Encoding"), wire)
	if err != nil {
		return nil, nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(reader, cfg.Limit+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, tooLarge(cfg.Limit)
		}
		return nil, nil, &BodyError{Status: http.StatusBadRequest, Type: ErrTypeRequestAborted, Message: "request aborted", Err: err}
	}
	if int64(len(raw)) > cfg.Limit {
		return nil, nil, tooLarge(cfg.Limit)
	}

	if len(raw) == 0 {
		return nil, nil, nil
	}

	if cfg.Strict {
		if first := firstNonSpace(raw); first != '{' && first != '[' {
			return nil, nil, &BodyError{
				Status:  http.StatusBadRequest,
				Type:    ErrTypeParseFailed,
				Message: "Invalid request format: expected a JSON object or array",
			}
		}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, nil, &BodyError{Status: http.StatusBadRequest, Type: ErrTypeParseFailed, Message: "Invalid request format", Err: err}
	}

	return raw, value, nil
}

// decodeContent wraps body according to Content-Encoding.
func decodeContent(encoding string, body io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, &BodyError{Status: http.StatusBadRequest, Type: ErrTypeParseFailed, Message: "Invalid gzip body", Err: err}
		}
		return zr, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, &BodyError{Status: http.StatusBadRequest, Type: ErrTypeParseFailed, Message: "Invalid deflate body", Err: err}
		}
		return zr, nil
	default:
		return nil, &BodyError{
			Status:  http.StatusUnsupportedMediaType,
			Type:    ErrTypeEncodingUnsupported,
			Message: fmt.Sprintf("unsupported content encoding \"%s\"", encoding),
		}
	}
}

func tooLarge(limit int64) *BodyError {
	return &BodyError{
		Status:  http.StatusRequestEntityTooLarge,
		Type:    ErrTypeTooLarge,
		Message: fmt.Sprintf("Request body exceeds maximum size of %d bytes", limit),
	}
}

// firstNonSpace returns the first byte that is not JSON whitespace, or 0.
func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
