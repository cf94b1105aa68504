package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteError_AppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", ValidationError("name is required"), http.StatusBadRequest, CodeValidationError},
		{"duplicate email", EmailExists(), http.StatusConflict, CodeEmailExists},
		{"invalid credentials", InvalidCredentials(), http.StatusUnauthorized, CodeInvalidCredentials},
		{"unauthorized", Unauthorized("access denied"), http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", Forbidden("invalid token"), http.StatusForbidden, CodeForbidden},
		{"server configuration", ServerConfiguration(), http.StatusInternalServerError, CodeServerConfiguration},
		{"not found", NotFound("User"), http.StatusNotFound, CodeNotFound},
		{"upload", UploadError("Error uploading file"), http.StatusInternalServerError, CodeUploadError},
		{"wrapped", fmt.Errorf("handler: %w", Forbidden("nope")), http.StatusForbidden, CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, "req-1", tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
			if resp.Error.RequestID != "req-1" {
				t.Errorf("request_id = %q", resp.Error.RequestID)
			}
			if resp.Error.Message == "" {
				t.Error("message should not be empty")
			}
		})
	}
}

func TestWriteError_UnknownErrorDoesNotLeakCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "", fmt.Errorf("pq: password authentication failed for user postgres"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "postgres") {
		t.Errorf("body leaks cause: %s", w.Body.String())
	}
}

func TestHandleFunc(t *testing.T) {
	var observed error
	SetObserver(func(r *http.Request, err error) { observed = err })
	defer SetObserver(nil)

	h := RequestIDMiddleware(HandleFunc(func(w http.ResponseWriter, r *http.Request) error {
		return NotFound("User")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) != "abc" {
		t.Errorf("request id header = %q", w.Header().Get(RequestIDHeader))
	}
	if observed == nil {
		t.Error("observer was not called")
	}
}

func TestCategories(t *testing.T) {
	if !IsClientError(Forbidden("x")) {
		t.Error("forbidden should be a client error")
	}
	if !IsServerError(UploadError("x")) {
		t.Error("upload error should be a server-side error")
	}
	if !IsServerError(fmt.Errorf("boom")) {
		t.Error("unknown errors count as server errors")
	}
	if IsServerError(nil) {
		t.Error("nil is not an error")
	}
}

func TestRequestIDMiddleware_ReplacesUnsafeIDs(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"absent", "", false},
		{"uuid", "0b7c6a52-3f0e-4c1b-9d52-0c8f3b8e2f11", true},
		{"dotted", "trace.42_a", true},
		{"newline", "abc\nInjected: 1", false},
		{"spaces", "a b", false},
		{"too long", strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("request id missing from context")
			}
			if w.Header().Get(RequestIDHeader) != seen {
				t.Errorf("header %q != context %q", w.Header().Get(RequestIDHeader), seen)
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("id = %q, want %q", seen, tt.incoming)
			}
			if !tt.keep && seen == tt.incoming {
				t.Errorf("unsafe id %q was kept", tt.incoming)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	decode := func(body string) error {
		var dst struct {
			Name string `json:"name"`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		return DecodeJSON(httptest.NewRecorder(), req, &dst)
	}

	if err := decode(`{"name":"a"}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := decode(`{"name":"` + strings.Repeat("a", MaxJSONBodyBytes) + `"}`)
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != CodeValidationError {
		t.Errorf("oversized body: got %v", err)
	}

	err = decode("")
	if !errors.Is(err, io.EOF) {
		t.Errorf("empty body should match io.EOF, got %v", err)
	}
	if !errors.As(err, &appErr) || appErr.Code != CodeInvalidRequest {
		t.Errorf("empty body: got %v", err)
	}
}
