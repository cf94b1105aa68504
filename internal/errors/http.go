package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError renders err. Errors that are not AppErrors are reported as a
// generic internal error; their text never reaches the client.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	WriteJSON(w, requestID, appErr.HTTPStatus, ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
		},
	})
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// MaxJSONBodyBytes bounds JSON request bodies.
const MaxJSONBodyBytes = 64 << 10

// DecodeJSON decodes a request body of at most MaxJSONBodyBytes into dst.
// The returned AppError wraps the decoder error, so an empty body still
// matches io.EOF.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ValidationError("request body too large").WithCause(err)
		}
		return BadRequest("invalid request body").WithCause(err)
	}
	return nil
}

// Handler is an HTTP handler that reports failure by returning an error.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ErrorObserver sees every error a Handler returns before it is written.
type ErrorObserver func(r *http.Request, err error)

var observer ErrorObserver

// SetObserver installs the package-level error observer.
func SetObserver(o ErrorObserver) {
	observer = o
}

// HandleFunc adapts a Handler to http.HandlerFunc.
func HandleFunc(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		if observer != nil {
			observer(r, err)
		}
		WriteError(w, GetRequestID(r.Context()), err)
	}
}
