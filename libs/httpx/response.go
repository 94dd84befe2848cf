package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
)

// Envelope is the body shape of every API response.
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Meta      *PageMeta  `json:"meta,omitempty"`
	Timestamp string     `json:"timestamp"`
}

type ErrorBody struct {
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"statusCode"`
	Timestamp  string            `json:"timestamp"`
	RequestID  string            `json:"requestId,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	WriteSuccessMessage(w, status, data, "")
}

func WriteSuccessMessage(w http.ResponseWriter, status int, data any, message string) {
	WriteJSON(w, status, Envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: now(),
	})
}

func WriteList(w http.ResponseWriter, data any, meta PageMeta) {
	WriteJSON(w, http.StatusOK, Envelope{
		Success:   true,
		Data:      data,
		Meta:      &meta,
		Timestamp: now(),
	})
}

func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	ts := now()
	body := &ErrorBody{
		Message:    apperr.Message(err),
		Code:       apperr.Code(err),
		StatusCode: status,
		Timestamp:  ts,
		Details:    apperr.Details(err),
	}
	if r != nil {
		body.RequestID = RequestIDFromContext(r.Context())
	}
	WriteJSON(w, status, Envelope{Success: false, Error: body, Timestamp: ts})
}

// DecodeJSON decodes the request body into dst. An empty body decodes to the zero value.
func DecodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation("invalid json body")
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
