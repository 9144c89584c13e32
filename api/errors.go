package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/goliatone/go-shims/core"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Category string         `json:"category"`
	Code     int            `json:"code"`
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func apiValidationError(message string, field string) error {
	return core.NewValidationError(message, field)
}

func apiAuthenticationError(message string) error {
	return core.NewAuthenticationError(message)
}

func writeError(w http.ResponseWriter, err error) int {
	mapped := core.MapError(err)
	status := mapped.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	if ms, ok := mapped.Metadata["retry_after_ms"].(int64); ok && status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.FormatInt((ms+999)/1000, 10))
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Category: string(mapped.Category),
		Code:     status,
		TextCode: mapped.TextCode,
		Message:  mapped.Message,
		Metadata: mapped.Metadata,
	}})
	return status
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
