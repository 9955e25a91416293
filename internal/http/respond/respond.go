// Package respond writes JSON responses in the API's envelope.
package respond

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error envelope. Detail mirrors Message for clients that read a flat field.
type ErrorBody struct {
	Error  ErrorDetail `json:"error"`
	Detail string      `json:"detail"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes the error envelope.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{
		Error:  ErrorDetail{Code: code, Message: message},
		Detail: message,
	})
}
