// Package httpx holds the JSON response envelope and error taxonomy shared by
// handlers and middleware.
package httpx

import (
	"encoding/json"
	"net/http"
)

// GenericServerError is the only message clients see for internal failures.
const GenericServerError = "server error"

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WriteJSON writes value with the given status.
func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// OK writes a success envelope around data.
func OK(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Envelope{Success: true, Data: data})
}

// Fail writes a failure envelope.
func Fail(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Envelope{Success: false, Error: message})
}

// Respond writes err as a failure envelope. Dependency errors never expose
// their cause.
func Respond(w http.ResponseWriter, err error) {
	e := As(err)
	msg := e.Message
	if msg == "" {
		msg = GenericServerError
	}
	Fail(w, e.Kind.Status(), msg)
}
