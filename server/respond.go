package server

import (
	"encoding/json"
	"net/http"
)

// fail writes an empty response carrying only a status code. Failure detail
// stays in the logs.
func fail(w http.ResponseWriter, status int) {
	w.Header().Set("Server", ServerName)
	w.WriteHeader(status)
}

// writeToken emits a freshly issued bearer token as the plain-text body.
func writeToken(w http.ResponseWriter, token string) {
	w.Header().Set("Server", ServerName)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(token))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Server", ServerName)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
