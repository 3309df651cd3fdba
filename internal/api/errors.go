package api

import (
	"encoding/json"
	"net/http"
)

// respondJSON writes a JSON body with the given status.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes the best-effort {"error": ...} body. Callers of
// the API should rely on status codes, not on the body shape.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
