package utils

import (
	"encoding/json"
	"net/http"
)

// JSONWrite writes v as a JSON response body with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}

// JSONError writes a JSON error body with the given status code.
func JSONError(w http.ResponseWriter, status int, message string) {
	_ = JSONWrite(w, status, map[string]string{"error": message})
}
