package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// writeJSON encodes v as the JSON response body, logging (never
// panicking) on encode failure.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] failed to encode JSON response: %v", err)
	}
}
