package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/DietPipe/internal/models"
)

// fallbackErrorJSON is written when marshaling a response itself fails. It
// mirrors the models.Error envelope.
const fallbackErrorJSON = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse marshals before writing headers so an encoding failure
// can still produce a well-formed error response with the right status.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: marshal failed", "error", err)
		statusCode = http.StatusInternalServerError
		body = []byte(fallbackErrorJSON)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: write failed", "error", err)
	}
}

// writeErrorResponse writes a standard error envelope.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, models.Error(message))
}
