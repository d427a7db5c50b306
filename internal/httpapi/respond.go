package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrorResponse is the body written for every non-2xx response, mirroring
// §7's "errorType + description" shape used across the domain error kinds.
type ErrorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("httpapi: encode response")
	}
}

func respondError(w http.ResponseWriter, status int, errorType, description string) {
	respondJSON(w, status, ErrorResponse{ErrorType: errorType, Description: description})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
