package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sungwon/guest-messenger/internal/booking"
	"github.com/sungwon/guest-messenger/internal/delivery"
	"github.com/sungwon/guest-messenger/internal/logger"
	"github.com/sungwon/guest-messenger/internal/templates"
)

// respondJSON writes data as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps a service error to a status code. Validation
// failures are the caller's fault and echo their reason; anything else is
// logged and hidden.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *delivery.ValidationError
	switch {
	case errors.As(err, &ve) && errors.Is(err, booking.ErrNotFound):
		respondError(w, http.StatusNotFound, ve.Error())
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, templates.ErrNotFound):
		respondError(w, http.StatusNotFound, "template not found")
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
