package api

import (
	"net/http"

	"github.com/sungwon/guest-messenger/internal/logger"
)

// dlqReprocessRequest is the JSON body for POST /dlq/reprocess.
type dlqReprocessRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// dlqReprocessResponse is the JSON response for a DLQ reprocess operation.
type dlqReprocessResponse struct {
	Reprocessed int `json:"reprocessed"`
	Total       int `json:"total"`
}

// DLQReprocessHandler handles POST /dlq/reprocess.
// It moves dead-lettered messages back to the queue with their attempt
// counts reset. Unknown ids are skipped.
func DLQReprocessHandler(svc MessagingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dlqReprocessRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		n, err := svc.ReprocessDeadLetters(r.Context(), req.MessageIDs)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Int("requested", len(req.MessageIDs)).Int("reprocessed", n).Msg("dlq reprocess incomplete")
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, dlqReprocessResponse{Reprocessed: n, Total: len(req.MessageIDs)})
	}
}

// StatsHandler handles GET /stats.
func StatsHandler(svc MessagingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}
