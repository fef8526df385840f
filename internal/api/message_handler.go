package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/guest-messenger/internal/delivery"
	"github.com/sungwon/guest-messenger/internal/deliverylog"
	"github.com/sungwon/guest-messenger/internal/queue"
	"github.com/sungwon/guest-messenger/internal/templates"
)

const dateLayout = "2006-01-02"

// MessagingService is the subset of delivery.Service the API exposes.
type MessagingService interface {
	SendMessage(ctx context.Context, req delivery.SendRequest) (*delivery.SendResult, error)
	SendBulk(ctx context.Context, req delivery.BulkRequest) (*delivery.BulkResult, error)
	GetTemplates(ctx context.Context, typ string) ([]templates.Template, error)
	CreateTemplate(ctx context.Context, t templates.Template) (*templates.Template, error)
	GetMessageHistory(ctx context.Context, bookingRef string) ([]deliverylog.Entry, error)
	Stats(ctx context.Context) (*delivery.Stats, error)
	ReprocessDeadLetters(ctx context.Context, ids []string) (int, error)
}

// SendMessageHandler handles POST /send-message.
// Returns 202 with {"status":"queued"|"scheduled","message_id":...}.
func SendMessageHandler(svc MessagingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req delivery.SendRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		annotate(r.Context(), "booking_id", req.BookingRef)
		annotate(r.Context(), "message_type", req.MessageType)

		res, err := svc.SendMessage(r.Context(), req)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		annotate(r.Context(), "message_id", res.MessageID)
		annotate(r.Context(), "send_status", res.Status)
		respondJSON(w, http.StatusAccepted, res)
	}
}

// bulkMessageRequest is the JSON body for POST /bulk-message. Dates are
// calendar days in YYYY-MM-DD form.
type bulkMessageRequest struct {
	MessageType string            `json:"message_type"`
	PropertyIDs []string          `json:"property_ids"`
	DateRange   *dateRange        `json:"date_range,omitempty"`
	Variables   map[string]string `json:"template_variables,omitempty"`
	Priority    queue.Priority    `json:"priority,omitempty"`
}

type dateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// BulkMessageHandler handles POST /bulk-message.
func BulkMessageHandler(svc MessagingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body bulkMessageRequest
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req := delivery.BulkRequest{
			MessageType: body.MessageType,
			PropertyIDs: body.PropertyIDs,
			Variables:   body.Variables,
			Priority:    body.Priority,
		}
		if body.DateRange != nil {
			var err error
			if req.CheckInFrom, err = parseDate(body.DateRange.Start); err != nil {
				respondError(w, http.StatusBadRequest, "date_range.start must be YYYY-MM-DD")
				return
			}
			if req.CheckInUntil, err = parseDate(body.DateRange.End); err != nil {
				respondError(w, http.StatusBadRequest, "date_range.end must be YYYY-MM-DD")
				return
			}
		}

		annotate(r.Context(), "message_type", req.MessageType)

		res, err := svc.SendBulk(r.Context(), req)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		annotate(r.Context(), "queued", strconv.Itoa(res.Queued))
		respondJSON(w, http.StatusAccepted, res)
	}
}

// MessageHistoryHandler handles GET /message-history/{booking_id}.
func MessageHistoryHandler(svc MessagingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "booking_id")
		annotate(r.Context(), "booking_id", ref)

		entries, err := svc.GetMessageHistory(r.Context(), ref)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"booking_id": ref,
			"messages":   entries,
		})
	}
}

// parseDate parses a YYYY-MM-DD day; the empty string yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
