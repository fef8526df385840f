// Package delivery implements the inbound operations: sending single and
// bulk messages, managing templates, and reporting history and stats.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/booking"
	"github.com/sungwon/guest-messenger/internal/deliverylog"
	"github.com/sungwon/guest-messenger/internal/queue"
	"github.com/sungwon/guest-messenger/internal/templates"
)

// Send statuses returned to callers.
const (
	StatusQueued    = "queued"
	StatusScheduled = "scheduled"
)

// Scheduler stores messages for a future send time.
type Scheduler interface {
	Schedule(ctx context.Context, msg *queue.Message, sendAt time.Time) error
	Len(ctx context.Context) (int64, error)
}

// SendRequest asks for one message to a booking.
type SendRequest struct {
	BookingRef   string            `json:"booking_id"`
	MessageType  string            `json:"message_type"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body,omitempty"`
	Variables    map[string]string `json:"template_variables,omitempty"`
	Priority     queue.Priority    `json:"priority,omitempty"`
	ScheduleTime *time.Time        `json:"schedule_time,omitempty"`
}

// SendResult reports where the message went.
type SendResult struct {
	Status        string     `json:"status"`
	MessageID     string     `json:"message_id"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// BulkRequest asks for one templated message per confirmed booking of the
// given properties.
type BulkRequest struct {
	MessageType  string            `json:"message_type"`
	PropertyIDs  []string          `json:"property_ids"`
	CheckInFrom  time.Time         `json:"check_in_from,omitempty"`
	CheckInUntil time.Time         `json:"check_in_until,omitempty"`
	Variables    map[string]string `json:"template_variables,omitempty"`
	Priority     queue.Priority    `json:"priority,omitempty"`
}

// BulkFailure is a booking that could not be messaged.
type BulkFailure struct {
	BookingRef string `json:"booking_id"`
	Error      string `json:"error"`
}

// BulkResult summarizes a bulk send.
type BulkResult struct {
	Queued     int           `json:"queued"`
	MessageIDs []string      `json:"message_ids"`
	Failed     []BulkFailure `json:"failed,omitempty"`
}

// Stats summarizes queue and log state.
type Stats struct {
	QueueSize          int64 `json:"queue_size"`
	InFlight           int64 `json:"in_flight"`
	ScheduledMessages  int64 `json:"scheduled_messages"`
	FailedMessages     int64 `json:"failed_messages"`
	TemplatesAvailable int   `json:"templates_available"`
	Last24hSent        int64 `json:"last_24h_sent"`
}

// Service implements the inbound operations.
type Service struct {
	composer  *Composer
	templates templates.Store
	bookings  booking.Lookup
	queue     queue.Store
	scheduler Scheduler
	log       deliverylog.Log
	clock     clockwork.Clock
	logger    zerolog.Logger
}

// NewService creates a Service.
func NewService(
	store templates.Store,
	bookings booking.Lookup,
	q queue.Store,
	sched Scheduler,
	dlog deliverylog.Log,
	clock clockwork.Clock,
	logger zerolog.Logger,
) *Service {
	return &Service{
		composer:  NewComposer(store, bookings),
		templates: store,
		bookings:  bookings,
		queue:     q,
		scheduler: sched,
		log:       dlog,
		clock:     clock,
		logger:    logger.With().Str("component", "delivery").Logger(),
	}
}

// Composer returns the composer used by the service.
func (s *Service) Composer() *Composer {
	return s.composer
}

// SendMessage validates and renders the request, then queues it or, when
// the schedule time is in the future, hands it to the scheduler. Scheduled
// template messages are rendered again at delivery time so they pick up
// the booking as it is then.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.BookingRef) == "" {
		return nil, invalid("booking_id is required")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, invalidf(nil, "unknown priority %q", req.Priority)
	}

	if _, err := s.bookings.GetBookingDetails(ctx, req.BookingRef); err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return nil, invalidf(err, "booking %s not found", req.BookingRef)
		}
		return nil, fmt.Errorf("look up booking: %w", err)
	}

	now := s.clock.Now()
	msg := queue.NewMessage(req.BookingRef, req.MessageType, req.Priority, now)
	msg.Subject = req.Subject
	msg.Body = req.Body
	msg.Variables = req.Variables

	templated, err := s.composer.Compose(ctx, msg)
	if err != nil {
		return nil, err
	}

	if req.ScheduleTime != nil && req.ScheduleTime.After(now) {
		if templated {
			msg.Subject, msg.Body = "", ""
		}
		if err := s.scheduler.Schedule(ctx, msg, *req.ScheduleTime); err != nil {
			return nil, fmt.Errorf("schedule message: %w", err)
		}
		s.logger.Info().
			Str("message_id", msg.ID).
			Str("booking_ref", msg.BookingRef).
			Time("send_at", *req.ScheduleTime).
			Msg("message scheduled")

		at := *req.ScheduleTime
		return &SendResult{Status: StatusScheduled, MessageID: msg.ID, ScheduledTime: &at}, nil
	}

	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}
	s.logger.Info().
		Str("message_id", msg.ID).
		Str("booking_ref", msg.BookingRef).
		Str("priority", string(msg.Priority)).
		Msg("message queued")

	return &SendResult{Status: StatusQueued, MessageID: msg.ID}, nil
}

// SendBulk queues one message per matching booking. Bookings that fail
// validation are reported individually; any other error aborts the run.
func (s *Service) SendBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	typ := templates.MessageType(req.MessageType)
	if !typ.Valid() || typ == templates.TypeCustom {
		return nil, invalidf(nil, "bulk messages need a template message type, got %q", req.MessageType)
	}
	if len(req.PropertyIDs) == 0 {
		return nil, invalid("property_ids is required")
	}

	bookings, err := s.bookings.ListForBulk(ctx, booking.BulkFilter{
		PropertyIDs:  req.PropertyIDs,
		CheckInFrom:  req.CheckInFrom,
		CheckInUntil: req.CheckInUntil,
	})
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	result := &BulkResult{MessageIDs: []string{}}
	for _, b := range bookings {
		res, err := s.SendMessage(ctx, SendRequest{
			BookingRef:  b.Ref,
			MessageType: req.MessageType,
			Variables:   req.Variables,
			Priority:    req.Priority,
		})
		if err != nil {
			if IsValidation(err) {
				result.Failed = append(result.Failed, BulkFailure{BookingRef: b.Ref, Error: err.Error()})
				continue
			}
			return result, err
		}
		result.Queued++
		result.MessageIDs = append(result.MessageIDs, res.MessageID)
	}

	s.logger.Info().
		Str("message_type", req.MessageType).
		Int("queued", result.Queued).
		Int("failed", len(result.Failed)).
		Msg("bulk messages queued")
	return result, nil
}

// GetTemplates returns active templates, optionally of one type.
func (s *Service) GetTemplates(ctx context.Context, typ string) ([]templates.Template, error) {
	if typ != "" && !templates.MessageType(typ).Valid() {
		return nil, invalidf(nil, "unknown message type %q", typ)
	}
	list, err := s.templates.List(ctx, templates.MessageType(typ))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return list, nil
}

// CreateTemplate validates t and stores it, replacing a template of the
// same name.
func (s *Service) CreateTemplate(ctx context.Context, t templates.Template) (*templates.Template, error) {
	if err := t.Validate(); err != nil {
		return nil, invalidf(err, "invalid template")
	}
	t.UpdatedAt = s.clock.Now()
	if err := s.templates.Upsert(ctx, t); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}

	s.logger.Info().Str("template", t.Name).Str("message_type", string(t.Type)).Msg("template saved")
	return &t, nil
}

// GetMessageHistory returns logged outcomes for a booking, newest first.
func (s *Service) GetMessageHistory(ctx context.Context, bookingRef string) ([]deliverylog.Entry, error) {
	if strings.TrimSpace(bookingRef) == "" {
		return nil, invalid("booking_id is required")
	}
	entries, err := s.log.History(ctx, bookingRef)
	if err != nil {
		return nil, fmt.Errorf("message history: %w", err)
	}
	if entries == nil {
		entries = []deliverylog.Entry{}
	}
	return entries, nil
}

// Stats reports queue, schedule and log counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	qs, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	scheduled, err := s.scheduler.Len(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.templates.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	sent, err := s.log.CountSince(ctx, deliverylog.StatusSent, s.clock.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count sent: %w", err)
	}

	return &Stats{
		QueueSize:          qs.Pending,
		InFlight:           qs.InFlight,
		ScheduledMessages:  scheduled,
		FailedMessages:     qs.Dead,
		TemplatesAvailable: len(list),
		Last24hSent:        sent,
	}, nil
}

// ReprocessDeadLetters moves the given dead letters back to the queue.
func (s *Service) ReprocessDeadLetters(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("message_ids is required")
	}
	n, err := s.queue.Reprocess(ctx, ids)
	if err != nil {
		return n, fmt.Errorf("reprocess dead letters: %w", err)
	}

	s.logger.Info().Int("requested", len(ids)).Int("reprocessed", n).Msg("dead letters reprocessed")
	return n, nil
}
