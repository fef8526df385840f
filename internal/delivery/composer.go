package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/sungwon/guest-messenger/internal/booking"
	"github.com/sungwon/guest-messenger/internal/queue"
	"github.com/sungwon/guest-messenger/internal/templates"
)

// Composer fills message content from the template for its type and the
// booking's variables.
type Composer struct {
	templates templates.Store
	bookings  booking.Lookup
}

// NewComposer creates a Composer.
func NewComposer(store templates.Store, bookings booking.Lookup) *Composer {
	return &Composer{templates: store, bookings: bookings}
}

// Compose sets msg.Subject and msg.Body. It reports whether the content
// came from a template. Custom messages, and types without an active
// template, keep the content they were created with and must carry some.
//
// Problems the caller cannot fix by retrying are returned as
// ValidationError.
func (c *Composer) Compose(ctx context.Context, msg *queue.Message) (bool, error) {
	typ := templates.MessageType(msg.MessageType)
	if !typ.Valid() {
		return false, invalidf(nil, "unknown message type %q", msg.MessageType)
	}

	if typ == templates.TypeCustom {
		return false, requireContent(msg)
	}

	tmpl, err := c.templates.ForType(ctx, typ)
	if err != nil {
		if errors.Is(err, templates.ErrNotFound) {
			if contentErr := requireContent(msg); contentErr != nil {
				return false, invalidf(err, "no active template for %s and no content supplied", typ)
			}
			return false, nil
		}
		return false, err
	}

	b, err := c.bookings.GetBookingDetails(ctx, msg.BookingRef)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return false, invalidf(err, "booking %s not found", msg.BookingRef)
		}
		return false, err
	}

	rendered, err := templates.Render(*tmpl, templates.Merge(b.Variables(), msg.Variables))
	if err != nil {
		return false, invalidf(err, "render template %s", tmpl.Name)
	}

	msg.Subject = rendered.Subject
	msg.Body = rendered.Body
	return true, nil
}

func requireContent(msg *queue.Message) error {
	if strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
		return invalid("subject and body are required for messages without a template")
	}
	return nil
}
