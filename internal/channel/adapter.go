package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Delivery is a rendered message addressed to a channel recipient.
type Delivery struct {
	MessageID string
	TargetID  string
	Subject   string
	Body      string
}

// Result describes an accepted send.
type Result struct {
	StatusCode int
	// ChannelMessageID is the id assigned by the channel, if it returned one.
	ChannelMessageID string
	SentAt           time.Time
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, d Delivery) (*Result, error)
}

// Adapter sends messages to the channel API with a cached bearer token.
// A rejected token is invalidated and the send retried once.
type Adapter struct {
	messagesURL string
	messageType string
	timeout     time.Duration
	client      HTTPClient
	tokens      *TokenCache
	clock       clockwork.Clock
	log         zerolog.Logger
}

// NewAdapter creates an Adapter from cfg. cfg must already be validated.
func NewAdapter(cfg Config, client HTTPClient, tokens *TokenCache, clock clockwork.Clock, log zerolog.Logger) *Adapter {
	return &Adapter{
		messagesURL: cfg.BaseURL + cfg.MessagesPath,
		messageType: cfg.MessageType,
		timeout:     cfg.Timeout,
		client:      client,
		tokens:      tokens,
		clock:       clock,
		log:         log.With().Str("component", "channel").Logger(),
	}
}

// Send delivers d. Errors wrap ErrPermanent or ErrTransient; an
// authentication failure that survives one re-authentication is reported
// as transient.
func (a *Adapter) Send(ctx context.Context, d Delivery) (*Result, error) {
	start := a.clock.Now()
	defer func() {
		SendDuration.Observe(a.clock.Since(start).Seconds())
	}()

	res, err := a.sendWithToken(ctx, d)
	if errors.Is(err, ErrAuth) {
		a.log.Warn().Str("message_id", d.MessageID).Msg("token rejected, re-authenticating")
		a.tokens.Invalidate()
		res, err = a.sendWithToken(ctx, d)
		if errors.Is(err, ErrAuth) {
			err = fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}

	switch {
	case err == nil:
		SendRequestsTotal.WithLabelValues("sent").Inc()
	case IsPermanent(err):
		SendRequestsTotal.WithLabelValues("permanent").Inc()
	default:
		SendRequestsTotal.WithLabelValues("transient").Inc()
	}
	return res, err
}

func (a *Adapter) sendWithToken(ctx context.Context, d Delivery) (*Result, error) {
	token, err := a.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	body, err := json.Marshal(sendPayload{
		TargetID:    d.TargetID,
		Subject:     d.Subject,
		Message:     d.Body,
		MessageType: a.messageType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w: %w", ErrPermanent, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    a.messagesURL,
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, fmt.Errorf("send request: %w: %w", ErrTransient, err)
	}

	if err := ClassifyHTTPStatus(resp.StatusCode, string(resp.Body)); err != nil {
		return nil, err
	}

	result := &Result{StatusCode: resp.StatusCode, SentAt: a.clock.Now()}
	var accepted sendResponse
	if json.Unmarshal(resp.Body, &accepted) == nil {
		result.ChannelMessageID = accepted.MessageID
	}
	return result, nil
}

type sendPayload struct {
	TargetID    string `json:"targetId"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}
