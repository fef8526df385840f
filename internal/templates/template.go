// Package templates holds message templates and renders them with booking
// variables.
package templates

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// MessageType classifies guest messages.
type MessageType string

const (
	TypeWelcome              MessageType = "welcome"
	TypeCheckinInstructions  MessageType = "checkin_instructions"
	TypeCheckoutReminder     MessageType = "checkout_reminder"
	TypeReviewRequest        MessageType = "review_request"
	TypeCustom               MessageType = "custom"
	TypeHouseRules           MessageType = "house_rules"
	TypeLocalRecommendations MessageType = "local_recommendations"
	TypeMaintenanceUpdate    MessageType = "maintenance_update"
)

var messageTypes = []MessageType{
	TypeWelcome,
	TypeCheckinInstructions,
	TypeCheckoutReminder,
	TypeReviewRequest,
	TypeCustom,
	TypeHouseRules,
	TypeLocalRecommendations,
	TypeMaintenanceUpdate,
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return slices.Contains(messageTypes, t)
}

// Template is a named subject/body pattern for one message type.
type Template struct {
	Name      string      `json:"name"`
	Type      MessageType `json:"type"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	Variables []string    `json:"variables"`
	Active    bool        `json:"active"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Placeholders returns the distinct variable names referenced by the
// template, in order of first appearance.
func (t Template) Placeholders() []string {
	var names []string
	for _, pattern := range []string{t.Subject, t.Body} {
		for _, m := range placeholderRe.FindAllStringSubmatch(pattern, -1) {
			if !slices.Contains(names, m[1]) {
				names = append(names, m[1])
			}
		}
	}
	return names
}

// Validate checks that the template is well-formed and that every
// placeholder it uses is declared.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("template name is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("unknown message type %q", t.Type)
	}
	if strings.TrimSpace(t.Subject) == "" && strings.TrimSpace(t.Body) == "" {
		return errors.New("template subject or body is required")
	}

	var undeclared []string
	for _, name := range t.Placeholders() {
		if !slices.Contains(t.Variables, name) {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		return fmt.Errorf("template %s uses undeclared variables: %s", t.Name, strings.Join(undeclared, ", "))
	}
	return nil
}
