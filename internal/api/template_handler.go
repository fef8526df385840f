package api

import (
	"net/http"

	"github.com/sungwon/guest-messenger/internal/templates"
)

// templateRequest is the JSON body for POST /templates.
type templateRequest struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Variables []string `json:"variables"`
	Active    *bool    `json:"active,omitempty"`
}

// ListTemplatesHandler handles GET /templates?message_type=.
func ListTemplatesHandler(svc MessagingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.GetTemplates(r.Context(), r.URL.Query().Get("message_type"))
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		if list == nil {
			list = []templates.Template{}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"templates": list})
	}
}

// CreateTemplateHandler handles POST /templates. Templates are active
// unless the body says otherwise.
func CreateTemplateHandler(svc MessagingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req templateRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		annotate(r.Context(), "template_name", req.Name)

		active := true
		if req.Active != nil {
			active = *req.Active
		}

		t, err := svc.CreateTemplate(r.Context(), templates.Template{
			Name:      req.Name,
			Type:      templates.MessageType(req.Type),
			Subject:   req.Subject,
			Body:      req.Body,
			Variables: req.Variables,
			Active:    active,
		})
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, t)
	}
}
