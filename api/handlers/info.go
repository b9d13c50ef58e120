package handlers

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/config"
)

const (
	productDocsURL     = "https://pvarki.github.io/Docusaurus-docs/docs/android/deployapp/home/"
	productComponentJS = "/ui/tak/remoteEntry.js"
)

// InfoHandler serves the public product description and health check.
type InfoHandler struct {
	settings *config.Settings
	log      *slog.Logger
}

func NewInfoHandler(settings *config.Settings, log *slog.Logger) *InfoHandler {
	return &InfoHandler{settings: settings, log: log}
}

func (h *InfoHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/description/{language}", h.HandleDescription)
	r.Get("/api/v2/description/{language}", h.HandleDescriptionExtended)
	r.Get("/api/v1/healthcheck", h.HandleHealthCheck)
}

// description is not localized yet, every language gets the English text.
func description() api.ProductDescription {
	return api.ProductDescription{
		Shortname:   "tak",
		Title:       "TAK: Team Awareness Kit",
		Description: "Situational awareness system",
		Language:    "en",
	}
}

// HandleDescription returns the product description.
//
// URL format: GET /api/v1/description/{language}
func (h *InfoHandler) HandleDescription(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, description())
}

// HandleDescriptionExtended adds the documentation link and UI component.
//
// URL format: GET /api/v2/description/{language}
func (h *InfoHandler) HandleDescriptionExtended(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.ProductDescriptionExtended{
		ProductDescription: description(),
		Docs:               productDocsURL,
		Component:          api.ProductComponent{Type: "component", Ref: productComponentJS},
	})
}

// HandleHealthCheck reports healthy once TAK has certificates to serve.
//
// URL format: GET /api/v1/healthcheck
func (h *InfoHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.settings.TakCertsFolder)
	if err == nil && len(entries) > 0 {
		writeJSON(w, http.StatusOK, api.HealthCheckResponse{Healthy: true})
		return
	}

	reason := "Waiting for RM to give go ahead."
	h.log.Info("Not ready to serve", "url", r.URL.String(), "reason", reason)
	writeJSON(w, http.StatusOK, api.HealthCheckResponse{Healthy: false, Extra: &reason})
}
