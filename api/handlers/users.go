package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/provisioning"
)

// UserHandler receives user lifecycle events from the enrollment authority
// and mirrors them into TAK.
type UserHandler struct {
	accounts    *provisioning.Manager
	trustHeader bool
	log         *slog.Logger
}

func NewUserHandler(accounts *provisioning.Manager, trustHeader bool, log *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, trustHeader: trustHeader, log: log}
}

func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireClientDN(h.trustHeader))
		r.Post("/api/v1/users/created", h.lifecycle("created", (*provisioning.Account).AddNewUser))
		// POST rather than DELETE: the authority sends the full user body.
		r.Post("/api/v1/users/revoked", h.lifecycle("revoked", (*provisioning.Account).RevokeUser))
		r.Post("/api/v1/users/promoted", h.lifecycle("promoted", (*provisioning.Account).PromoteUser))
		r.Post("/api/v1/users/demoted", h.lifecycle("demoted", (*provisioning.Account).DemoteUser))
		r.Put("/api/v1/users/updated", h.lifecycle("updated", (*provisioning.Account).UpdateUser))
	})
}

// lifecycle returns a handler running op for the user in the request body.
// Failures are reported in the result body, not as an error status.
func (h *UserHandler) lifecycle(event string, op func(*provisioning.Account, context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := decodeUser(r)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		account, err := h.accounts.User(user)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid callsign")
			return
		}

		log := h.log.With("event", event, "callsign", user.Callsign)
		log.Info("Applying user event to TAK")
		ok, err := op(account, r.Context())
		if err != nil {
			log.Error("User event failed", "err", err)
			writeJSON(w, http.StatusOK, api.OperationResult{Success: false, Error: err.Error()})
			return
		}
		if !ok {
			log.Warn("User event not applied")
			writeJSON(w, http.StatusOK, api.OperationResult{Success: false, Error: "TAK user script failed"})
			return
		}
		writeJSON(w, http.StatusOK, api.OperationResult{Success: true})
	}
}
