package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/provisioning"
)

// InteropHandler grants other products access to TAK.
type InteropHandler struct {
	settings    *config.Settings
	accounts    *provisioning.Manager
	trustHeader bool
	log         *slog.Logger
}

func NewInteropHandler(settings *config.Settings, accounts *provisioning.Manager, trustHeader bool, log *slog.Logger) *InteropHandler {
	return &InteropHandler{settings: settings, accounts: accounts, trustHeader: trustHeader, log: log}
}

func (h *InteropHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireClientDN(h.trustHeader))
		r.Post("/api/v1/interop/add", h.HandleAdd)
		r.Get("/api/v1/interop/authz", h.HandleAuthz)
	})
}

// HandleAdd registers a product certificate as TAK admin. Only the
// enrollment authority may call it.
//
// URL format: POST /api/v1/interop/add
//
// Request body: {"certcn": "...", "x509cert": "..."}
func (h *InteropHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	if ClientDNFrom(r.Context()).CN() != h.settings.RMCN {
		writeDetail(w, http.StatusForbidden, "Forbidden")
		return
	}

	var req api.ProductAddRequest
	if err := decodeJSON(r, &req); err != nil || req.CertCN == "" || req.X509Cert == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "certcn and x509cert are required")
		return
	}

	account, err := h.accounts.Product(req.CertCN, req.X509Cert)
	if err != nil {
		h.log.Error("Product certificate rejected", "certcn", req.CertCN, "err", err)
		writeDetail(w, statusFor(err), "Invalid product certificate")
		return
	}
	if !account.EnableAdmin(r.Context()) {
		writeJSON(w, http.StatusOK, api.OperationResult{Success: false, Error: "TAK admin script failed"})
		return
	}
	writeJSON(w, http.StatusOK, api.OperationResult{Success: true})
}

// HandleAuthz tells a product which authentication to use. The caller's
// certificate must have been added through HandleAdd.
//
// URL format: GET /api/v1/interop/authz
func (h *InteropHandler) HandleAuthz(w http.ResponseWriter, r *http.Request) {
	_, err := h.accounts.Product(ClientDNFrom(r.Context()).CN(), "")
	if errors.Is(err, interfaces.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Certificate does not exist")
		return
	}
	if err != nil {
		h.log.Error("Product lookup failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Product lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, api.ProductAuthzResponse{Type: "mtls"})
}
