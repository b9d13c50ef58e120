package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/datapackage"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/storage"
)

// AdminHandler exposes the template trees to operators.
type AdminHandler struct {
	settings    *config.Settings
	store       interfaces.TemplateStore
	overlayDir  string
	trustHeader bool
	log         *slog.Logger

	syncMu sync.Mutex
}

// NewAdminHandler creates the admin handler. store and overlayDir are
// optional; without them the sync route answers 404.
func NewAdminHandler(settings *config.Settings, store interfaces.TemplateStore, overlayDir string, trustHeader bool, log *slog.Logger) *AdminHandler {
	return &AdminHandler{
		settings:    settings,
		store:       store,
		overlayDir:  overlayDir,
		trustHeader: trustHeader,
		log:         log,
	}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireClientDN(h.trustHeader))
		r.Get("/api/v1/admin/datapackages", h.HandleListPackages)
		r.Post("/api/v1/admin/templates/sync", h.HandleSyncOverlay)
	})
}

// HandleListPackages lists the packages in every default and override root.
//
// URL format: GET /api/v1/admin/datapackages
func (h *AdminHandler) HandleListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := datapackage.ListAvailable(h.settings.PackageRoots())
	if err != nil {
		h.log.Error("Listing packages failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Listing packages failed")
		return
	}
	if pkgs == nil {
		pkgs = []datapackage.PackageInfo{}
	}
	writeJSON(w, http.StatusOK, api.PackageListing{Packages: pkgs})
}

// HandleSyncOverlay refreshes the local override tree from the configured
// template store. Only the enrollment authority may trigger it.
//
// URL format: POST /api/v1/admin/templates/sync
func (h *AdminHandler) HandleSyncOverlay(w http.ResponseWriter, r *http.Request) {
	if ClientDNFrom(r.Context()).CN() != h.settings.RMCN {
		writeDetail(w, http.StatusForbidden, "Forbidden")
		return
	}
	if h.store == nil || h.overlayDir == "" {
		writeDetail(w, http.StatusNotFound, "No template store configured")
		return
	}

	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	n, err := storage.SyncOverlay(r.Context(), h.store, h.overlayDir, h.log)
	if err != nil {
		h.log.Error("Template overlay sync failed", "store", h.store.Name(), "err", err)
		writeDetail(w, http.StatusBadGateway, "Template overlay sync failed")
		return
	}
	writeJSON(w, http.StatusOK, api.OverlaySyncResponse{Store: h.store.Name(), Files: n})
}
