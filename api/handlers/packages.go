package handlers

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/datapackage"
	"github.com/pvarki/takrmapi/ephemeral"
	"github.com/pvarki/takrmapi/interfaces"
)

// userDataNotFound is the only answer an ephemeral redemption failure gets.
const userDataNotFound = "User data not found"

// PackageHandler serves mission packages, data packages and ephemeral
// download links.
type PackageHandler struct {
	settings    *config.Settings
	assembler   *datapackage.Assembler
	codec       *ephemeral.Codec
	trustHeader bool
	log         *slog.Logger

	now func() time.Time
}

// NewPackageHandler creates the package handler. codec may be nil, which
// disables the ephemeral link routes.
func NewPackageHandler(settings *config.Settings, assembler *datapackage.Assembler, codec *ephemeral.Codec, trustHeader bool, log *slog.Logger) *PackageHandler {
	return &PackageHandler{
		settings:    settings,
		assembler:   assembler,
		codec:       codec,
		trustHeader: trustHeader,
		log:         log,
		now:         time.Now,
	}
}

func (h *PackageHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireClientDN(h.trustHeader))
		r.Post("/api/v1/tak-missionpackages/client-zip/{variant}.zip", h.HandleClientZip)
		r.Post("/api/v1/tak-missionpackages/combined.zip", h.HandleCombinedZip)
		r.Post("/api/v1/clients/data", h.HandleClientData)
		r.Get("/api/v1/tak-datapackages/{type}/*", h.HandleDataPackage)
		if h.codec != nil {
			r.Post("/api/v1/tak-missionpackages/ephemeral/{variant}", h.HandleEphemeralIssue)
		}
	})
	if h.codec != nil {
		r.Get("/api/v1/tak-missionpackages/ephemeral/{token}/{filename}", h.HandleEphemeralRedeem)
	}
}

// HandleClientZip assembles one mission package variant for the user in
// the request body.
//
// URL format: POST /api/v1/tak-missionpackages/client-zip/{variant}.zip
//
// Response: application/zip named {callsign}_{variant}.zip
func (h *PackageHandler) HandleClientZip(w http.ResponseWriter, r *http.Request) {
	user, err := decodeUser(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	variant := chi.URLParam(r, "variant")
	if !h.variantExists(variant) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Variant '%s' not found", variant))
		return
	}

	h.serveMissionZip(w, r, user, variant, user.Callsign+"_"+variant+".zip", "Failed to generate ZIP")
}

// HandleCombinedZip packs several mission package variants into one
// archive. Variants come from repeated "variant" query parameters and
// default to every enabled variant.
//
// URL format: POST /api/v1/tak-missionpackages/combined.zip?variant=atak&variant=itak
func (h *PackageHandler) HandleCombinedZip(w http.ResponseWriter, r *http.Request) {
	user, err := decodeUser(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	variants := r.URL.Query()["variant"]
	if len(variants) == 0 {
		variants = h.settings.EnabledMissionPackages
	}

	cleanup := datapackage.NewCleanupQueue(h.log)
	defer cleanup.Run()

	archive, err := h.assembler.AssembleCombined(r.Context(), missionRequests(variants), user, user.Callsign+"_combined")
	if archive != nil {
		cleanup.Defer(archive.ScratchDir)
	}
	if err != nil {
		h.log.Error("Combined package assembly failed", "callsign", user.Callsign, "err", err)
		writeDetail(w, statusFor(err), "Failed to generate ZIP")
		return
	}
	serveFile(w, r, archive.ZipPath, "application/zip", filepath.Base(archive.ZipPath), h.log)
}

// HandleClientData returns every enabled mission package as a data URL.
//
// URL format: POST /api/v1/clients/data
//
// Response: {"data":{"tak_zips":[{"title","filename","data"}]}}
func (h *PackageHandler) HandleClientData(w http.ResponseWriter, r *http.Request) {
	user, err := decodeUser(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	cleanup := datapackage.NewCleanupQueue(h.log)
	defer cleanup.Run()

	pkgs, err := h.assembler.AssembleEach(r.Context(), missionRequests(h.settings.EnabledMissionPackages), user)
	cleanup.DeferPackages(pkgs...)
	if err != nil && len(pkgs) == 0 {
		h.log.Error("Mission packages unavailable", "callsign", user.Callsign, "err", err)
		writeDetail(w, statusFor(err), "Failed to generate ZIP")
		return
	}

	resp := api.ClientInstructionResponse{Data: api.ClientInstructionData{TakZips: []api.TakZipFile{}}}
	for _, p := range pkgs {
		if !p.AssemblyComplete {
			continue
		}
		contents, err := os.ReadFile(p.ZipPath)
		if err != nil {
			h.log.Error("Reading assembled package failed", "package", p.Name(), "err", err)
			continue
		}
		name := filepath.Base(p.ZipPath)
		resp.Data.TakZips = append(resp.Data.TakZips, api.TakZipFile{
			Title:    name,
			Filename: user.Callsign + "_" + name,
			Data:     "data:application/zip;base64," + base64.StdEncoding.EncodeToString(contents),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDataPackage returns a client or environment package for the
// calling certificate: a rendered template as text, a plain file as is, or
// a bundle as zip.
//
// URL format: GET /api/v1/tak-datapackages/{type}/{template_path}
func (h *PackageHandler) HandleDataPackage(w http.ResponseWriter, r *http.Request) {
	pt, err := config.ParsePackageType(chi.URLParam(r, "type"))
	if err != nil || (pt != config.PackageClient && pt != config.PackageEnvironment) {
		writeDetail(w, http.StatusNotFound, "Requested datapackage file not found")
		return
	}
	rel := chi.URLParam(r, "*")
	if rel == "" || filepath.IsAbs(rel) || !filepath.IsLocal(filepath.FromSlash(rel)) {
		writeDetail(w, http.StatusNotFound, "Requested datapackage file not found")
		return
	}

	cn := ClientDNFrom(r.Context()).CN()
	user := interfaces.User{UUID: cn, Callsign: cn}
	req := datapackage.DataPackageRequest{TemplatePath: filepath.FromSlash(rel), Type: pt}

	p, err := h.assembler.Locator().Locate(req)
	if err != nil {
		h.log.Info("Data package lookup failed", "path", rel, "err", err)
		writeDetail(w, statusFor(err), "Requested datapackage file not found")
		return
	}

	switch {
	case p.IsTemplate():
		rendered, err := h.assembler.RenderSingle(r.Context(), req, user)
		if err != nil {
			h.log.Error("Rendering data package failed", "path", rel, "err", err)
			writeDetail(w, http.StatusInternalServerError, "Failed to render template")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, p.UploadName()))
		_, _ = w.Write(rendered.Rendered)

	case p.IsBundle:
		cleanup := datapackage.NewCleanupQueue(h.log)
		defer cleanup.Run()
		pkgs, err := h.assembler.AssembleEach(r.Context(), []datapackage.DataPackageRequest{req}, user)
		cleanup.DeferPackages(pkgs...)
		if err != nil || len(pkgs) != 1 || !pkgs[0].AssemblyComplete {
			h.log.Error("Data package assembly failed", "path", rel, "err", err)
			writeDetail(w, http.StatusInternalServerError, "Failed to generate ZIP")
			return
		}
		serveFile(w, r, pkgs[0].ZipPath, "application/zip", p.UploadName(), h.log)

	default:
		serveFile(w, r, p.SourceFile(), "application/octet-stream", p.UploadName(), h.log)
	}
}

// HandleEphemeralIssue creates a short lived anonymous download link for
// a mission package variant.
//
// URL format: POST /api/v1/tak-missionpackages/ephemeral/{variant}
//
// Response: {"ephemeral_url": "https://.../ephemeral/{token}/{callsign}.zip"}
func (h *PackageHandler) HandleEphemeralIssue(w http.ResponseWriter, r *http.Request) {
	user, err := decodeUser(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	variant := chi.URLParam(r, "variant")
	if !h.variantExists(variant) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Variant '%s' not found", variant))
		return
	}

	token, err := h.codec.Issue(r.Context(), ephemeral.Identity{UUID: user.UUID, Callsign: user.Callsign}, variant, h.now())
	if err != nil {
		h.log.Error("Issuing ephemeral link failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Ephemeral links unavailable")
		return
	}

	link := strings.TrimSuffix(h.settings.PublicURL, "/") + "/api/v1/tak-missionpackages/ephemeral/" + token + "/" + ephemeralFilename(user.Callsign)
	writeJSON(w, http.StatusOK, api.EphemeralURLResponse{EphemeralURL: link})
}

// HandleEphemeralRedeem resolves a link created by HandleEphemeralIssue.
// The filename segment is cosmetic. Every token failure answers the same
// 404 body.
//
// URL format: GET /api/v1/tak-missionpackages/ephemeral/{token}/{filename}
func (h *PackageHandler) HandleEphemeralRedeem(w http.ResponseWriter, r *http.Request) {
	id, variant, err := h.codec.Redeem(r.Context(), chi.URLParam(r, "token"), h.now())
	if err != nil {
		writeDetail(w, http.StatusNotFound, userDataNotFound)
		return
	}
	if !h.variantExists(variant) {
		writeDetail(w, http.StatusNotFound, userDataNotFound)
		return
	}

	user := interfaces.User{UUID: id.UUID, Callsign: id.Callsign}
	h.serveMissionZip(w, r, user, variant, user.Callsign+"_"+variant+".zip", userDataNotFound)
}

func (h *PackageHandler) serveMissionZip(w http.ResponseWriter, r *http.Request, user interfaces.User, variant, filename, failure string) {
	cleanup := datapackage.NewCleanupQueue(h.log)
	defer cleanup.Run()

	pkgs, err := h.assembler.AssembleEach(r.Context(), missionRequests([]string{variant}), user)
	cleanup.DeferPackages(pkgs...)
	if err != nil || len(pkgs) != 1 || !pkgs[0].AssemblyComplete {
		h.log.Error("Mission package assembly failed", "variant", variant, "callsign", user.Callsign, "err", err)
		code := http.StatusInternalServerError
		if failure == userDataNotFound {
			code = http.StatusNotFound
		}
		writeDetail(w, code, failure)
		return
	}
	serveFile(w, r, pkgs[0].ZipPath, "application/zip", filename, h.log)
}

// variantExists reports whether variant names a mission package bundle.
func (h *PackageHandler) variantExists(variant string) bool {
	if variant == "" || !filepath.IsLocal(variant) || strings.ContainsAny(variant, `/\`) {
		return false
	}
	p, err := h.assembler.Locator().Locate(datapackage.DataPackageRequest{TemplatePath: variant, Type: config.PackageMission})
	return err == nil && p.IsBundle
}

func missionRequests(variants []string) []datapackage.DataPackageRequest {
	reqs := make([]datapackage.DataPackageRequest, 0, len(variants))
	for _, v := range variants {
		reqs = append(reqs, datapackage.DataPackageRequest{TemplatePath: v, Type: config.PackageMission})
	}
	return reqs
}

func ephemeralFilename(callsign string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "?", "_", "#", "_").Replace(callsign) + ".zip"
}
