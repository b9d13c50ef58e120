package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/interfaces"
)

// ClientDNHeader carries the verified client certificate subject from the
// TLS terminating proxy.
const ClientDNHeader = "X-ClientCert-DN"

const maxBodyBytes = 1 << 20

type ctxKey int

const clientDNKey ctxKey = iota

// RequireClientDN rejects requests without a client identity and stores the
// parsed DN in the request context. The header is only consulted when
// trustHeader is set; a verified TLS peer certificate always counts.
func RequireClientDN(trustHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var dn interfaces.ClientDN
			if r.TLS != nil && len(r.TLS.VerifiedChains) > 0 && len(r.TLS.PeerCertificates) > 0 {
				dn = interfaces.ParseClientDN(r.TLS.PeerCertificates[0].Subject.String())
			} else if raw := r.Header.Get(ClientDNHeader); trustHeader && raw != "" {
				dn = interfaces.ParseClientDN(raw)
			}
			if dn.CN() == "" {
				writeDetail(w, http.StatusForbidden, "DN header not found")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientDNKey, dn)))
		})
	}
}

// ClientDNFrom returns the identity stored by RequireClientDN.
func ClientDNFrom(ctx context.Context) interfaces.ClientDN {
	dn, _ := ctx.Value(clientDNKey).(interfaces.ClientDN)
	return dn
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, api.ErrorDetail{Detail: detail})
}

// decodeUser reads a user lifecycle body. A callsign is mandatory.
func decodeUser(r *http.Request) (api.UserCRUDRequest, error) {
	var user api.UserCRUDRequest
	if err := decodeJSON(r, &user); err != nil {
		return user, err
	}
	if user.Callsign == "" {
		return user, errors.New("callsign is required")
	}
	return user, nil
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps an assembly error to the response code.
func statusFor(err error) int {
	if errors.Is(err, interfaces.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// serveFile streams path as an attachment named filename.
func serveFile(w http.ResponseWriter, r *http.Request, path, contentType, filename string, log *slog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Error("Assembled file vanished", "path", path, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to generate ZIP")
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Failed to generate ZIP")
		return
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	http.ServeContent(w, r, filename, stat.ModTime(), f)
}
