package datapackage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/interfaces"
)

// RenderContext is the immutable set of names visible to templates.
type RenderContext struct {
	vars map[string]any
}

// NewRenderContext builds the context for one user and template. ref
// identifies the template within its package and seeds tak_userfile_uid,
// so the same user gets stable per-file identifiers across downloads.
func NewRenderContext(s *config.Settings, user interfaces.User, ref string) RenderContext {
	meshDigest := sha256.Sum256([]byte(s.NetworkMeshKey()))
	vars := map[string]any{
		"tak_server_deployment_name": s.DeploymentName,
		"tak_server_public_address":  s.ServerFQDN,
		"tak_network_mesh_key":       hex.EncodeToString(meshDigest[:]),
		"tak_userfile_uid":           uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.ServerFQDN+"/"+user.Callsign+"/"+ref)).String(),
		"client_cert_name":           user.Callsign,
		"client_cert_password":       user.Callsign,
		"callsign":                   user.Callsign,
	}
	if s.MTX != nil {
		vars["mtx_server_public_address"] = s.MTX.FQDN
		vars["mtx_server_srt_port"] = s.MTX.SRTPort
		vars["mtx_server_observer_port"] = s.MTX.ObserverPort
		vars["mtx_server_observer_proto"] = s.MTX.ObserverProto
		vars["mtx_server_observer_net_proto"] = s.MTX.ObserverNetProto
	}
	if s.Airguardian != nil {
		vars["airguardian_api"] = s.Airguardian.API
	}
	return RenderContext{vars: vars}
}

// Lookup returns a single context value.
func (rc RenderContext) Lookup(name string) (any, bool) {
	v, ok := rc.vars[name]
	return v, ok
}

// Renderer evaluates template files.
type Renderer struct{}

// Render reads path and evaluates it against rc. A missing file or a
// reference to an undefined name is an error.
func (r *Renderer) Render(path string, rc RenderContext) ([]byte, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}
	return r.RenderText(filepath.Base(path), string(text), rc)
}

// RenderText evaluates an in-memory template.
func (r *Renderer) RenderText(name, text string, rc RenderContext) ([]byte, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"v": rc.vars}); err != nil {
		return nil, fmt.Errorf("rendering template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// RenderedName strips the template suffix from a file name.
func RenderedName(name string) string {
	return strings.TrimSuffix(name, TemplateSuffix)
}
