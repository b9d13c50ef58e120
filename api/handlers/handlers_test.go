package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zip"
	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/cryptoutils"
	"github.com/pvarki/takrmapi/datapackage"
	"github.com/pvarki/takrmapi/ephemeral"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/provisioning"
	"github.com/pvarki/takrmapi/storage"
	"github.com/pvarki/takrmapi/userdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const userDN = "CN=N0CALL,O=localmaeher"

type staticKey string

func (k staticKey) FetchKey(ctx context.Context) (string, error) { return string(k), nil }

type signingAuthority struct {
	caCert, caKey []byte
}

func (a *signingAuthority) SignCSR(ctx context.Context, csrPEM []byte) ([]byte, error) {
	return cryptoutils.SignCSRPEM(csrPEM, a.caCert, a.caKey, time.Hour)
}

func (a *signingAuthority) Revoke(ctx context.Context, certPEM []byte) error { return nil }

type fixture struct {
	root     string
	settings *config.Settings
	scripts  *provisioning.MockScriptRunner
	packages *PackageHandler
	router   chi.Router
	overlay  string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := config.NewSettings(filepath.Join(root, "templates"), config.DummyManifest())
	s.PersistentFolder = filepath.Join(root, "persistent")
	s.TakCertsFolder = filepath.Join(root, "certs")
	s.LeCertChainFile = filepath.Join(root, "fullchain.pem")
	s.EnabledMissionPackages = []string{"atak", "itak"}
	s.KeypairTimeout = time.Second
	s.SetNetworkMeshKey("MESHKEY")
	require.NoError(t, os.MkdirAll(s.TakCertsFolder, 0o755))

	mission := s.PackageRoots()[config.PackageMission].Default
	for _, v := range s.EnabledMissionPackages {
		writeFile(t, filepath.Join(mission, v, "certs", "config.pref.tpl"), "{{ .v.callsign }}")
	}
	env := s.PackageRoots()[config.PackageEnvironment].Default
	writeFile(t, filepath.Join(env, "Mesh", "mesh.pref.tpl"), "mesh={{ .v.tak_network_mesh_key }} for {{ .v.callsign }}")
	writeFile(t, filepath.Join(env, "Settings", "defaults.pref"), "<prefs/>")
	writeFile(t, filepath.Join(env, "Maps", "layers.xml"), "<layers/>")

	chain, _, err := cryptoutils.SelfSignedPEM("tak.localmaeher.dev.pvarki.fi", time.Hour)
	require.NoError(t, err)
	writeFile(t, s.LeCertChainFile, string(chain))
	caCert, caKey, err := cryptoutils.SelfSignedPEM("test-ca", time.Hour)
	require.NoError(t, err)

	users := userdata.NewStore(s.UsersFolder(), 10*time.Millisecond, log)
	pool := datapackage.NewPool(2)
	locator := datapackage.NewLocator(s.PackageRoots(), log)
	mp := datapackage.NewManifestProcessor(s.LeCertChainFile, s.TemplatesPath, s.KeypairTimeout, users, pool, log)
	asm := datapackage.NewAssembler(s, locator, &datapackage.Renderer{}, mp, pool, log)

	key, err := ephemeral.GenerateKey()
	require.NoError(t, err)
	codec := ephemeral.NewCodec(ephemeral.NewKeyProvider(staticKey(key), log), log)

	scripts := &provisioning.MockScriptRunner{}
	accounts := provisioning.NewManager(s, users, &signingAuthority{caCert: caCert, caKey: caKey}, scripts, log)

	src := filepath.Join(root, "remote")
	writeFile(t, filepath.Join(src, "environment-packages", "Extra", "extra.xml"), "<extra/>")
	store, err := storage.NewFileBackend(src, log)
	require.NoError(t, err)
	overlay := filepath.Join(root, "overlay")

	f := &fixture{
		root:     root,
		settings: s,
		scripts:  scripts,
		packages: NewPackageHandler(s, asm, codec, true, log),
		overlay:  overlay,
	}
	r := chi.NewRouter()
	for _, h := range []interface{ RegisterRoutes(chi.Router) }{
		f.packages,
		NewUserHandler(accounts, true, log),
		NewInteropHandler(s, accounts, true, log),
		NewInfoHandler(s, log),
		NewAdminHandler(s, store, overlay, true, log),
	} {
		h.RegisterRoutes(r)
	}
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, dn string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if dn != "" {
		req.Header.Set(ClientDNHeader, dn)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func escapedUser(t *testing.T, callsign string) interfaces.User {
	t.Helper()
	cert, _, err := cryptoutils.SelfSignedPEM(callsign, time.Hour)
	require.NoError(t, err)
	return interfaces.User{
		UUID:     "1234abcd-" + strings.ToLower(callsign),
		Callsign: callsign,
		X509Cert: strings.ReplaceAll(string(cert), "\n", `\n`),
	}
}

var n0call = interfaces.User{UUID: "1234abcd", Callsign: "N0CALL"}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(content)
	}
	return out
}

func detail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var d api.ErrorDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	return d.Detail
}

func TestRequireClientDN(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/client-zip/atak.zip", "", n0call)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/client-zip/atak.zip", "O=nocn", n0call)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// the header is ignored unless trusted
	handler := RequireClientDN(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ClientDNHeader, userDN)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var seen interfaces.ClientDN
	handler = RequireClientDN(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientDNFrom(r.Context())
	}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "N0CALL", seen.CN())
	assert.Equal(t, "localmaeher", seen["O"])
}

func TestClientZip(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/client-zip/atak.zip", userDN, n0call)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/zip", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="N0CALL_atak.zip"`)

	members := readZip(t, rr.Body.Bytes())
	assert.Equal(t, "N0CALL", members["certs/config.pref"])

	rr = f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/client-zip/nope.zip", userDN, n0call)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Variant 'nope' not found", detail(t, rr))

	rr = f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/client-zip/atak.zip", userDN, map[string]string{"uuid": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestScratchRemovedAfterResponse(t *testing.T) {
	f := newFixture(t)
	user := interfaces.User{UUID: "5678", Callsign: "SCRATCH01"}
	pattern := filepath.Join(os.TempDir(), "takpkg-*_SCRATCH01")

	rr := f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/client-zip/atak.zip", userDN, user)
	require.Equal(t, http.StatusOK, rr.Code)

	left, err := filepath.Glob(pattern)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCombinedZip(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/combined.zip?variant=atak&variant=itak", userDN, n0call)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	members := readZip(t, rr.Body.Bytes())
	assert.Equal(t, "N0CALL", members["localmaeher_atak/certs/config.pref"])
	assert.Equal(t, "N0CALL", members["localmaeher_itak/certs/config.pref"])

	rr = f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/combined.zip?variant=nope", userDN, n0call)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestClientData(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/clients/data", userDN, n0call)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp api.ClientInstructionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data.TakZips, 2)

	byTitle := map[string]api.TakZipFile{}
	for _, z := range resp.Data.TakZips {
		byTitle[z.Title] = z
	}
	atak, ok := byTitle["localmaeher_atak.zip"]
	require.True(t, ok)
	assert.Equal(t, "N0CALL_localmaeher_atak.zip", atak.Filename)

	const prefix = "data:application/zip;base64,"
	require.True(t, strings.HasPrefix(atak.Data, prefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(atak.Data, prefix))
	require.NoError(t, err)
	assert.Equal(t, "N0CALL", readZip(t, raw)["certs/config.pref"])
}

func TestEphemeralLinks(t *testing.T) {
	f := newFixture(t)
	t0 := time.Unix(1700000000, 0)
	f.packages.now = func() time.Time { return t0 }

	rr := f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/ephemeral/atak", userDN, n0call)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp api.EphemeralURLResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.True(t, strings.HasPrefix(resp.EphemeralURL, f.settings.PublicURL+"/api/v1/tak-missionpackages/ephemeral/"))
	assert.NotContains(t, resp.EphemeralURL, "atak")
	assert.True(t, strings.HasSuffix(resp.EphemeralURL, "/N0CALL.zip"))
	path := strings.TrimPrefix(resp.EphemeralURL, f.settings.PublicURL)

	t.Run("redeem anonymously", func(t *testing.T) {
		f.packages.now = func() time.Time { return t0.Add(299 * time.Second) }
		rr := f.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="N0CALL_atak.zip"`)
		assert.Equal(t, "N0CALL", readZip(t, rr.Body.Bytes())["certs/config.pref"])
	})

	t.Run("expired", func(t *testing.T) {
		f.packages.now = func() time.Time { return t0.Add(301 * time.Second) }
		rr := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, userDataNotFound, detail(t, rr))
	})

	t.Run("garbage", func(t *testing.T) {
		f.packages.now = func() time.Time { return t0 }
		rr := f.do(t, http.MethodGet, "/api/v1/tak-missionpackages/ephemeral/bm90LWEtdG9rZW4/N0CALL.zip", "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, userDataNotFound, detail(t, rr))
	})

	t.Run("unknown variant", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/v1/tak-missionpackages/ephemeral/nope", userDN, n0call)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestDataPackages(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/tak-datapackages/environment/Mesh/mesh.pref.tpl", userDN, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="mesh.pref"`)
	assert.Contains(t, rr.Body.String(), "for N0CALL")
	assert.NotContains(t, rr.Body.String(), "MESHKEY")

	rr = f.do(t, http.MethodGet, "/api/v1/tak-datapackages/environment/Settings/defaults.pref", userDN, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<prefs/>", rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/v1/tak-datapackages/environment/Maps", userDN, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="Maps.zip"`)
	assert.Equal(t, "<layers/>", readZip(t, rr.Body.Bytes())["layers.xml"])

	for _, path := range []string{
		"/api/v1/tak-datapackages/environment/Nothing.pref",
		"/api/v1/tak-datapackages/mission/atak",
		"/api/v1/tak-datapackages/bogus/Maps",
		"/api/v1/tak-datapackages/environment/../client-packages",
	} {
		rr = f.do(t, http.MethodGet, path, userDN, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestUserLifecycle(t *testing.T) {
	f := newFixture(t)
	f.scripts.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	user := escapedUser(t, "N0CALL")

	rr := f.do(t, http.MethodPost, "/api/v1/users/created", userDN, user)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.FileExists(t, filepath.Join(f.settings.TakCertsFolder, "N0CALL.pem"))
	assert.FileExists(t, filepath.Join(f.settings.TakCertsFolder, "N0CALL_rm.pem"))

	rr = f.do(t, http.MethodPost, "/api/v1/users/promoted", userDN, user)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	f.scripts.AssertCalled(t, "Run", mock.Anything, provisioning.EnableAdminScript, map[string]string{provisioning.AdminCertEnv: "N0CALL"})

	rr = f.do(t, http.MethodPost, "/api/v1/users/demoted", userDN, user)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	rr = f.do(t, http.MethodPut, "/api/v1/users/updated", userDN, user)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/api/v1/users/revoked", userDN, user)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.NoFileExists(t, filepath.Join(f.settings.TakCertsFolder, "N0CALL.pem"))

	rr = f.do(t, http.MethodPost, "/api/v1/users/created", userDN, interfaces.User{Callsign: "../etc"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestUserLifecycleScriptFailure(t *testing.T) {
	f := newFixture(t)
	f.scripts.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(1, nil)

	rr := f.do(t, http.MethodPost, "/api/v1/users/created", userDN, escapedUser(t, "N0CALL"))
	require.Equal(t, http.StatusOK, rr.Code)

	var res api.OperationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestInterop(t *testing.T) {
	f := newFixture(t)
	f.scripts.On("Run", mock.Anything, provisioning.EnableAdminScript, map[string]string{provisioning.AdminCertEnv: "tak_example_com_rm"}).Return(0, nil).Once()
	product := escapedUser(t, "tak.example.com")
	body := api.ProductAddRequest{CertCN: "tak.example.com", X509Cert: product.X509Cert}

	rr := f.do(t, http.MethodGet, "/api/v1/interop/authz", "CN=tak.example.com", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Certificate does not exist", detail(t, rr))

	rr = f.do(t, http.MethodPost, "/api/v1/interop/add", userDN, body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/interop/add", "CN=rasenmaeher", body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	f.scripts.AssertExpectations(t)

	rr = f.do(t, http.MethodGet, "/api/v1/interop/authz", "CN=tak.example.com", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"type":"mtls","token":null,"username":null,"password":null}`, rr.Body.String())
}

func TestDescriptions(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/description/fi", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"shortname":"tak","title":"TAK: Team Awareness Kit","icon":null,"description":"Situational awareness system","language":"en"}`, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/v2/description/en", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ext map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ext))
	assert.Equal(t, "tak", ext["shortname"])
	assert.Equal(t, map[string]any{"type": "component", "ref": "/ui/tak/remoteEntry.js"}, ext["component"])
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/healthcheck", "", nil)
	assert.JSONEq(t, `{"healthy":false,"extra":"Waiting for RM to give go ahead."}`, rr.Body.String())

	writeFile(t, filepath.Join(f.settings.TakCertsFolder, "mtlsclient.pem"), "x")
	rr = f.do(t, http.MethodGet, "/api/v1/healthcheck", "", nil)
	assert.JSONEq(t, `{"healthy":true,"extra":null}`, rr.Body.String())
}

func TestAdmin(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/admin/datapackages", userDN, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listing api.PackageListing
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	names := map[string]bool{}
	for _, p := range listing.Packages {
		names[string(p.Type)+"/"+p.Name] = true
	}
	assert.True(t, names["mission/atak"])
	assert.True(t, names["environment/Maps"])

	rr = f.do(t, http.MethodPost, "/api/v1/admin/templates/sync", userDN, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/admin/templates/sync", "CN=rasenmaeher", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"store":"file-remote","files":1}`, rr.Body.String())
	assert.FileExists(t, filepath.Join(f.overlay, "environment-packages", "Extra", "extra.xml"))
}
