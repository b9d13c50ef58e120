package datapackage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/cryptoutils"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xpkcs12 "golang.org/x/crypto/pkcs12"
	"software.sslmate.com/src/go-pkcs12"
)

const missionManifest = `<MissionPackageManifest version="2">
  <Configuration>
    <Parameter name="uid" value="{{ .v.tak_userfile_uid }}"/>
    <Parameter name="name" value="{{ .v.tak_server_deployment_name }}_{{ .v.client_cert_name }}"/>
  </Configuration>
  <Contents>
    <!-- <Content ignore="false" zipEntry="certs/legacy.p12"/> -->
    <Content ignore="false" zipEntry="certs/rasenmaeher_ca-public.p12"/>
    <Content ignore="false" zipEntry="certs/{{ .v.client_cert_name }}.p12"/>
    <Content ignore="false" zipEntry="certs/config.pref"/>
  </Contents>
</MissionPackageManifest>
`

func (f *fixture) writeMission(t *testing.T, variant, manifest string) {
	t.Helper()
	dir := filepath.Join(f.defaultRoot(config.PackageMission), variant)
	writeFile(t, filepath.Join(dir, "MANIFEST", "manifest.xml.tpl"), manifest)
	writeFile(t, filepath.Join(dir, "certs", "config.pref.tpl"), `<entry key="caPassword">{{ .v.client_cert_password }}</entry>`)
}

func (f *fixture) writeMaps(t *testing.T) {
	t.Helper()
	def := filepath.Join(f.defaultRoot(config.PackageEnvironment), "Maps")
	writeFile(t, filepath.Join(def, "a", "b.txt"), "default")
	writeFile(t, filepath.Join(def, "layers.xml"), "<layers/>")
	writeFile(t, filepath.Join(def, "name.txt.tpl"), "{{ .v.callsign }}")
	writeFile(t, filepath.Join(f.overrideRoot(config.PackageEnvironment), "Maps", "a", "b.txt"), "override")
	writeFile(t, filepath.Join(f.overrideRoot(config.PackageEnvironment), "Maps", "extra", "site.xml"), "<site/>")
}

func cleanupAll(t *testing.T, pkgs []*ResolvedPackage) {
	q := NewCleanupQueue(discardLogger())
	q.DeferPackages(pkgs...)
	t.Cleanup(q.Run)
}

func TestAssembleEachOverrideAndAdditive(t *testing.T) {
	f := newFixture(t)
	f.writeMaps(t)

	pkgs, err := f.asm.AssembleEach(context.Background(), []DataPackageRequest{{TemplatePath: "Maps", Type: config.PackageEnvironment}}, testUser)
	cleanupAll(t, pkgs)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	require.True(t, pkgs[0].AssemblyComplete)
	assert.Equal(t, "Maps.zip", filepath.Base(pkgs[0].ZipPath))

	members := readZip(t, pkgs[0].ZipPath)
	assert.Equal(t, "override", string(members["a/b.txt"]))
	assert.Equal(t, "<site/>", string(members["extra/site.xml"]))
	assert.Equal(t, "N0CALL", string(members["name.txt"]))
	assert.NotContains(t, members, "name.txt.tpl")
}

func TestAssembleEachDeterministic(t *testing.T) {
	f := newFixture(t)
	f.writeMaps(t)
	req := []DataPackageRequest{{TemplatePath: "Maps", Type: config.PackageEnvironment}}

	first, err := f.asm.AssembleEach(context.Background(), req, testUser)
	cleanupAll(t, first)
	require.NoError(t, err)
	second, err := f.asm.AssembleEach(context.Background(), req, testUser)
	cleanupAll(t, second)
	require.NoError(t, err)

	assert.NotEqual(t, first[0].ScratchDir, second[0].ScratchDir)
	assert.Equal(t, zipMemberOrder(t, first[0].ZipPath), zipMemberOrder(t, second[0].ZipPath))
	assert.Equal(t, contentHashes(readZip(t, first[0].ZipPath)), contentHashes(readZip(t, second[0].ZipPath)))
	assert.Equal(t, []string{"a/b.txt", "extra/site.xml", "layers.xml", "name.txt"}, zipMemberOrder(t, first[0].ZipPath))
}

func TestAssembleMissionPackage(t *testing.T) {
	f := newFixture(t)
	f.writeMission(t, "atak", missionManifest)
	writeFile(t, filepath.Join(f.settings.TemplatesPath, "ca", "root-ca.pem"), string(mustSelfSigned(t, "root-ca")))
	f.writeKeypair(t)

	pkgs, err := f.asm.AssembleEach(context.Background(), []DataPackageRequest{{TemplatePath: "atak", Type: config.PackageMission}}, testUser)
	cleanupAll(t, pkgs)
	require.NoError(t, err)
	assert.Equal(t, "localmaeher_atak.zip", filepath.Base(pkgs[0].ZipPath))

	members := readZip(t, pkgs[0].ZipPath)
	assert.Contains(t, string(members["MANIFEST/manifest.xml"]), `value="localmaeher_N0CALL"`)
	assert.Equal(t, `<entry key="caPassword">N0CALL</entry>`, string(members["certs/config.pref"]))

	trust, err := pkcs12.DecodeTrustStore(members["certs/rasenmaeher_ca-public.p12"], "")
	require.NoError(t, err)
	require.Len(t, trust, 2)
	assert.Equal(t, "tak.localmaeher.dev.pvarki.fi", trust[0].Subject.CommonName)
	assert.Equal(t, "root-ca", trust[1].Subject.CommonName)

	_, cert, err := xpkcs12.Decode(members["certs/N0CALL.p12"], "N0CALL")
	require.NoError(t, err)
	assert.Equal(t, "N0CALL", cert.Subject.CommonName)

	assert.NotContains(t, members, "certs/legacy.p12")
	for name := range members {
		assert.False(t, strings.HasPrefix(filepath.Base(name), ".manifest-"), "staging file leaked: %s", name)
	}
}

func TestAssembleMissionWaitsForKeypair(t *testing.T) {
	f := newFixture(t)
	f.writeMission(t, "atak", missionManifest)

	go func() {
		time.Sleep(150 * time.Millisecond)
		f.writeKeypair(t)
	}()

	start := time.Now()
	pkgs, err := f.asm.AssembleEach(context.Background(), []DataPackageRequest{{TemplatePath: "atak", Type: config.PackageMission}}, testUser)
	cleanupAll(t, pkgs)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Contains(t, readZip(t, pkgs[0].ZipPath), "certs/N0CALL.p12")
}

func TestAssembleMissionKeypairTimeout(t *testing.T) {
	f := newFixture(t)
	f.writeMission(t, "atak", missionManifest)
	f.asm.manifest.KeypairTimeout = 50 * time.Millisecond

	pkgs, err := f.asm.AssembleEach(context.Background(), []DataPackageRequest{{TemplatePath: "atak", Type: config.PackageMission}}, testUser)
	cleanupAll(t, pkgs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrTimeout))
	assert.False(t, pkgs[0].AssemblyComplete)
	assert.Empty(t, pkgs[0].ZipPath)
}

func TestAssembleEachPartialBatch(t *testing.T) {
	f := newFixture(t)
	f.writeMaps(t)
	f.writeMission(t, "broken", `<Content zipEntry="certs/somebody-else.p12"/>`)

	pkgs, err := f.asm.AssembleEach(context.Background(), []DataPackageRequest{
		{TemplatePath: "Maps", Type: config.PackageEnvironment},
		{TemplatePath: "broken", Type: config.PackageMission},
	}, testUser)
	cleanupAll(t, pkgs)

	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrUnknownManifestDirective))
	require.Len(t, pkgs, 2)
	assert.True(t, pkgs[0].AssemblyComplete, "sibling package must still complete")
	assert.FileExists(t, pkgs[0].ZipPath)
	assert.False(t, pkgs[1].AssemblyComplete)
}

func TestAssembleEachFailsFastOnMissingPackage(t *testing.T) {
	f := newFixture(t)
	f.writeMaps(t)

	pkgs, err := f.asm.AssembleEach(context.Background(), []DataPackageRequest{
		{TemplatePath: "Maps", Type: config.PackageEnvironment},
		{TemplatePath: "nope", Type: config.PackageMission},
	}, testUser)
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
	assert.Nil(t, pkgs)
}

func TestAssembleCombined(t *testing.T) {
	f := newFixture(t)
	f.writeMaps(t)
	f.writeMission(t, "atak", missionManifest)
	f.writeKeypair(t)

	archive, err := f.asm.AssembleCombined(context.Background(), []DataPackageRequest{
		{TemplatePath: "Maps", Type: config.PackageEnvironment},
		{TemplatePath: "atak", Type: config.PackageMission},
	}, testUser, "N0CALL all")
	require.NotNil(t, archive)
	t.Cleanup(func() { os.RemoveAll(archive.ScratchDir) })
	require.NoError(t, err)

	assert.Equal(t, "N0CALL_all.zip", filepath.Base(archive.ZipPath))
	members := readZip(t, archive.ZipPath)
	assert.Equal(t, "override", string(members["Maps/a/b.txt"]))
	assert.Contains(t, members, "localmaeher_atak/certs/N0CALL.p12")
	for _, p := range archive.Packages {
		assert.True(t, p.AssemblyComplete)
	}
}

func TestRenderSingle(t *testing.T) {
	f := newFixture(t)
	rel := filepath.Join("Mesh-Encryption", "Mesh-Encryption-key.pref.tpl")
	writeFile(t, filepath.Join(f.defaultRoot(config.PackageEnvironment), rel), `<entry key="networkMeshKey">{{ .v.tak_network_mesh_key }}</entry>`)
	writeFile(t, filepath.Join(f.defaultRoot(config.PackageEnvironment), "plain.pref"), "plain")

	p, err := f.asm.RenderSingle(context.Background(), DataPackageRequest{TemplatePath: rel, Type: config.PackageEnvironment}, testUser)
	require.NoError(t, err)
	assert.Equal(t, "Mesh-Encryption-key.pref", p.UploadName())
	assert.Contains(t, string(p.Rendered), `<entry key="networkMeshKey">`)
	assert.NotContains(t, string(p.Rendered), "MESHKEY")

	_, err = f.asm.RenderSingle(context.Background(), DataPackageRequest{TemplatePath: "plain.pref", Type: config.PackageEnvironment}, testUser)
	assert.True(t, errors.Is(err, interfaces.ErrConfiguration))
}

func TestAssembleEachRejectsSingleFile(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.defaultRoot(config.PackageEnvironment), "plain.pref"), "plain")

	_, err := f.asm.AssembleEach(context.Background(), []DataPackageRequest{{TemplatePath: "plain.pref", Type: config.PackageEnvironment}}, testUser)
	assert.True(t, errors.Is(err, interfaces.ErrConfiguration))
}

func TestCleanupQueueIdempotent(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch")
	writeFile(t, filepath.Join(scratch, "x", "y.txt"), "data")

	q := NewCleanupQueue(discardLogger())
	q.Defer(scratch)
	q.Defer(scratch)
	q.Defer("")
	q.Run()
	q.Run()
	assert.NoDirExists(t, scratch)
}

func mustSelfSigned(t *testing.T, cn string) []byte {
	t.Helper()
	certPEM, _, err := cryptoutils.SelfSignedPEM(cn, time.Hour)
	require.NoError(t, err)
	return certPEM
}
