package datapackage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/cryptoutils"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/userdata"
	"github.com/stretchr/testify/require"
)

var testUser = interfaces.User{UUID: "1234abcd", Callsign: "N0CALL"}

type fixture struct {
	root     string
	settings *config.Settings
	users    *userdata.Store
	locator  *Locator
	asm      *Assembler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	s := config.NewSettings(filepath.Join(root, "templates"), config.DummyManifest())
	s.DatapackageAddonFolder = "site"
	s.MissionAddonFolder = "site"
	s.PersistentFolder = filepath.Join(root, "persistent")
	s.LeCertChainFile = filepath.Join(root, "fullchain.pem")
	s.KeypairTimeout = 3 * time.Second
	s.KeypairPoll = 10 * time.Millisecond
	s.SetNetworkMeshKey("MESHKEY")

	chain, _, err := cryptoutils.SelfSignedPEM("tak.localmaeher.dev.pvarki.fi", time.Hour)
	require.NoError(t, err)
	writeFile(t, s.LeCertChainFile, string(chain))

	log := discardLogger()
	users := userdata.NewStore(s.UsersFolder(), s.KeypairPoll, log)
	pool := NewPool(2)
	mp := NewManifestProcessor(s.LeCertChainFile, s.TemplatesPath, s.KeypairTimeout, users, pool, log)
	locator := NewLocator(s.PackageRoots(), log)

	return &fixture{
		root:     root,
		settings: s,
		users:    users,
		locator:  locator,
		asm:      NewAssembler(s, locator, &Renderer{}, mp, pool, log),
	}
}

func (f *fixture) defaultRoot(pt config.PackageType) string {
	return f.settings.PackageRoots()[pt].Default
}

func (f *fixture) overrideRoot(pt config.PackageType) string {
	return f.settings.PackageRoots()[pt].Override
}

// writeKeypair issues a self-signed identity for the test user.
func (f *fixture) writeKeypair(t *testing.T) {
	t.Helper()
	kp, err := f.users.For(testUser)
	require.NoError(t, err)
	certPEM, keyPEM, err := cryptoutils.SelfSignedPEM(testUser.Callsign, time.Hour)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(kp.Dir, 0o755))
	require.NoError(t, os.WriteFile(kp.KeyPath(), keyPEM, 0o600))
	require.NoError(t, os.WriteFile(kp.CertPath(), certPEM, 0o644))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// readZip returns member name to content.
func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = data
	}
	return out
}

func zipMemberOrder(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func contentHashes(members map[string][]byte) map[string]string {
	out := make(map[string]string, len(members))
	for name, data := range members {
		sum := sha256.Sum256(data)
		out[name] = hex.EncodeToString(sum[:])
	}
	return out
}
