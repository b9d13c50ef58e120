package provisioning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/cryptoutils"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/userdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeAuthority struct {
	caCert, caKey []byte
	failSign      bool

	mu      sync.Mutex
	revoked [][]byte
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()
	cert, key, err := cryptoutils.SelfSignedPEM("test-ca", time.Hour)
	require.NoError(t, err)
	return &fakeAuthority{caCert: cert, caKey: key}
}

func (f *fakeAuthority) SignCSR(ctx context.Context, csrPEM []byte) ([]byte, error) {
	if f.failSign {
		return nil, interfaces.ErrUpstream
	}
	return cryptoutils.SignCSRPEM(csrPEM, f.caCert, f.caKey, time.Hour)
}

func (f *fakeAuthority) Revoke(ctx context.Context, certPEM []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, certPEM)
	return nil
}

type fixture struct {
	settings  *config.Settings
	authority *fakeAuthority
	scripts   *MockScriptRunner
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := config.NewSettings(filepath.Join(root, "templates"), nil)
	s.TakCertsFolder = filepath.Join(root, "certs")
	s.PersistentFolder = filepath.Join(root, "persistent")
	s.KeypairTimeout = 200 * time.Millisecond
	require.NoError(t, os.MkdirAll(s.TakCertsFolder, 0o755))

	f := &fixture{
		settings:  s,
		authority: newFakeAuthority(t),
		scripts:   &MockScriptRunner{},
	}
	users := userdata.NewStore(s.UsersFolder(), 10*time.Millisecond, log)
	f.manager = NewManager(s, users, f.authority, f.scripts, log)
	return f
}

func rmUser(t *testing.T, callsign string) interfaces.User {
	t.Helper()
	cert, _, err := cryptoutils.SelfSignedPEM(callsign, time.Hour)
	require.NoError(t, err)
	return interfaces.User{
		UUID:     "1234abcd-" + strings.ToLower(callsign),
		Callsign: callsign,
		X509Cert: strings.ReplaceAll(string(cert), "\n", `\n`),
	}
}

func (f *fixture) expect(script, env, name string, code int) {
	f.scripts.On("Run", mock.Anything, script, map[string]string{env: name}).Return(code, nil).Once()
}

func TestAddNewUser(t *testing.T) {
	f := newFixture(t)
	user := rmUser(t, "N0CALL")
	f.expect(EnableUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL_rm", 0)

	acc, err := f.manager.User(user)
	require.NoError(t, err)

	ok, err := acc.AddNewUser(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	f.scripts.AssertExpectations(t)

	assert.True(t, acc.Keypair().Exists())
	keyPEM, err := acc.Keypair().KeyPEM()
	require.NoError(t, err)
	certPEM, err := acc.Keypair().CertPEM()
	require.NoError(t, err)
	require.NoError(t, cryptoutils.VerifyCertificate(keyPEM, certPEM, "N0CALL"))

	local, err := os.ReadFile(filepath.Join(f.settings.TakCertsFolder, "N0CALL.pem"))
	require.NoError(t, err)
	assert.Equal(t, string(certPEM)+"\n", string(local))

	rm, err := os.ReadFile(filepath.Join(f.settings.TakCertsFolder, "N0CALL_rm.pem"))
	require.NoError(t, err)
	assert.Equal(t, user.CertPEM()+"\n", string(rm))
	assert.NotContains(t, string(rm), `\n`)

	st, err := os.Stat(acc.Keypair().KeyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestAddNewUserScriptFailure(t *testing.T) {
	f := newFixture(t)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL_rm", 1)

	acc, err := f.manager.User(rmUser(t, "N0CALL"))
	require.NoError(t, err)

	ok, err := acc.AddNewUser(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddNewUserAuthorityFailure(t *testing.T) {
	f := newFixture(t)
	f.authority.failSign = true

	acc, err := f.manager.User(rmUser(t, "N0CALL"))
	require.NoError(t, err)

	_, err = acc.AddNewUser(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrUpstream)
	f.scripts.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestUserRejectsPathElements(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.User(interfaces.User{UUID: "../x", Callsign: "N0CALL"})
	assert.Error(t, err)
	_, err = f.manager.User(interfaces.User{UUID: "u", Callsign: "a/b"})
	assert.Error(t, err)
}

func TestRevokeUser(t *testing.T) {
	f := newFixture(t)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL_rm", 0)
	f.expect(DeleteUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(DeleteUserScript, UserCertEnv, "N0CALL_rm", 0)

	acc, err := f.manager.User(rmUser(t, "N0CALL"))
	require.NoError(t, err)
	_, err = acc.AddNewUser(context.Background())
	require.NoError(t, err)

	ok, err := acc.RevokeUser(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	f.scripts.AssertExpectations(t)

	local, err := acc.Keypair().CertPEM()
	require.NoError(t, err)
	require.Len(t, f.authority.revoked, 1)
	assert.Equal(t, local, f.authority.revoked[0])

	_, err = os.Stat(filepath.Join(f.settings.TakCertsFolder, "N0CALL.pem"))
	assert.True(t, os.IsNotExist(err))
}

func TestRevokeUnknownUser(t *testing.T) {
	f := newFixture(t)
	acc, err := f.manager.User(rmUser(t, "GHOST"))
	require.NoError(t, err)

	start := time.Now()
	ok, err := acc.RevokeUser(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second, "keypair wait is bounded")
	assert.Empty(t, f.authority.revoked)
}

func TestPromoteCreatesMissingUser(t *testing.T) {
	f := newFixture(t)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL_rm", 0)
	f.expect(EnableAdminScript, AdminCertEnv, "N0CALL", 0)
	f.expect(EnableAdminScript, AdminCertEnv, "N0CALL_rm", 0)

	acc, err := f.manager.User(rmUser(t, "N0CALL"))
	require.NoError(t, err)

	ok, err := acc.PromoteUser(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	f.scripts.AssertExpectations(t)
}

func TestDemoteAndUpdate(t *testing.T) {
	f := newFixture(t)
	user := rmUser(t, "N0CALL")
	acc, err := f.manager.User(user)
	require.NoError(t, err)
	require.NoError(t, acc.CreateUserDirAndFiles(context.Background()))

	f.expect(DeleteUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(DeleteUserScript, UserCertEnv, "N0CALL_rm", 0)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL_rm", 0)

	ok, err := acc.DemoteUser(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	f.scripts.AssertExpectations(t)

	f.expect(EnableUserScript, UserCertEnv, "N0CALL", 0)
	f.expect(EnableUserScript, UserCertEnv, "N0CALL_rm", 0)
	ok, err = acc.UpdateUser(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	f.scripts.AssertExpectations(t)
}

func TestMTLSClientAdminSkipsRMCert(t *testing.T) {
	f := newFixture(t)
	cert, _, err := cryptoutils.SelfSignedPEM(MTLSClientCallsign, time.Hour)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.settings.TakCertsFolder, "mtlsclient.pem"), cert, 0o644))

	f.expect(EnableAdminScript, AdminCertEnv, "mtlsclient", 0)

	assert.True(t, f.manager.MTLSClient().EnableAdmin(context.Background()))
	f.scripts.AssertExpectations(t)
	f.scripts.AssertNumberOfCalls(t, "Run", 1)
}

func TestProductAccount(t *testing.T) {
	f := newFixture(t)
	product := rmUser(t, "tak.example.com")

	_, err := f.manager.Product("tak.example.com", "")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	acc, err := f.manager.Product("tak.example.com", product.X509Cert)
	require.NoError(t, err)
	assert.Equal(t, "tak_example_com", acc.Callsign())
	assert.Equal(t, filepath.Join(f.settings.TakCertsFolder, "tak_example_com_rm.pem"), acc.CertPath())

	f.expect(EnableAdminScript, AdminCertEnv, "tak_example_com_rm", 0)
	assert.True(t, acc.EnableAdmin(context.Background()))
	f.scripts.AssertExpectations(t)

	again, err := f.manager.Product("tak.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, acc.CertPath(), again.CertPath())

	f.expect(EnableAdminScript, AdminCertEnv, "tak_example_com_rm", 2)
	assert.False(t, again.EnableAdmin(context.Background()))
}

func TestProductRejectsTraversal(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Product("../../etc", "x")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func TestScriptsRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	writeScript(t, dir, EnableUserScript, `echo "$USER_CERT_NAME" > `+out)
	writeScript(t, dir, DeleteUserScript, `exit 3`)
	writeScript(t, dir, EnableAdminScript, `exec sleep 5`)

	s := NewScripts(dir, 300*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	code, err := s.Run(context.Background(), EnableUserScript, map[string]string{UserCertEnv: "N0CALL_rm"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "N0CALL_rm\n", string(got))

	code, err = s.Run(context.Background(), DeleteUserScript, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	start := time.Now()
	_, err = s.Run(context.Background(), EnableAdminScript, nil)
	assert.ErrorIs(t, err, interfaces.ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)

	_, err = s.Run(context.Background(), "missing.sh", nil)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, interfaces.ErrTimeout))
}

func TestScriptsIgnoreCallerCancellation(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "done")
	writeScript(t, dir, EnableUserScript, `sleep 0.2; touch `+out)

	s := NewScripts(dir, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, err := s.Run(ctx, EnableUserScript, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	_, err = os.Stat(out)
	assert.NoError(t, err)
}
