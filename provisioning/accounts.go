package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/cryptoutils"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/userdata"
	"golang.org/x/sync/errgroup"
)

// MTLSClientCallsign names the service's own TAK admin account.
const MTLSClientCallsign = "mtlsclient"

// Manager creates Accounts bound to the shared dependencies.
type Manager struct {
	settings  *config.Settings
	users     *userdata.Store
	authority interfaces.Authority
	scripts   interfaces.ScriptRunner
	log       *slog.Logger
}

func NewManager(settings *config.Settings, users *userdata.Store, authority interfaces.Authority, scripts interfaces.ScriptRunner, log *slog.Logger) *Manager {
	return &Manager{
		settings:  settings,
		users:     users,
		authority: authority,
		scripts:   scripts,
		log:       log,
	}
}

// Account is one TAK account and the certificate files backing it.
type Account struct {
	m        *Manager
	user     interfaces.User
	callsign string
	keypair  userdata.Keypair

	// userNames and adminNames are the cert file stems passed to the
	// scripts.
	userNames  []string
	adminNames []string

	// checkPath is the certificate validated before any script run.
	checkPath string

	// refresh rewrites the certificate files before validation, nil when
	// the files are managed elsewhere.
	refresh func(ctx context.Context) error

	log *slog.Logger
}

// User returns the account of an enrolled device user.
func (m *Manager) User(user interfaces.User) (*Account, error) {
	kp, err := m.users.For(user)
	if err != nil {
		return nil, err
	}
	a := &Account{
		m:          m,
		user:       user,
		callsign:   user.Callsign,
		keypair:    kp,
		userNames:  []string{user.Callsign, user.Callsign + "_rm"},
		adminNames: []string{user.Callsign, user.Callsign + "_rm"},
		checkPath:  filepath.Join(m.settings.TakCertsFolder, user.Callsign+".pem"),
		log:        m.log.With("callsign", user.Callsign),
	}
	a.refresh = a.writeUserCerts
	return a, nil
}

// MTLSClient returns the account of the service itself. Its certificate is
// installed by startup init and only the local certificate is made admin.
func (m *Manager) MTLSClient() *Account {
	return &Account{
		m:          m,
		callsign:   MTLSClientCallsign,
		userNames:  []string{MTLSClientCallsign, MTLSClientCallsign + "_rm"},
		adminNames: []string{MTLSClientCallsign},
		checkPath:  filepath.Join(m.settings.TakCertsFolder, MTLSClientCallsign+".pem"),
		log:        m.log.With("callsign", MTLSClientCallsign),
	}
}

// ProductCallsign maps a product certificate CN to a file-safe callsign.
func ProductCallsign(certCN string) string {
	return strings.ReplaceAll(certCN, ".", "_")
}

// Product returns the interop account for another integration identified
// by its certificate CN. x509cert uses the authority's escaped-newline
// convention and is written only if no certificate is on file yet; pass an
// empty string to look up an existing product.
func (m *Manager) Product(certCN, x509cert string) (*Account, error) {
	callsign := ProductCallsign(certCN)
	if callsign == "" || filepath.Base(callsign) != callsign {
		return nil, fmt.Errorf("invalid product CN %q: %w", certCN, interfaces.ErrNotFound)
	}

	a := &Account{
		m:          m,
		user:       interfaces.User{UUID: callsign, Callsign: callsign, X509Cert: x509cert},
		callsign:   callsign,
		userNames:  []string{callsign + "_rm"},
		adminNames: []string{callsign + "_rm"},
		checkPath:  filepath.Join(m.settings.TakCertsFolder, callsign+"_rm.pem"),
		log:        m.log.With("product", callsign),
	}

	if fileExists(a.checkPath) {
		return a, nil
	}
	if x509cert == "" {
		return nil, fmt.Errorf("certificate for %s: %w", callsign, interfaces.ErrNotFound)
	}
	if err := writeFileAtomic(a.checkPath, []byte(a.user.CertPEM()), 0o644); err != nil {
		return nil, err
	}
	return a, nil
}

// Callsign returns the account name.
func (a *Account) Callsign() string { return a.callsign }

// CertPath returns the certificate validated for this account.
func (a *Account) CertPath() string { return a.checkPath }

// Keypair returns the service-local keypair location of a device user.
func (a *Account) Keypair() userdata.Keypair { return a.keypair }

// CreateUserDirAndFiles generates the local keypair and has the authority
// sign it. The certificate is written last so a present certificate
// implies a usable key.
func (a *Account) CreateUserDirAndFiles(ctx context.Context) error {
	if err := os.MkdirAll(a.keypair.Dir, 0o700); err != nil {
		return err
	}

	a.log.Info("Creating TAK specific keypair", "key", a.keypair.KeyPath())
	keyPEM, csrPEM, err := cryptoutils.CreateCSRWithRandomKey(a.callsign)
	if err != nil {
		return fmt.Errorf("creating CSR: %w", err)
	}
	if err := writeFileAtomic(a.keypair.KeyPath(), keyPEM, 0o600); err != nil {
		return err
	}
	if err := writeFileAtomic(a.keypair.CSRPath(), csrPEM, 0o644); err != nil {
		return err
	}

	certPEM, err := a.m.authority.SignCSR(ctx, csrPEM)
	if err != nil {
		return fmt.Errorf("signing CSR for %s: %w", a.callsign, err)
	}
	if err := cryptoutils.VerifyCertificate(keyPEM, certPEM, a.callsign); err != nil {
		return fmt.Errorf("%w: authority returned unusable certificate: %v", interfaces.ErrUpstream, err)
	}
	if err := writeFileAtomic(a.keypair.CertPath(), certPEM, 0o644); err != nil {
		return err
	}
	a.log.Info("Signed cert written", "path", a.keypair.CertPath())
	return nil
}

// writeUserCerts copies the local certificate and the authority-issued
// device certificate into the TAK certs folder.
func (a *Account) writeUserCerts(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, a.m.settings.KeypairTimeout)
	defer cancel()
	if err := a.m.users.WaitForKeypair(waitCtx, a.keypair); err != nil {
		return err
	}

	local, err := a.keypair.CertPEM()
	if err != nil {
		return err
	}
	certs := a.m.settings.TakCertsFolder
	if err := writeFileAtomic(filepath.Join(certs, a.callsign+".pem"), append(local, '\n'), 0o644); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(certs, a.callsign+"_rm.pem"), []byte(a.user.CertPEM()+"\n"), 0o644)
}

// Validate refreshes the certificate files and checks the account's
// certificate parses.
func (a *Account) Validate(ctx context.Context) bool {
	if a.refresh != nil {
		if err := a.refresh(ctx); err != nil {
			a.log.Warn("User certificate check failed", "err", err)
			return false
		}
	}

	data, err := os.ReadFile(a.checkPath)
	if err != nil {
		a.log.Warn("User certificate check failed", "err", err)
		return false
	}
	if _, err := cryptoutils.ParseCertificatePEM(data); err != nil {
		a.log.Warn("User certificate check failed", "err", err)
		return false
	}
	return true
}

// EnableUser registers every certificate of the account as a TAK user.
func (a *Account) EnableUser(ctx context.Context) bool {
	return a.runForAll(ctx, EnableUserScript, UserCertEnv, a.userNames)
}

// EnableAdmin registers the account's certificates as TAK administrators.
func (a *Account) EnableAdmin(ctx context.Context) bool {
	return a.runForAll(ctx, EnableAdminScript, AdminCertEnv, a.adminNames)
}

// DeleteUser removes the account's certificates from TAK.
func (a *Account) DeleteUser(ctx context.Context) bool {
	return a.runForAll(ctx, DeleteUserScript, UserCertEnv, a.userNames)
}

func (a *Account) runForAll(ctx context.Context, script, envVar string, names []string) bool {
	if !a.Validate(ctx) {
		a.log.Error("TAK certs not valid", "script", script)
		return false
	}

	codes := make([]int, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			code, err := a.m.scripts.Run(ctx, script, map[string]string{envVar: name})
			codes[i] = code
			return err
		})
	}
	if err := g.Wait(); err != nil {
		a.log.Error("Shell command failed", "script", script, "err", err)
		return false
	}
	for _, code := range codes {
		if code != 0 {
			return false
		}
	}
	return true
}

// AddNewUser creates the local keypair and registers the user.
func (a *Account) AddNewUser(ctx context.Context) (bool, error) {
	if err := a.CreateUserDirAndFiles(ctx); err != nil {
		return false, err
	}
	if !a.Validate(ctx) {
		return false, nil
	}
	return a.EnableUser(ctx), nil
}

// RevokeUser revokes the local certificate at the authority and removes the
// user from TAK.
func (a *Account) RevokeUser(ctx context.Context) (bool, error) {
	if !a.Validate(ctx) {
		return false, nil
	}

	certPEM, err := a.keypair.CertPEM()
	if err != nil {
		return false, err
	}
	if err := a.m.authority.Revoke(ctx, certPEM); err != nil {
		return false, fmt.Errorf("revoking %s: %w", a.callsign, err)
	}

	a.DeleteUser(ctx)

	err = os.Remove(filepath.Join(a.m.settings.TakCertsFolder, a.callsign+".pem"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, nil
}

// ensure validates the account, creating it first when needed.
func (a *Account) ensure(ctx context.Context) (bool, error) {
	if a.Validate(ctx) {
		return true, nil
	}
	if _, err := a.AddNewUser(ctx); err != nil {
		return false, err
	}
	if !a.Validate(ctx) {
		a.log.Error("User still does not have a valid cert")
		return false, nil
	}
	return true, nil
}

// PromoteUser grants TAK admin rights.
func (a *Account) PromoteUser(ctx context.Context) (bool, error) {
	ok, err := a.ensure(ctx)
	if !ok || err != nil {
		return false, err
	}
	return a.EnableAdmin(ctx), nil
}

// DemoteUser recreates the TAK user without admin rights.
func (a *Account) DemoteUser(ctx context.Context) (bool, error) {
	ok, err := a.ensure(ctx)
	if !ok || err != nil {
		return false, err
	}
	if !a.DeleteUser(ctx) {
		return false, nil
	}
	return a.EnableUser(ctx), nil
}

// UpdateUser re-registers the user's current certificates.
func (a *Account) UpdateUser(ctx context.Context) (bool, error) {
	ok, err := a.ensure(ctx)
	if !ok || err != nil {
		return false, err
	}
	return a.EnableUser(ctx), nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func writeFileAtomic(dst string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
