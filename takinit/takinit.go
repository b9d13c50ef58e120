package takinit

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pvarki/takrmapi/api/clients"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/datapackage"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/provisioning"
)

const (
	DefaultProfileName = "Default-ATAK"
	ReconMissionName   = "RECON"

	meshKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	meshKeyLength   = 64
)

// ErrLocked is returned when another process holds the init lock until the
// context is done.
var ErrLocked = errors.New("tak init lock held by another process")

type readyWaiter interface {
	WaitReady(ctx context.Context, attempts int, interval time.Duration) error
}

// Initializer runs the startup sequence.
type Initializer struct {
	settings  *config.Settings
	tak       interfaces.TakAPI
	accounts  *provisioning.Manager
	assembler *datapackage.Assembler
	dynamic   []datapackage.DynamicPackage
	log       *slog.Logger

	LockPath      string
	ReadyAttempts int
	ReadyInterval time.Duration
}

func NewInitializer(settings *config.Settings, tak interfaces.TakAPI, accounts *provisioning.Manager, assembler *datapackage.Assembler, dynamic []datapackage.DynamicPackage, log *slog.Logger) *Initializer {
	return &Initializer{
		settings:      settings,
		tak:           tak,
		accounts:      accounts,
		assembler:     assembler,
		dynamic:       dynamic,
		log:           log,
		LockPath:      filepath.Join(settings.PersistentFolder, "takinit.lock"),
		ReadyAttempts: 60,
		ReadyInterval: 5 * time.Second,
	}
}

// Run executes every init step under the file lock.
func (i *Initializer) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(i.LockPath), 0o755); err != nil {
		return err
	}
	lock := flock.New(i.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		i.log.Warn("Init lock held by another process, leaving init to them", "path", i.LockPath)
		return i.waitForOther(ctx, lock)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			i.log.Warn("Failed to release init lock", "err", err)
		}
	}()

	if err := i.SetupManagementConnection(ctx); err != nil {
		return err
	}
	if err := i.SetupMeshKey(); err != nil {
		return err
	}
	i.SetupDefaultMissions(ctx)
	i.SetupDefaultProfiles(ctx)
	if err := i.SetupProfileFiles(ctx); err != nil {
		return err
	}
	i.log.Info("TAK defaults in place")
	return nil
}

// waitForOther blocks until the lock holder finishes and then picks up the
// mesh key it created.
func (i *Initializer) waitForOther(ctx context.Context, lock *flock.Flock) error {
	locked, err := lock.TryLockContext(ctx, 2*time.Second)
	if err != nil || !locked {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	if err := lock.Unlock(); err != nil {
		i.log.Warn("Failed to release init lock", "err", err)
	}
	return LoadMeshKey(i.settings)
}

// SetupManagementConnection waits for the API, installs the service
// certificate and makes it admin when TAK has no users yet.
func (i *Initializer) SetupManagementConnection(ctx context.Context) error {
	if w, ok := i.tak.(readyWaiter); ok {
		if err := w.WaitReady(ctx, i.ReadyAttempts, i.ReadyInterval); err != nil {
			return err
		}
	}

	dst := filepath.Join(i.settings.TakCertsFolder, provisioning.MTLSClientCallsign+".pem")
	if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
		data, err := os.ReadFile(i.settings.MTLSClientCert())
		if err != nil {
			return fmt.Errorf("reading service certificate: %w", err)
		}
		if err := os.MkdirAll(i.settings.TakCertsFolder, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
		i.log.Info("Installed mtlsclient certificate", "path", dst)
	} else {
		i.log.Info("mtlsclient cert already in place")
	}

	users := i.tak.ListUsers(ctx)
	if isEmpty(users.Data) {
		i.log.Info("Adding mtlsclient as administrator to TAK")
		if !i.accounts.MTLSClient().EnableAdmin(ctx) {
			return fmt.Errorf("%w: enabling mtlsclient as admin failed", interfaces.ErrUpstream)
		}
	} else {
		i.log.Info("Got user list, mtlsclient cert already added as admin")
	}
	return nil
}

// GenerateMeshKey returns a random key of upper case letters and digits.
func GenerateMeshKey() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(meshKeyAlphabet)))
	for c := 0; c < meshKeyLength; c++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(meshKeyAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// SetupMeshKey creates the mesh key file when missing and loads it into
// the settings.
func (i *Initializer) SetupMeshKey() error {
	path := i.settings.NetworkMeshKeyFile
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		key, err := GenerateMeshKey()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
			return err
		}
		i.log.Info("Created network mesh key", "path", path)
	}
	return LoadMeshKey(i.settings)
}

// LoadMeshKey reads the mesh key file into the settings.
func LoadMeshKey(s *config.Settings) error {
	data, err := os.ReadFile(s.NetworkMeshKeyFile)
	if err != nil {
		return fmt.Errorf("reading network mesh key: %w", err)
	}
	s.SetNetworkMeshKey(strings.TrimSpace(string(data)))
	return nil
}

// WaitMeshKey polls until the mesh key file exists and loads it.
func WaitMeshKey(ctx context.Context, s *config.Settings, poll time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(s.NetworkMeshKeyFile); err == nil {
			return LoadMeshKey(s)
		}
		log.Debug("Waiting for network mesh key file", "path", s.NetworkMeshKeyFile)
		select {
		case <-ctx.Done():
			return fmt.Errorf("network mesh key: %w", interfaces.ErrTimeout)
		case <-ticker.C:
		}
	}
}

// SetupDefaultMissions creates the RECON mission and its keyword.
func (i *Initializer) SetupDefaultMissions(ctx context.Context) {
	current := i.tak.GetMission(ctx, ReconMissionName)
	if current.Status == 200 && !isEmpty(current.Data) {
		i.log.Info("RECON mission already in place")
		return
	}

	added := i.tak.PutMission(ctx, ReconMissionName, "Recon feed for validated information", "MISSION_SUBSCRIBER")
	if isEmpty(added.Data) {
		i.log.Error("Unable to add RECON mission, check TAK API logs")
		return
	}

	if kw := i.tak.PutMissionKeywords(ctx, ReconMissionName, []string{"#RECON"}); !kw.Success {
		i.log.Error("Unable to add keywords to RECON mission, check TAK API logs")
	}
}

// SetupDefaultProfiles creates the Default-ATAK connection profile.
func (i *Initializer) SetupDefaultProfiles(ctx context.Context) {
	current := i.tak.GetDeviceProfile(ctx, DefaultProfileName)
	if !clients.ProfileNotFound(current) {
		return
	}

	i.log.Info("Default-ATAK profile missing, adding profile")
	groups := []string{"default"}
	i.tak.AddDeviceProfile(ctx, DefaultProfileName, groups)
	res := i.tak.UpdateDeviceProfile(ctx, DefaultProfileName, interfaces.DeviceProfile{
		Active:            true,
		ApplyOnConnect:    true,
		ApplyOnEnrollment: false,
		Type:              "Connection",
		Groups:            groups,
	})
	if !res.Success {
		i.log.Error("Unable to update Default-ATAK profile")
	}
}

// profileUser stands in for a device user when rendering environment
// packages shared by every device.
func profileUser() interfaces.User {
	return interfaces.User{UUID: "not_needed", Callsign: provisioning.MTLSClientCallsign}
}

// SetupProfileFiles uploads the default profile files, then every bundle
// (vite assets, enabled integrations, default bundles) that the profile
// does not have yet.
func (i *Initializer) SetupProfileFiles(ctx context.Context) error {
	existing := i.tak.GetDeviceProfileFiles(ctx, DefaultProfileName)
	user := profileUser()
	locator := i.assembler.Locator()

	for _, rel := range i.settings.DefaultProfileFiles {
		req := datapackage.DataPackageRequest{TemplatePath: rel, Type: config.PackageEnvironment}
		p, err := locator.Locate(req)
		if err != nil {
			i.log.Error("Default profile file unavailable", "file", rel, "err", err)
			continue
		}
		if clients.FileInProfile(existing, p.UploadName()) {
			i.log.Info("File is already attached to profile", "file", p.UploadName())
			continue
		}
		if err := i.uploadFile(ctx, p, user); err != nil {
			i.log.Error("Profile file upload failed", "file", rel, "err", err)
		}
	}

	var reqs []datapackage.DataPackageRequest
	vite, err := datapackage.ViteRequests(i.settings, i.log)
	if err != nil {
		return err
	}
	reqs = append(reqs, vite...)
	reqs = append(reqs, datapackage.DynamicRequests(i.dynamic, i.settings, "")...)
	for _, b := range i.settings.DefaultProfileBundles {
		reqs = append(reqs, datapackage.DataPackageRequest{TemplatePath: b, Type: config.PackageEnvironment})
	}

	var pending []datapackage.DataPackageRequest
	for _, req := range reqs {
		p, err := locator.Locate(req)
		if err != nil {
			i.log.Error("Profile bundle unavailable", "bundle", req.TemplatePath, "err", err)
			continue
		}
		if clients.FileInProfile(existing, p.UploadName()) {
			i.log.Info("Bundle is already attached to profile", "bundle", p.UploadName())
			continue
		}
		pending = append(pending, req)
	}
	if len(pending) == 0 {
		return nil
	}

	cleanup := datapackage.NewCleanupQueue(i.log)
	defer cleanup.Run()

	pkgs, err := i.assembler.AssembleEach(ctx, pending, user)
	cleanup.DeferPackages(pkgs...)
	if err != nil {
		i.log.Error("Some profile bundles failed to assemble", "err", err)
	}

	for _, p := range pkgs {
		if !p.AssemblyComplete {
			continue
		}
		f, err := os.Open(p.ZipPath)
		if err != nil {
			i.log.Error("Bundle zip missing", "bundle", p.Name(), "err", err)
			continue
		}
		res := i.tak.UploadProfileFile(ctx, DefaultProfileName, p.UploadName(), f)
		f.Close()
		if !res.Success {
			i.log.Error("Bundle upload failed", "bundle", p.UploadName())
		}
	}
	return nil
}

func (i *Initializer) uploadFile(ctx context.Context, p *datapackage.ResolvedPackage, user interfaces.User) error {
	if p.IsBundle {
		return fmt.Errorf("%s is a bundle: %w", p.Name(), interfaces.ErrConfiguration)
	}

	var res interfaces.Result
	if p.IsTemplate() {
		rendered, err := i.assembler.RenderSingle(ctx, p.Request, user)
		if err != nil {
			return err
		}
		res = i.tak.UploadProfileFile(ctx, DefaultProfileName, p.UploadName(), bytes.NewReader(rendered.Rendered))
	} else {
		f, err := os.Open(p.SourceFile())
		if err != nil {
			return err
		}
		defer f.Close()
		res = i.tak.UploadProfileFile(ctx, DefaultProfileName, p.UploadName(), f)
	}
	if !res.Success {
		return fmt.Errorf("%w: upload of %s", interfaces.ErrUpstream, p.UploadName())
	}
	return nil
}

func isEmpty(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case string:
		return v == ""
	default:
		return false
	}
}
