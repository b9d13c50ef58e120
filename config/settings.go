package config

import (
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/atomic"
)

// Settings holds every deployment-specific value the service needs.
type Settings struct {
	// TemplatesPath is the root of all bundled templates. CA certificates
	// found anywhere below it are added to the CA bundle.
	TemplatesPath string

	MissionTemplatesFolder     string
	DatapackageTemplatesFolder string
	MissionAddonFolder         string
	DatapackageAddonFolder     string

	ViteAssetTemplatesFolder string
	ViteAssetSet             string

	// Profile files and bundles uploaded to the Default-ATAK device
	// profile, relative to the environment package roots.
	DefaultProfileFiles   []string
	DefaultProfileBundles []string

	// EnabledMissionPackages are the mission package variants handed out by
	// the client data endpoint.
	EnabledMissionPackages []string

	TakCertsFolder   string
	PersistentFolder string
	ScriptsFolder    string

	TakAPIHost string
	TakAPIPort int

	ServerFQDN     string
	DeploymentName string

	// PublicURL is the externally reachable base of this API, used when
	// building ephemeral links.
	PublicURL string

	NetworkMeshKeyFile string

	// RMCN is the certificate CN of the enrollment authority.
	RMCN string
	// RMMTLSBase is the authority's mTLS base URI, with trailing slash.
	RMMTLSBase string

	// LeCertChainFile is the public server leaf chain placed first in the CA bundle.
	LeCertChainFile string

	MTX         *MTXSettings
	Airguardian *AirguardianSettings

	ShellTimeout   time.Duration
	KeypairTimeout time.Duration
	KeypairPoll    time.Duration

	meshKey atomic.String
}

// MTXSettings describes the optional media streaming server.
type MTXSettings struct {
	FQDN             string
	SRTPort          int
	ObserverPort     int
	ObserverProto    string
	ObserverNetProto string
}

// AirguardianSettings describes the optional airspace integration.
type AirguardianSettings struct {
	API string
}

// NewSettings returns settings with the defaults used by containerized
// deployments, with deployment names taken from the manifest.
func NewSettings(templatesPath string, m *Manifest) *Settings {
	s := &Settings{
		TemplatesPath:              templatesPath,
		MissionTemplatesFolder:     filepath.Join(templatesPath, "tak_missionpkg", "default"),
		DatapackageTemplatesFolder: filepath.Join(templatesPath, "tak_datapackage", "default"),
		MissionAddonFolder:         "default",
		DatapackageAddonFolder:     "default",
		ViteAssetTemplatesFolder:   filepath.Join(templatesPath, "tak_viteassets"),
		ViteAssetSet:               ViteAssetSetUnused,
		DefaultProfileFiles: []string{
			"ATAK-default-settings/TAK_defaults.pref",
			"ATAK-Toolbar/TeamMember_Toolbar.pref",
			"Update-Server/Update.pref.tpl",
			"Mesh-Encryption/Mesh-Encryption-key.pref.tpl",
		},
		DefaultProfileBundles:  []string{"Maps"},
		EnabledMissionPackages: []string{"atak", "itak", "tak-tracker"},
		TakCertsFolder:         "/opt/tak/data/certs/files",
		PersistentFolder:       "/data/persistent",
		ScriptsFolder:          "/opt/scripts",
		TakAPIHost:             "https://127.0.0.1",
		TakAPIPort:             8443,
		NetworkMeshKeyFile:     "/opt/tak/data/tak_server_networkmesh",
		LeCertChainFile:        "/le_certs/rasenmaeher/fullchain.pem",
		ShellTimeout:           5 * time.Second,
		KeypairTimeout:         5 * time.Second,
		KeypairPoll:            500 * time.Millisecond,
	}
	if m != nil {
		s.ServerFQDN = m.Product.DNS
		s.DeploymentName = m.Deployment
		s.RMCN = m.Rasenmaeher.CertCN
		s.RMMTLSBase = m.Rasenmaeher.MTLS.BaseURI
		if s.RMMTLSBase != "" && s.RMMTLSBase[len(s.RMMTLSBase)-1] != '/' {
			s.RMMTLSBase += "/"
		}
		if s.ServerFQDN != "" {
			s.PublicURL = "https://" + s.ServerFQDN
		}
	}
	return s
}

// ViteAssetSetUnused disables vite asset packages.
const ViteAssetSetUnused = "not_used_by_default"

// NetworkMeshKey returns the deployment-wide mesh key, empty until loaded.
func (s *Settings) NetworkMeshKey() string {
	return s.meshKey.Load()
}

func (s *Settings) SetNetworkMeshKey(key string) {
	s.meshKey.Store(key)
}

// TakBaseURL returns the management API base without trailing slash.
func (s *Settings) TakBaseURL() string {
	return s.TakAPIHost + ":" + strconv.Itoa(s.TakAPIPort)
}

// ViteEnabled reports whether a vite asset set is configured.
func (s *Settings) ViteEnabled() bool {
	return s.ViteAssetSet != "" && s.ViteAssetSet != ViteAssetSetUnused
}

// MTLSClientCert and MTLSClientKey locate the service's own client identity.
func (s *Settings) MTLSClientCert() string {
	return filepath.Join(s.PersistentFolder, "public", "mtlsclient.pem")
}

func (s *Settings) MTLSClientKey() string {
	return filepath.Join(s.PersistentFolder, "private", "mtlsclient.key")
}

// UsersFolder is the per-user keypair storage root.
func (s *Settings) UsersFolder() string {
	return filepath.Join(s.PersistentFolder, "users")
}
