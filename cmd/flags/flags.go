package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pvarki/takrmapi/api"
	"github.com/pvarki/takrmapi/common"
	"github.com/pvarki/takrmapi/config"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
		TrustClientDNHeader:      cCtx.Bool(TrustDNHeaderFlag.Name),
	}
}

// ApplySettings overrides the manifest-derived defaults with any flag or
// TI_* environment value that was set.
func ApplySettings(cCtx *cli.Context, s *config.Settings) {
	setString := func(f *cli.StringFlag, dst *string) {
		if cCtx.IsSet(f.Name) {
			*dst = cCtx.String(f.Name)
		}
	}
	setString(MissionTemplatesFlag, &s.MissionTemplatesFolder)
	setString(DatapackageTemplatesFlag, &s.DatapackageTemplatesFolder)
	setString(MissionAddonFlag, &s.MissionAddonFolder)
	setString(DatapackageAddonFlag, &s.DatapackageAddonFolder)
	setString(ViteAssetSetFlag, &s.ViteAssetSet)
	setString(CertsFolderFlag, &s.TakCertsFolder)
	setString(PersistentFolderFlag, &s.PersistentFolder)
	setString(ScriptsFolderFlag, &s.ScriptsFolder)
	setString(TakAPIHostFlag, &s.TakAPIHost)
	setString(ServerFQDNFlag, &s.ServerFQDN)
	setString(ServerNameFlag, &s.DeploymentName)
	setString(MeshKeyFileFlag, &s.NetworkMeshKeyFile)
	setString(LeCertChainFlag, &s.LeCertChainFile)

	if cCtx.IsSet(TakAPIPortFlag.Name) {
		s.TakAPIPort = cCtx.Int(TakAPIPortFlag.Name)
	}
	if cCtx.IsSet(EnabledMissionsFlag.Name) {
		s.EnabledMissionPackages = cCtx.StringSlice(EnabledMissionsFlag.Name)
	}
	if cCtx.IsSet(ServerFQDNFlag.Name) && s.ServerFQDN != "" {
		s.PublicURL = "https://" + s.ServerFQDN
	}

	if fqdn := cCtx.String(MTXFQDNFlag.Name); fqdn != "" {
		s.MTX = &config.MTXSettings{
			FQDN:             fqdn,
			SRTPort:          cCtx.Int(MTXSRTPortFlag.Name),
			ObserverPort:     cCtx.Int(MTXObserverPortFlag.Name),
			ObserverProto:    "srt",
			ObserverNetProto: "udp",
		}
	}
	if agAPI := cCtx.String(AirguardianAPIFlag.Name); agAPI != "" {
		s.Airguardian = &config.AirguardianSettings{API: agAPI}
	}
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"TI_LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}
var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "0.0.0.0:8003",
	Usage:   "address to listen on for API",
	EnvVars: []string{"TI_LISTEN_ADDR"},
}
var TrustDNHeaderFlag = &cli.BoolFlag{
	Name:    "trust-dn-header",
	Value:   false,
	Usage:   "take the client identity from the X-ClientCert-DN header set by the TLS terminating proxy",
	EnvVars: []string{"TI_TRUST_DN_HEADER"},
}

var ManifestFlag = &cli.StringFlag{
	Name:    "manifest",
	Value:   "/pvarki/kraftwerk-init.json",
	Usage:   "deployment manifest written by the orchestrator",
	EnvVars: []string{"TI_MANIFEST_PATH"},
}
var TemplatesPathFlag = &cli.StringFlag{
	Name:    "templates-path",
	Value:   "/opt/templates",
	Usage:   "root of the template trees",
	EnvVars: []string{"TI_TEMPLATES_PATH"},
}
var MissionTemplatesFlag = &cli.StringFlag{
	Name:    "missionpkg-templates",
	Usage:   "mission package template folder",
	EnvVars: []string{"TI_TAK_MISSIONPKG_TEMPLATES_FOLDER"},
}
var DatapackageTemplatesFlag = &cli.StringFlag{
	Name:    "datapackage-templates",
	Usage:   "datapackage template folder",
	EnvVars: []string{"TI_TAK_DATAPACKAGE_TEMPLATES_FOLDER"},
}
var MissionAddonFlag = &cli.StringFlag{
	Name:    "missionpkg-addon",
	Usage:   "mission package override folder name, 'default' or 'na' disables overrides",
	EnvVars: []string{"TI_TAK_MISSIONPKG_ADDON_FOLDER"},
}
var DatapackageAddonFlag = &cli.StringFlag{
	Name:    "datapackage-addon",
	Usage:   "datapackage override folder name, 'default' or 'na' disables overrides",
	EnvVars: []string{"TI_TAK_DATAPACKAGE_ADDON_FOLDER"},
}
var ViteAssetSetFlag = &cli.StringFlag{
	Name:    "vite-asset-set",
	Usage:   "vite asset set to provision with the default profile",
	EnvVars: []string{"TI_VITE_ASSET_SET"},
}
var EnabledMissionsFlag = &cli.StringSliceFlag{
	Name:    "mission-packages",
	Usage:   "mission package variants returned by the client data endpoint",
	EnvVars: []string{"TI_TAK_MISSIONPKG_ENABLED_PACKAGES"},
}
var CertsFolderFlag = &cli.StringFlag{
	Name:    "tak-certs-folder",
	Usage:   "TAK server certificate folder",
	EnvVars: []string{"TI_TAK_CERTS_FOLDER"},
}
var PersistentFolderFlag = &cli.StringFlag{
	Name:    "persistent-folder",
	Usage:   "persistent data folder shared with rmapi",
	EnvVars: []string{"TI_RMAPI_PERSISTENT_FOLDER"},
}
var ScriptsFolderFlag = &cli.StringFlag{
	Name:    "scripts-folder",
	Usage:   "folder holding the TAK user management scripts",
	EnvVars: []string{"TI_SCRIPTS_FOLDER"},
}
var TakAPIHostFlag = &cli.StringFlag{
	Name:    "tak-api-host",
	Usage:   "TAK management API scheme and host",
	EnvVars: []string{"TI_TAK_MESSAGING_API_HOST"},
}
var TakAPIPortFlag = &cli.IntFlag{
	Name:    "tak-api-port",
	Usage:   "TAK management API port",
	EnvVars: []string{"TI_TAK_MESSAGING_API_PORT"},
}
var ServerFQDNFlag = &cli.StringFlag{
	Name:    "tak-server-fqdn",
	Usage:   "public name of the TAK server, defaults to the manifest product DNS",
	EnvVars: []string{"TI_TAK_SERVER_FQDN"},
}
var ServerNameFlag = &cli.StringFlag{
	Name:    "tak-server-name",
	Usage:   "deployment name, defaults to the manifest deployment",
	EnvVars: []string{"TI_TAK_SERVER_NAME"},
}
var MeshKeyFileFlag = &cli.StringFlag{
	Name:    "mesh-key-file",
	Usage:   "network mesh key file",
	EnvVars: []string{"TI_TAK_SERVER_NETWORKMESH_KEY_FILE"},
}
var LeCertChainFlag = &cli.StringFlag{
	Name:    "le-cert-chain",
	Usage:   "public certificate chain placed into the CA trust store",
	EnvVars: []string{"TI_LE_CERT_CHAIN_FILE"},
}
var MTXFQDNFlag = &cli.StringFlag{
	Name:    "mtx-fqdn",
	Usage:   "MediaMTX server name, enables the mtx template values",
	EnvVars: []string{"TI_MTX_SERVER_FQDN"},
}
var MTXSRTPortFlag = &cli.IntFlag{
	Name:    "mtx-srt-port",
	Value:   8890,
	Usage:   "MediaMTX SRT port",
	EnvVars: []string{"TI_MTX_SRT_PORT"},
}
var MTXObserverPortFlag = &cli.IntFlag{
	Name:    "mtx-observer-port",
	Value:   8890,
	Usage:   "MediaMTX observer port",
	EnvVars: []string{"TI_MTX_OBSERVER_PORT"},
}
var AirguardianAPIFlag = &cli.StringFlag{
	Name:    "airguardian-api",
	Usage:   "Airguardian API base, enables the airguardian template values",
	EnvVars: []string{"TI_AIRGUARDIAN_API"},
}
var DynamicPackagesFlag = &cli.StringFlag{
	Name:    "dynamic-packages",
	Usage:   "YAML file describing integration packages, replaces the built-in table",
	EnvVars: []string{"TI_DYNAMIC_PACKAGES_FILE"},
}
var AuthorityCAFlag = &cli.StringFlag{
	Name:    "authority-ca",
	Usage:   "CA bundle used to verify the enrollment authority, system roots when empty",
	EnvVars: []string{"TI_RM_CA_FILE"},
}
var TemplateStoreFlag = &cli.StringSliceFlag{
	Name:    "template-store",
	Usage:   "file:// or s3:// location mirrored into the template overlay at startup",
	EnvVars: []string{"TI_TEMPLATE_STORES"},
}
var OverlayDirFlag = &cli.StringFlag{
	Name:    "overlay-dir",
	Usage:   "destination of the template overlay sync, defaults to the templates path",
	EnvVars: []string{"TI_TEMPLATE_OVERLAY_DIR"},
}
var VaultKeyFlag = &cli.StringFlag{
	Name:    "vault-key",
	Usage:   "vault://host/mount/path?field=key location of the ephemeral link key, TAKRMAPI_SECRET_KEY is used when empty",
	EnvVars: []string{"TI_VAULT_KEY_URI"},
}
var WorkersFlag = &cli.IntFlag{
	Name:  "workers",
	Value: 4,
	Usage: "concurrent package assembly workers",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var SettingsFlags = []cli.Flag{
	ManifestFlag,
	TemplatesPathFlag,
	MissionTemplatesFlag,
	DatapackageTemplatesFlag,
	MissionAddonFlag,
	DatapackageAddonFlag,
	ViteAssetSetFlag,
	EnabledMissionsFlag,
	CertsFolderFlag,
	PersistentFolderFlag,
	ScriptsFolderFlag,
	TakAPIHostFlag,
	TakAPIPortFlag,
	ServerFQDNFlag,
	ServerNameFlag,
	MeshKeyFileFlag,
	LeCertChainFlag,
	MTXFQDNFlag,
	MTXSRTPortFlag,
	MTXObserverPortFlag,
	AirguardianAPIFlag,
	DynamicPackagesFlag,
}
