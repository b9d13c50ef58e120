package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pvarki/takrmapi/api/clients"
	"github.com/pvarki/takrmapi/api/handlers"
	"github.com/pvarki/takrmapi/api/servers"
	"github.com/pvarki/takrmapi/cmd/flags"
	"github.com/pvarki/takrmapi/common"
	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/datapackage"
	"github.com/pvarki/takrmapi/ephemeral"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/provisioning"
	"github.com/pvarki/takrmapi/storage"
	"github.com/pvarki/takrmapi/takinit"
	"github.com/pvarki/takrmapi/userdata"
	"github.com/urfave/cli/v2"
)

var ServiceLogFlag = flags.LogServiceFlagFn(common.PackageName)

func main() {
	serverFlags := append([]cli.Flag{
		ServiceLogFlag,
		flags.ListenAddrFlag,
		flags.TrustDNHeaderFlag,
		flags.AuthorityCAFlag,
		flags.TemplateStoreFlag,
		flags.OverlayDirFlag,
		flags.VaultKeyFlag,
		flags.WorkersFlag,
	}, flags.SettingsFlags...)

	app := &cli.App{
		Name:  common.PackageName,
		Usage: "Serve TAK client packages and user provisioning for the deployment",
		Flags: append(serverFlags, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:  "genkey",
				Usage: "Print fresh key material for " + ephemeral.KeyEnvVar,
				Action: func(cCtx *cli.Context) error {
					key, err := ephemeral.GenerateKey()
					if err != nil {
						return err
					}
					fmt.Println(key)
					return nil
				},
			},
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	manifest, err := config.LoadManifest(cCtx.String(flags.ManifestFlag.Name), logger)
	if err != nil {
		logger.Error("Failed to load manifest", "err", err)
		return err
	}
	settings := config.NewSettings(cCtx.String(flags.TemplatesPathFlag.Name), manifest)
	flags.ApplySettings(cCtx, settings)

	clientCert, err := clients.LoadClientCertificate(settings.MTLSClientCert(), settings.MTLSClientKey())
	if err != nil {
		logger.Error("Failed to load mtls client identity", "err", err)
		return err
	}
	storageFactory := storage.NewStorageBackendFactory(logger).WithClientCertificate(clientCert)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	overlayDir := cCtx.String(flags.OverlayDirFlag.Name)
	if overlayDir == "" {
		overlayDir = settings.TemplatesPath
	}
	templateStore, err := createTemplateStore(ctx, cCtx.StringSlice(flags.TemplateStoreFlag.Name), storageFactory, overlayDir, logger)
	if err != nil {
		return err
	}

	keys, err := createKeyProvider(ctx, cCtx.String(flags.VaultKeyFlag.Name), storageFactory, logger)
	if err != nil {
		return err
	}
	codec := ephemeral.NewCodec(keys, logger)

	authorityHTTP, err := clients.NewAuthorityHTTPClient(clientCert, cCtx.String(flags.AuthorityCAFlag.Name))
	if err != nil {
		logger.Error("Failed to configure authority client", "err", err)
		return err
	}
	authority := clients.NewAuthorityClient(settings.RMMTLSBase, authorityHTTP, logger)
	tak := clients.NewTakClient(settings.TakBaseURL(), clients.NewTakHTTPClient(clientCert), logger)

	users := userdata.NewStore(settings.UsersFolder(), settings.KeypairPoll, logger)
	scripts := provisioning.NewScripts(settings.ScriptsFolder, settings.ShellTimeout, logger)
	accounts := provisioning.NewManager(settings, users, authority, scripts, logger)

	pool := datapackage.NewPool(cCtx.Int(flags.WorkersFlag.Name))
	locator := datapackage.NewLocator(settings.PackageRoots(), logger)
	manifestProcessor := datapackage.NewManifestProcessor(settings.LeCertChainFile, settings.TemplatesPath, settings.KeypairTimeout, users, pool, logger)
	assembler := datapackage.NewAssembler(settings, locator, &datapackage.Renderer{}, manifestProcessor, pool, logger)

	dynamic := datapackage.DefaultDynamicPackages()
	if path := cCtx.String(flags.DynamicPackagesFlag.Name); path != "" {
		dynamic, err = datapackage.LoadDynamicPackages(path)
		if err != nil {
			logger.Error("Failed to load dynamic packages", "path", path, "err", err)
			return err
		}
	}

	trustHeader := cCtx.Bool(flags.TrustDNHeaderFlag.Name)
	server, err := servers.New(flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name)),
		handlers.NewPackageHandler(settings, assembler, codec, trustHeader, logger),
		handlers.NewUserHandler(accounts, trustHeader, logger),
		handlers.NewInteropHandler(settings, accounts, trustHeader, logger),
		handlers.NewInfoHandler(settings, logger),
		handlers.NewAdminHandler(settings, templateStore, overlayDir, trustHeader, logger),
	)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	// Package routes need the mesh key, so readiness waits for init.
	server.SetReady(false)
	server.RunInBackground()

	initErr := make(chan error, 1)
	go func() {
		initializer := takinit.NewInitializer(settings, tak, accounts, assembler, dynamic, logger)
		if err := initializer.Run(ctx); err != nil {
			initErr <- err
			return
		}
		logger.Info("TAK init complete")
		server.SetReady(true)
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop", "listenAddr", cCtx.String(flags.ListenAddrFlag.Name))
	var runErr error
	select {
	case <-exit:
		logger.Info("Shutdown signal received")
	case runErr = <-initErr:
		logger.Error("TAK init failed", "err", runErr)
	}

	cancel()
	server.Shutdown()
	logger.Info("Server shutdown complete")
	return runErr
}

// createTemplateStore mirrors the configured stores into overlayDir once at
// startup. No locations means no store, and the admin sync route answers 404.
func createTemplateStore(ctx context.Context, uris []string, factory *storage.StorageBackendFactory, overlayDir string, logger *slog.Logger) (interfaces.TemplateStore, error) {
	if len(uris) == 0 {
		return nil, nil
	}

	locs := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			logger.Error("Invalid template store location", "uri", uri, "err", err)
			return nil, err
		}
		locs = append(locs, loc)
	}

	store, err := factory.CreateMultiStore(locs)
	if err != nil {
		logger.Error("Failed to create template store", "err", err)
		return nil, err
	}

	syncCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	n, err := storage.SyncOverlay(syncCtx, store, overlayDir, logger)
	if err != nil {
		// Templates shipped in the image still work.
		logger.Warn("Initial template overlay sync failed", "store", store.Name(), "err", err)
		return store, nil
	}
	logger.Info("Template overlay synced", "store", store.Name(), "files", n, "dir", overlayDir)
	return store, nil
}

// createKeyProvider selects the link key source and verifies it yields a
// usable key before the server accepts requests.
func createKeyProvider(ctx context.Context, vaultURI string, factory *storage.StorageBackendFactory, logger *slog.Logger) (*ephemeral.KeyProvider, error) {
	var source ephemeral.KeySource = ephemeral.EnvSource{}
	if vaultURI != "" {
		loc, err := interfaces.NewStorageBackendLocation(vaultURI)
		if err != nil {
			logger.Error("Invalid vault key location", "err", err)
			return nil, err
		}
		vault, err := factory.VaultSourceFor(loc)
		if err != nil {
			logger.Error("Failed to create vault key source", "err", err)
			return nil, err
		}
		source = vault
	}

	keys := ephemeral.NewKeyProvider(source, logger)
	if _, err := keys.Key(ctx); err != nil {
		if errors.Is(err, interfaces.ErrKeyUnset) {
			logger.Error("Ephemeral link key is not set, generate one with 'genkey'", "env", ephemeral.KeyEnvVar)
		} else {
			logger.Error("Failed to load ephemeral link key", "err", err)
		}
		return nil, err
	}
	return keys, nil
}
