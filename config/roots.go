package config

import (
	"fmt"
	"path/filepath"
)

// PackageType selects which template root pair a package request resolves against.
type PackageType string

const (
	PackageClient      PackageType = "client"
	PackageEnvironment PackageType = "environment"
	PackageMission     PackageType = "mission"
	PackageVite        PackageType = "vite"
)

// ParsePackageType validates a type name from configuration or a request.
func ParsePackageType(s string) (PackageType, error) {
	switch t := PackageType(s); t {
	case PackageClient, PackageEnvironment, PackageMission, PackageVite:
		return t, nil
	default:
		return "", fmt.Errorf("unknown package type %q", s)
	}
}

// Roots is the default and override directory for one package type.
// An empty Override means the type has no override tier.
type Roots struct {
	Default  string
	Override string
	Mission  bool
}

// PackageRoots maps every package type to its template roots.
func (s *Settings) PackageRoots() map[PackageType]Roots {
	dp := s.DatapackageTemplatesFolder
	roots := map[PackageType]Roots{
		PackageClient: {
			Default:  filepath.Join(dp, "default", "client-packages"),
			Override: overrideRoot(dp, s.DatapackageAddonFolder, "client-packages"),
		},
		PackageEnvironment: {
			Default:  filepath.Join(dp, "default", "environment-packages"),
			Override: overrideRoot(dp, s.DatapackageAddonFolder, "environment-packages"),
		},
		PackageMission: {
			Default:  filepath.Join(s.MissionTemplatesFolder, "default"),
			Override: overrideRoot(s.MissionTemplatesFolder, s.MissionAddonFolder, ""),
			Mission:  true,
		},
		PackageVite: {
			Default: filepath.Join(s.ViteAssetTemplatesFolder, s.ViteAssetSet),
		},
	}
	return roots
}

// GeneralPackagesFolder holds integration plugins outside the two-tier layout.
func (s *Settings) GeneralPackagesFolder() string {
	return filepath.Join(s.DatapackageTemplatesFolder, "general")
}

// OverrideAvailable reports whether any addon folder is configured.
func (s *Settings) OverrideAvailable() bool {
	return addonEnabled(s.DatapackageAddonFolder) || addonEnabled(s.MissionAddonFolder)
}

func addonEnabled(addon string) bool {
	return addon != "" && addon != "default" && addon != "na"
}

func overrideRoot(base, addon, sub string) string {
	if !addonEnabled(addon) {
		return ""
	}
	return filepath.Join(base, addon, sub)
}
