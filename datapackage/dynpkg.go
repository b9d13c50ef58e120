package datapackage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pvarki/takrmapi/config"
	"gopkg.in/yaml.v3"
)

// Integrations a dynamic package may depend on.
const (
	RequiresMTX         = "mtx"
	RequiresAirguardian = "airguardian"
	RequiresNever       = "never"
)

// DynamicPackage is an extra package delivered only when the integration
// it depends on is configured in this deployment.
type DynamicPackage struct {
	Name string `yaml:"name"`
	// Path is relative to the general packages folder unless absolute.
	Path     string             `yaml:"path"`
	Type     config.PackageType `yaml:"type"`
	Requires string             `yaml:"requires"`
}

type dynamicPackageFile struct {
	Packages []DynamicPackage `yaml:"packages"`
}

// DefaultDynamicPackages is the built-in table used when no file is configured.
func DefaultDynamicPackages() []DynamicPackage {
	return []DynamicPackage{
		{Name: "mtx", Path: "Plugins/UAStool-Streaming", Type: config.PackageClient, Requires: RequiresMTX},
		{Name: "airguardian", Path: "Plugins/Airguardian", Type: config.PackageEnvironment, Requires: RequiresAirguardian},
		{Name: "battlelog-mock", Path: "Plugins/Battlelog-mock", Type: config.PackageClient, Requires: RequiresNever},
	}
}

// LoadDynamicPackages reads a YAML package table:
//
//	packages:
//	  - name: mtx
//	    path: Plugins/UAStool-Streaming
//	    type: client
//	    requires: mtx
func LoadDynamicPackages(path string) ([]DynamicPackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dynamic packages: %w", err)
	}

	var f dynamicPackageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing dynamic packages %s: %w", path, err)
	}

	for i, p := range f.Packages {
		if p.Name == "" || p.Path == "" {
			return nil, fmt.Errorf("dynamic package %d: name and path are required", i)
		}
		if _, err := config.ParsePackageType(string(p.Type)); err != nil {
			return nil, fmt.Errorf("dynamic package %s: %w", p.Name, err)
		}
	}
	return f.Packages, nil
}

// Enabled reports whether the package's integration is configured.
func (p DynamicPackage) Enabled(s *config.Settings) bool {
	switch p.Requires {
	case "":
		return true
	case RequiresMTX:
		return s.MTX != nil
	case RequiresAirguardian:
		return s.Airguardian != nil
	default:
		return false
	}
}

// DynamicRequests returns requests for the enabled packages of pkgType,
// or of every type when pkgType is empty.
func DynamicRequests(pkgs []DynamicPackage, s *config.Settings, pkgType config.PackageType) []DataPackageRequest {
	var reqs []DataPackageRequest
	for _, p := range pkgs {
		if !p.Enabled(s) || (pkgType != "" && p.Type != pkgType) {
			continue
		}
		path := p.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.GeneralPackagesFolder(), path)
		}
		reqs = append(reqs, DataPackageRequest{TemplatePath: path, Type: p.Type})
	}
	return reqs
}
