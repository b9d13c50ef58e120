package datapackage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/interfaces"
)

// Locator resolves package requests against the template roots.
type Locator struct {
	roots map[config.PackageType]config.Roots
	log   *slog.Logger
}

func NewLocator(roots map[config.PackageType]config.Roots, log *slog.Logger) *Locator {
	return &Locator{roots: roots, log: log}
}

// Paths computes the default and override paths for a request without
// touching the filesystem. Override is empty when the type has no
// override tier.
func (l *Locator) Paths(req DataPackageRequest) (defaultPath, overridePath string, mission bool, err error) {
	roots, ok := l.roots[req.Type]
	if !ok {
		return "", "", false, fmt.Errorf("package type %q: %w", req.Type, interfaces.ErrNotFound)
	}

	if filepath.IsAbs(req.TemplatePath) {
		return filepath.Clean(req.TemplatePath), "", roots.Mission, nil
	}
	if !filepath.IsLocal(req.TemplatePath) {
		return "", "", false, fmt.Errorf("template path %q: %w", req.TemplatePath, interfaces.ErrNotFound)
	}

	defaultPath = filepath.Join(roots.Default, req.TemplatePath)
	if roots.Override != "" {
		overridePath = filepath.Join(roots.Override, req.TemplatePath)
		if overridePath == defaultPath {
			overridePath = ""
		}
	}
	return defaultPath, overridePath, roots.Mission, nil
}

// Locate determines existence and kind of a package and, for bundles, the
// merged file list. It returns interfaces.ErrNotFound when neither tier
// has the package and interfaces.ErrConfiguration when the tiers disagree
// on kind.
func (l *Locator) Locate(req DataPackageRequest) (*ResolvedPackage, error) {
	defaultPath, overridePath, mission, err := l.Paths(req)
	if err != nil {
		return nil, err
	}

	p := &ResolvedPackage{
		Request:      req,
		DefaultPath:  defaultPath,
		OverridePath: overridePath,
		Mission:      mission,
	}

	defaultInfo, err := statOptional(defaultPath)
	if err != nil {
		return nil, err
	}
	var overrideInfo fs.FileInfo
	if overridePath != "" {
		if overrideInfo, err = statOptional(overridePath); err != nil {
			return nil, err
		}
	}
	p.DefaultFound = defaultInfo != nil
	p.OverrideFound = overrideInfo != nil

	if !p.DefaultFound && !p.OverrideFound {
		return nil, fmt.Errorf("package %q not found from %s or %q: %w", req.TemplatePath, defaultPath, overridePath, interfaces.ErrNotFound)
	}

	if p.DefaultFound && p.OverrideFound && defaultInfo.IsDir() != overrideInfo.IsDir() {
		l.log.Error("Mismatch in package paths, default and override must both be files or folders",
			"default", defaultPath, "override", overridePath)
		return nil, fmt.Errorf("package %q kind differs between %s and %s: %w", req.TemplatePath, defaultPath, overridePath, interfaces.ErrConfiguration)
	}

	p.IsBundle = (defaultInfo != nil && defaultInfo.IsDir()) || (overrideInfo != nil && overrideInfo.IsDir())
	if !p.IsBundle {
		return p, nil
	}

	p.Files = NewFileList()
	if p.DefaultFound {
		if err := walkInto(p.Files, defaultPath); err != nil {
			return nil, err
		}
	}
	if p.OverrideFound {
		l.log.Debug("Override content found for data package", "path", overridePath)
		if err := walkInto(p.Files, overridePath); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func statOptional(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return info, nil
}

// walkInto adds every regular file below root to files. WalkDir visits
// entries in lexical order, which keeps the list deterministic.
func walkInto(files *FileList, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files.Set(filepath.ToSlash(rel), path)
		return nil
	})
}
