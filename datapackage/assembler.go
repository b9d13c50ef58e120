package datapackage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pvarki/takrmapi/config"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/metrics"
	"golang.org/x/sync/errgroup"
)

// ManifestName is the mission package descriptor post-processed after rendering.
const ManifestName = "manifest.xml"

// Assembler renders and zips packages for a user.
type Assembler struct {
	settings *config.Settings
	locator  *Locator
	renderer *Renderer
	manifest *ManifestProcessor
	pool     *Pool

	// MaxParallel bounds packages built at once within one batch.
	MaxParallel int

	log *slog.Logger
}

func NewAssembler(settings *config.Settings, locator *Locator, renderer *Renderer, manifest *ManifestProcessor, pool *Pool, log *slog.Logger) *Assembler {
	return &Assembler{
		settings:    settings,
		locator:     locator,
		renderer:    renderer,
		manifest:    manifest,
		pool:        pool,
		MaxParallel: 8,
		log:         log,
	}
}

func (a *Assembler) Locator() *Locator {
	return a.locator
}

// AssembleEach builds one zip per request. Every request is located first
// and a missing or misconfigured package fails the whole batch before any
// scratch space is allocated. Afterwards packages are built concurrently
// and independently: the returned slice always mirrors reqs, failed
// packages have AssemblyComplete unset, and the error joins the individual
// failures. Callers own every returned ScratchDir, including failed ones.
func (a *Assembler) AssembleEach(ctx context.Context, reqs []DataPackageRequest, user interfaces.User) ([]*ResolvedPackage, error) {
	pkgs, err := a.locateBundles(reqs)
	if err != nil {
		return nil, err
	}

	for _, p := range pkgs {
		if p.ScratchDir, err = newScratchDir(user.Callsign); err != nil {
			return pkgs, err
		}
	}

	errs := make([]error, len(pkgs))
	g := new(errgroup.Group)
	g.SetLimit(a.maxParallel())
	for i, p := range pkgs {
		i, p := i, p
		a.log.Info("Assembling package", "package", p.Name(), "type", p.Request.Type, "callsign", user.Callsign)
		g.Go(func() error {
			errs[i] = a.assembleOne(ctx, p, user)
			return nil
		})
	}
	_ = g.Wait()

	a.log.Debug("Package assembly batch done", "packages", len(pkgs))
	return pkgs, errors.Join(errs...)
}

// CombinedArchive is the result of AssembleCombined.
type CombinedArchive struct {
	Packages   []*ResolvedPackage
	ScratchDir string
	ZipPath    string
}

// AssembleCombined builds every request into one archive named name.zip,
// each package under its own top-level folder. Unlike AssembleEach a
// single failing package fails the archive.
func (a *Assembler) AssembleCombined(ctx context.Context, reqs []DataPackageRequest, user interfaces.User, name string) (*CombinedArchive, error) {
	pkgs, err := a.locateBundles(reqs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		folder := a.bundleFolder(p)
		if seen[folder] {
			return nil, fmt.Errorf("two packages named %q in one archive: %w", folder, interfaces.ErrConfiguration)
		}
		seen[folder] = true
	}

	scratch, err := newScratchDir(user.Callsign)
	if err != nil {
		return nil, err
	}
	out := &CombinedArchive{Packages: pkgs, ScratchDir: scratch}
	root := filepath.Join(scratch, sanitize(name))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel())
	for _, p := range pkgs {
		p := p
		p.ScratchDir = scratch
		g.Go(func() error {
			if err := a.materialize(gctx, p, user, filepath.Join(root, a.bundleFolder(p))); err != nil {
				metrics.PackageFailures.WithLabelValues(string(p.Request.Type)).Inc()
				return fmt.Errorf("package %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	zipPath := root + ".zip"
	if err := a.pool.Do(ctx, func() error { return zipDirectory(root, zipPath) }); err != nil {
		return out, fmt.Errorf("zipping %s: %w", name, err)
	}
	out.ZipPath = zipPath
	for _, p := range pkgs {
		p.AssemblyComplete = true
		metrics.PackagesAssembled.WithLabelValues(string(p.Request.Type)).Inc()
	}
	return out, nil
}

// RenderSingle locates a single template file and renders it into
// Rendered. Plain files and bundles are rejected.
func (a *Assembler) RenderSingle(ctx context.Context, req DataPackageRequest, user interfaces.User) (*ResolvedPackage, error) {
	p, err := a.locator.Locate(req)
	if err != nil {
		return nil, err
	}
	if !p.IsTemplate() {
		return nil, fmt.Errorf("%s is not a template file: %w", req.TemplatePath, interfaces.ErrConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc := NewRenderContext(a.settings, user, filepath.ToSlash(req.TemplatePath))
	p.Rendered, err = a.renderer.Render(p.SourceFile(), rc)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (a *Assembler) locateBundles(reqs []DataPackageRequest) ([]*ResolvedPackage, error) {
	pkgs := make([]*ResolvedPackage, 0, len(reqs))
	for _, req := range reqs {
		p, err := a.locator.Locate(req)
		if err != nil {
			return nil, err
		}
		if !p.IsBundle {
			return nil, fmt.Errorf("%s is a file, only folders can be zipped: %w", p.SourceFile(), interfaces.ErrConfiguration)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

func (a *Assembler) assembleOne(ctx context.Context, p *ResolvedPackage, user interfaces.User) error {
	start := time.Now()
	root := filepath.Join(p.ScratchDir, a.bundleFolder(p))

	err := a.materialize(ctx, p, user, root)
	if err == nil {
		zipPath := root + ".zip"
		err = a.pool.Do(ctx, func() error { return zipDirectory(root, zipPath) })
		if err == nil {
			p.ZipPath = zipPath
			p.AssemblyComplete = true
		}
	}

	if err != nil {
		metrics.PackageFailures.WithLabelValues(string(p.Request.Type)).Inc()
		a.log.Error("Package assembly failed", "package", p.Name(), "err", err)
		return fmt.Errorf("package %s: %w", p.Name(), err)
	}
	metrics.PackagesAssembled.WithLabelValues(string(p.Request.Type)).Inc()
	metrics.AssemblyDuration.Observe(time.Since(start).Seconds())
	return nil
}

// bundleFolder names the package root inside the archive tree. Mission
// packages carry the deployment name so that clients importing packages
// from several deployments keep them apart.
func (a *Assembler) bundleFolder(p *ResolvedPackage) string {
	if p.Mission {
		return a.settings.DeploymentName + "_" + p.Name()
	}
	return p.Name()
}

// materialize copies and renders every file of p below root. A mission
// manifest is rendered to a staging file and moved into place only after
// the containers it references exist.
func (a *Assembler) materialize(ctx context.Context, p *ResolvedPackage, user interfaces.User, root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	a.log.Debug("Moving files for bundling", "package", p.Name(), "dst", root)

	for _, rel := range p.Files.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, _ := p.Files.Get(rel)
		dst := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}

		if path.Ext(rel) != TemplateSuffix {
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("copying %s: %w", rel, err)
			}
			continue
		}

		rendered, err := a.renderer.Render(src, NewRenderContext(a.settings, user, p.Request.TemplatePath+"/"+rel))
		if err != nil {
			return err
		}
		dst = RenderedName(dst)

		if p.Mission && filepath.Base(dst) == ManifestName {
			if err := a.placeManifest(ctx, rendered, dst, root, p.ScratchDir, user); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(dst, rendered, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) placeManifest(ctx context.Context, rendered []byte, dst, root, scratch string, user interfaces.User) error {
	staging, err := os.CreateTemp(scratch, ".manifest-*.xml")
	if err != nil {
		return err
	}
	stagingPath := staging.Name()
	defer os.Remove(stagingPath)

	if _, err := staging.Write(rendered); err != nil {
		staging.Close()
		return err
	}
	if err := staging.Close(); err != nil {
		return err
	}

	if err := a.manifest.Process(ctx, stagingPath, root, user); err != nil {
		return fmt.Errorf("manifest extras: %w", err)
	}
	return os.Rename(stagingPath, dst)
}

func (a *Assembler) maxParallel() int {
	if a.MaxParallel <= 0 {
		return 1
	}
	return a.MaxParallel
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

func newScratchDir(callsign string) (string, error) {
	dir, err := os.MkdirTemp("", "takpkg-*_"+sanitize(callsign))
	if err != nil {
		return "", fmt.Errorf("allocating scratch directory: %w", err)
	}
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
