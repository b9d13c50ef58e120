package datapackage

import (
	"path/filepath"
	"strings"

	"github.com/pvarki/takrmapi/config"
)

// TemplateSuffix marks files rendered through the template engine.
const TemplateSuffix = ".tpl"

// DataPackageRequest identifies one requestable package. TemplatePath is
// relative to the type's roots; an absolute path bypasses the roots and has
// no override tier.
type DataPackageRequest struct {
	TemplatePath string
	Type         config.PackageType
}

// ResolvedPackage is the runtime state of one request during assembly.
type ResolvedPackage struct {
	Request DataPackageRequest

	DefaultPath   string
	OverridePath  string
	DefaultFound  bool
	OverrideFound bool
	Mission       bool

	IsBundle bool
	// Files is the merged bundle content, nil for single files.
	Files *FileList

	ScratchDir       string
	ZipPath          string
	AssemblyComplete bool

	// Rendered holds the output of RenderSingle.
	Rendered []byte
}

// Name is the base name of the package source.
func (p *ResolvedPackage) Name() string {
	if p.DefaultFound {
		return filepath.Base(p.DefaultPath)
	}
	return filepath.Base(p.OverridePath)
}

// SourceFile returns the single-file source, the override winning.
func (p *ResolvedPackage) SourceFile() string {
	if p.OverrideFound {
		return p.OverridePath
	}
	return p.DefaultPath
}

// IsTemplate reports whether the package itself is a single template file.
func (p *ResolvedPackage) IsTemplate() bool {
	return !p.IsBundle && strings.HasSuffix(p.Request.TemplatePath, TemplateSuffix)
}

// UploadName is the file name the package is delivered under.
func (p *ResolvedPackage) UploadName() string {
	name := p.Name()
	switch {
	case p.IsBundle:
		return name + ".zip"
	case p.IsTemplate():
		return strings.TrimSuffix(name, TemplateSuffix)
	default:
		return name
	}
}

// FileList is an insertion-ordered mapping of bundle-relative path
// (slash-separated) to source file path.
type FileList struct {
	keys []string
	src  map[string]string
}

func NewFileList() *FileList {
	return &FileList{src: make(map[string]string)}
}

// Set records src for rel, keeping the original position when rel is
// already present. It reports whether an entry was replaced.
func (l *FileList) Set(rel, src string) bool {
	if _, ok := l.src[rel]; ok {
		l.src[rel] = src
		return true
	}
	l.keys = append(l.keys, rel)
	l.src[rel] = src
	return false
}

func (l *FileList) Get(rel string) (string, bool) {
	src, ok := l.src[rel]
	return src, ok
}

// Keys returns the relative paths in insertion order.
func (l *FileList) Keys() []string {
	return append([]string(nil), l.keys...)
}

func (l *FileList) Len() int {
	return len(l.keys)
}
