package datapackage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pvarki/takrmapi/cryptoutils"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/userdata"
)

// CABundleName is the trust store every mission package carries.
const CABundleName = "rasenmaeher_ca-public.p12"

var zipEntryAttr = regexp.MustCompile(`zipEntry="([^"]*)"`)

// ManifestProcessor materializes the certificate containers a mission
// manifest refers to.
type ManifestProcessor struct {
	// ChainFile is the public server leaf chain placed first in the CA bundle.
	ChainFile string
	// CADir is searched recursively for additional *.pem CA certificates.
	CADir string
	// KeypairTimeout bounds the wait for the user's keypair.
	KeypairTimeout time.Duration

	users *userdata.Store
	pool  *Pool
	log   *slog.Logger
}

func NewManifestProcessor(chainFile, caDir string, keypairTimeout time.Duration, users *userdata.Store, pool *Pool, log *slog.Logger) *ManifestProcessor {
	return &ManifestProcessor{
		ChainFile:      chainFile,
		CADir:          caDir,
		KeypairTimeout: keypairTimeout,
		users:          users,
		pool:           pool,
		log:            log,
	}
}

// Process scans the rendered manifest at manifestPath and writes one
// container below bundleRoot for every .p12 reference. Comment lines are
// skipped. The manifest itself is not modified.
func (m *ManifestProcessor) Process(ctx context.Context, manifestPath, bundleRoot string, user interfaces.User) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "<!--") {
			continue
		}
		if !strings.Contains(line, ".p12") {
			continue
		}
		if err := m.addP12(ctx, line, bundleRoot, user); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (m *ManifestProcessor) addP12(ctx context.Context, line, bundleRoot string, user interfaces.User) error {
	dir, err := targetDir(line, bundleRoot)
	if err != nil {
		return err
	}
	m.log.Info("PKCS12 manifest entry", "line", strings.TrimSpace(line), "dir", dir)

	switch {
	case strings.Contains(line, CABundleName):
		return m.writeCABundle(ctx, filepath.Join(dir, CABundleName))
	case user.Callsign != "" && strings.Contains(line, user.Callsign+".p12"):
		return m.writeIdentity(ctx, filepath.Join(dir, user.Callsign+".p12"), user)
	default:
		return fmt.Errorf("%q: %w", strings.TrimSpace(line), interfaces.ErrUnknownManifestDirective)
	}
}

// targetDir derives the folder of a manifest entry from the element text
// or, failing that, its zipEntry attribute.
func targetDir(line, bundleRoot string) (string, error) {
	value := ""
	if _, after, ok := strings.Cut(line, ">"); ok {
		value, _, _ = strings.Cut(after, "<")
	}
	if !strings.Contains(value, "/") {
		if match := zipEntryAttr.FindStringSubmatch(line); match != nil {
			value = match[1]
		}
	}
	value = strings.TrimSpace(value)
	if !strings.Contains(value, "/") {
		return bundleRoot, nil
	}

	rel := path.Dir(value)
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("manifest entry %q escapes package: %w", value, interfaces.ErrUnknownManifestDirective)
	}
	dir := filepath.Join(bundleRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (m *ManifestProcessor) writeCABundle(ctx context.Context, target string) error {
	chain, err := os.ReadFile(m.ChainFile)
	if err != nil {
		return fmt.Errorf("reading server chain: %w", err)
	}

	caFiles, err := findPEMFiles(m.CADir)
	if err != nil {
		return err
	}
	for _, f := range caFiles {
		m.log.Debug("Adding PEM to CA bundle", "file", f)
		pemData, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		chain = append(chain, '\n')
		chain = append(chain, pemData...)
	}

	return m.pool.Do(ctx, func() error {
		pfx, err := cryptoutils.EncodeTrustStore(chain)
		if err != nil {
			return err
		}
		m.log.Info("Creating CA bundle", "file", target)
		return os.WriteFile(target, pfx, 0o644)
	})
}

func (m *ManifestProcessor) writeIdentity(ctx context.Context, target string, user interfaces.User) error {
	kp, err := m.users.For(user)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.KeypairTimeout)
	defer cancel()
	if err := m.users.WaitForKeypair(waitCtx, kp); err != nil {
		return err
	}

	certPEM, err := kp.CertPEM()
	if err != nil {
		return err
	}
	keyPEM, err := kp.KeyPEM()
	if err != nil {
		return err
	}

	return m.pool.Do(ctx, func() error {
		pfx, err := cryptoutils.EncodeIdentity(certPEM, keyPEM, user.Callsign)
		if err != nil {
			return err
		}
		m.log.Info("Creating user identity container", "file", target)
		return os.WriteFile(target, pfx, 0o600)
	})
}

// findPEMFiles returns *.pem files below dir ordered by file name, then path.
func findPEMFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), ".pem") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching CA certificates in %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool {
		bi, bj := filepath.Base(files[i]), filepath.Base(files[j])
		if bi != bj {
			return bi < bj
		}
		return files[i] < files[j]
	})
	return files, nil
}
