package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// DefaultManifestPath is where the deployment orchestrator drops the manifest.
const DefaultManifestPath = "/pvarki/kraftwerk-init.json"

// Manifest is the subset of the deployment manifest this service reads.
type Manifest struct {
	Deployment  string              `json:"deployment"`
	Rasenmaeher ManifestRasenmaeher `json:"rasenmaeher"`
	Product     ManifestProduct     `json:"product"`
}

type ManifestRasenmaeher struct {
	Init   ManifestURI `json:"init"`
	MTLS   ManifestURI `json:"mtls"`
	CertCN string      `json:"certcn"`
}

type ManifestURI struct {
	BaseURI string `json:"base_uri"`
	CSRJWT  string `json:"csr_jwt,omitempty"`
}

type ManifestProduct struct {
	DNS string `json:"dns"`
}

// DummyManifest is returned when no manifest file exists, so that a
// developer instance can start without the orchestrator.
func DummyManifest() *Manifest {
	rmURI := "https://localmaeher.dev.pvarki.fi"
	return &Manifest{
		Deployment: "localmaeher",
		Rasenmaeher: ManifestRasenmaeher{
			Init:   ManifestURI{BaseURI: rmURI, CSRJWT: "LOL, no"},
			MTLS:   ManifestURI{BaseURI: "https://mtls.localmaeher.dev.pvarki.fi"},
			CertCN: "rasenmaeher",
		},
		Product: ManifestProduct{DNS: "tak.localmaeher.dev.pvarki.fi"},
	}
}

// LoadManifest reads the deployment manifest from path. A missing file
// yields DummyManifest and a warning; a file that exists but cannot be
// parsed is an error.
func LoadManifest(path string, log *slog.Logger) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("Returning dummy manifest", "path", path)
		return DummyManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}
