package interfaces

import (
	"context"
	"io"
)

// Authority signs and revokes device certificates on behalf of this service.
type Authority interface {
	// SignCSR submits a PEM CSR and returns the signed certificate PEM.
	SignCSR(ctx context.Context, csrPEM []byte) ([]byte, error)

	// Revoke submits a certificate PEM for revocation.
	Revoke(ctx context.Context, certPEM []byte) error
}

// Result is the normalized outcome of a tactical server REST call.
// Transport errors and undecodable bodies produce Success=false with empty Data.
type Result struct {
	Success bool
	Data    any
	Status  int
}

// TakAPI is the subset of the tactical server management REST API this
// service uses.
type TakAPI interface {
	ListUsers(ctx context.Context) Result
	GetMission(ctx context.Context, name string) Result
	PutMission(ctx context.Context, name, description, defaultRole string) Result
	PutMissionKeywords(ctx context.Context, name string, keywords []string) Result
	GetDeviceProfile(ctx context.Context, name string) Result
	GetDeviceProfileFiles(ctx context.Context, name string) Result
	AddDeviceProfile(ctx context.Context, name string, groups []string) Result
	UpdateDeviceProfile(ctx context.Context, name string, profile DeviceProfile) Result
	UploadProfileFile(ctx context.Context, profile, filename string, body io.Reader) Result
}

// DeviceProfile carries the mutable attributes of a tactical server device profile.
type DeviceProfile struct {
	Active            bool
	ApplyOnConnect    bool
	ApplyOnEnrollment bool
	Type              string
	Tool              string
	Groups            []string
}

// ScriptRunner runs a legacy provisioning script with extra environment
// variables and returns its exit code.
type ScriptRunner interface {
	Run(ctx context.Context, script string, env map[string]string) (int, error)
}
