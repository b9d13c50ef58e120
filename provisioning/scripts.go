package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/pvarki/takrmapi/interfaces"
	"github.com/pvarki/takrmapi/metrics"
	"github.com/stretchr/testify/mock"
)

const (
	EnableUserScript  = "enable_user.sh"
	EnableAdminScript = "enable_admin.sh"
	DeleteUserScript  = "delete_user.sh"

	UserCertEnv  = "USER_CERT_NAME"
	AdminCertEnv = "ADMIN_CERT_NAME"
)

// Scripts runs the TAK server's provisioning scripts from Folder.
type Scripts struct {
	Folder  string
	Timeout time.Duration
	log     *slog.Logger
}

func NewScripts(folder string, timeout time.Duration, log *slog.Logger) *Scripts {
	return &Scripts{Folder: folder, Timeout: timeout, log: log}
}

// Run executes script with env added to the process environment. The run
// ignores cancellation of ctx but is killed after Timeout, which is
// reported as ErrTimeout.
func (s *Scripts) Run(ctx context.Context, script string, env map[string]string) (int, error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
	defer cancel()

	path := filepath.Join(s.Folder, script)
	cmd := exec.CommandContext(runCtx, path)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	log := s.log.With("script", script, "env", env, "duration", time.Since(start))

	if runCtx.Err() == context.DeadlineExceeded {
		log.Error("Shell command timed out", "output", string(out))
		metrics.ProvisioningScripts.WithLabelValues(script, "timeout").Inc()
		return -1, fmt.Errorf("%s: %w", script, interfaces.ErrTimeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Warn("Shell command failed", "code", exitErr.ExitCode(), "output", string(out))
		metrics.ProvisioningScripts.WithLabelValues(script, "failed").Inc()
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		log.Error("Shell command could not be started", "err", err)
		metrics.ProvisioningScripts.WithLabelValues(script, "error").Inc()
		return -1, fmt.Errorf("running %s: %w", script, err)
	}

	log.Debug("Shell command done", "output", string(out))
	metrics.ProvisioningScripts.WithLabelValues(script, "ok").Inc()
	return 0, nil
}

// MockScriptRunner implements interfaces.ScriptRunner for testing.
type MockScriptRunner struct {
	mock.Mock
}

func (m *MockScriptRunner) Run(ctx context.Context, script string, env map[string]string) (int, error) {
	args := m.Called(ctx, script, env)
	return args.Int(0), args.Error(1)
}
