package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sandboxed-exec-mcp/internal/sandbox"
)

// PreloadBackend runs each request as its own subprocess, with the network
// shim preloaded ahead of the user's code file (spec §4.5 "Preload mode"),
// grounded on rajivchocolate-agent-sandbox's DockerRunner.executeInternal:
// temp file → exec.CommandContext → context timeout → stderr classification,
// translated here from a raw `docker run` invocation to a direct subprocess
// spawn since preload mode has no container boundary.
type PreloadBackend struct {
	RuntimeExecutable string
	ShimPath          string
	ProxyURL          string
	CodeDir           string
	DefaultTimeoutMS  int64

	httpClient *http.Client
}

// NewPreloadBackend constructs a PreloadBackend. codeDir is created by each
// Run if it doesn't already exist.
func NewPreloadBackend(runtimeExecutable, shimPath, proxyURL, codeDir string) *PreloadBackend {
	return &PreloadBackend{
		RuntimeExecutable: runtimeExecutable,
		ShimPath:          shimPath,
		ProxyURL:          proxyURL,
		CodeDir:           codeDir,
		httpClient:        &http.Client{Timeout: 2 * time.Second},
	}
}

func (b *PreloadBackend) defaultTimeoutMS() int64 {
	if b.DefaultTimeoutMS > 0 {
		return b.DefaultTimeoutMS
	}
	return defaultTimeoutMS
}

// Run implements Backend.
func (b *PreloadBackend) Run(ctx context.Context, req Request) (Result, error) {
	if err := b.checkProxyReachable(ctx); err != nil {
		return InfraErrorResult(fmt.Sprintf("proxy unreachable before spawn: %v", err)), nil
	}

	codeFile, cleanup, err := writeTempCodeFile(b.CodeDir, req.Code)
	if err != nil {
		return InfraErrorResult(fmt.Sprintf("writing code file: %v", err)), nil
	}
	defer cleanup()

	timeout := time.Duration(req.TimeoutOr(b.defaultTimeoutMS())) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(sandbox.PreloadArgs(b.ShimPath), codeFile)
	cmd := exec.CommandContext(runCtx, b.RuntimeExecutable, args...)
	cmd.Env = append(os.Environ(), "PROXY_URL="+b.ProxyURL)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runErr == nil {
		return Ok(stdout.String(), 0), nil
	}

	if runCtx.Err() == context.DeadlineExceeded {
		note := stderr.String() + "\n[killed: wall-clock timeout exceeded]"
		return CodeErrorResult(stdout.String(), note, -1), nil
	}

	if marker, ok := sandbox.ScanStderrForDenial(stderr.String()); ok {
		return PermissionDeniedResult(marker.RequiredPermission), nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return CodeErrorResult(stdout.String(), stderr.String(), exitErr.ExitCode()), nil
	}

	// Not even an ExitError: the runtime binary itself failed to start.
	return InfraErrorResult(fmt.Sprintf("failed to spawn runtime %q: %v", b.RuntimeExecutable, runErr)), nil
}

func (b *PreloadBackend) checkProxyReachable(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, b.ProxyURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy health check returned %d", resp.StatusCode)
	}
	return nil
}

// writeTempCodeFile writes code to a fresh file under dir, named uniquely
// per run (spec §4.5 step 5: "a fresh file ... delete the code file"), and
// returns a cleanup func that removes it.
func writeTempCodeFile(dir, code string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "run-"+uuid.NewString()+".ts")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.Remove(path) }, nil
}
