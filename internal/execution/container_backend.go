package execution

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sandboxed-exec-mcp/internal/container"
	"sandboxed-exec-mcp/internal/sandbox"
)

// ContainerBackend runs each request as an Exec into the single long-lived
// session container (spec §4.5 "Container mode"), grounded on the teacher's
// Client.Exec idiom: the code file is written straight to the bind-mounted
// host directory rather than copied into the container, since the mount
// makes it show up in the container for free.
type ContainerBackend struct {
	Session *container.Session
	Client  *container.Client

	RuntimeExecutable string
	CodeMountDir      string // host path, bind-mounted at CodeMountTarget
	CodeMountTarget   string // in-container path
	CacheMountTarget  string // in-container project dir; node_modules lives under here
	DefaultTimeoutMS  int64

	// installLocks serializes install attempts per package name, resolving
	// §9's open question on install concurrency in favor of serializing
	// rather than relying on the container's package manager being
	// idempotent under a race.
	installLocks sync.Map
}

// NewContainerBackend constructs a ContainerBackend.
func NewContainerBackend(session *container.Session, client *container.Client, runtimeExecutable, codeMountDir, codeMountTarget, cacheMountTarget string) *ContainerBackend {
	return &ContainerBackend{
		Session:           session,
		Client:            client,
		RuntimeExecutable: runtimeExecutable,
		CodeMountDir:      codeMountDir,
		CodeMountTarget:   codeMountTarget,
		CacheMountTarget:  cacheMountTarget,
	}
}

func (b *ContainerBackend) defaultTimeoutMS() int64 {
	if b.DefaultTimeoutMS > 0 {
		return b.DefaultTimeoutMS
	}
	return defaultTimeoutMS
}

func (b *ContainerBackend) nodeModulesDir() string {
	return path.Join(b.CacheMountTarget, "node_modules")
}

// Run implements Backend.
func (b *ContainerBackend) Run(ctx context.Context, req Request) (Result, error) {
	containerID, err := b.Session.Ensure(ctx)
	if err != nil {
		return InfraErrorResult(fmt.Sprintf("session container: %v", err)), nil
	}

	packages := ResolvePackageNames(req.Code)
	if failed := b.ensureInstalled(ctx, containerID, packages); len(failed) > 0 {
		return InfraErrorResult(fmt.Sprintf("package install failed: %s", strings.Join(failed, ", "))), nil
	}

	fileName := "run-" + uuid.NewString() + ".ts"
	hostPath := path.Join(b.CodeMountDir, fileName)
	containerPath := path.Join(b.CodeMountTarget, fileName)
	if err := os.WriteFile(hostPath, []byte(req.Code), 0o644); err != nil {
		return InfraErrorResult(fmt.Sprintf("writing code file: %v", err)), nil
	}
	defer os.Remove(hostPath)

	timeout := time.Duration(req.TimeoutOr(b.defaultTimeoutMS())) * time.Millisecond
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := b.Client.Exec(execCtx, containerID, []string{b.RuntimeExecutable, containerPath}, container.ExecOptions{
		WorkDir: b.CacheMountTarget,
		Env:     []string{"NODE_PATH=" + b.nodeModulesDir()},
	})
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return CodeErrorResult(res.Stdout, res.Stderr+"\n[killed: wall-clock timeout exceeded]", -1), nil
		}
		return InfraErrorResult(fmt.Sprintf("exec failed: %v", err)), nil
	}

	if res.ExitCode == 0 {
		return Ok(res.Stdout, 0), nil
	}

	if marker, ok := sandbox.ScanStderrForDenial(res.Stderr); ok {
		return PermissionDeniedResult(marker.RequiredPermission), nil
	}

	return CodeErrorResult(res.Stdout, res.Stderr, res.ExitCode), nil
}

// ensureInstalled installs every package in packages that isn't already in
// the cache, serialized per package name (spec §5's shared package-cache
// policy). Returns the names that failed to install.
func (b *ContainerBackend) ensureInstalled(ctx context.Context, containerID string, packages []string) []string {
	var failed []string
	for _, pkg := range packages {
		muAny, _ := b.installLocks.LoadOrStore(pkg, &sync.Mutex{})
		mu := muAny.(*sync.Mutex)
		mu.Lock()
		err := b.ensureOneInstalled(ctx, containerID, pkg)
		mu.Unlock()
		if err != nil {
			failed = append(failed, pkg)
		}
	}
	return failed
}

func (b *ContainerBackend) ensureOneInstalled(ctx context.Context, containerID, pkg string) error {
	installed, err := b.packageInstalled(ctx, containerID, pkg)
	if err != nil {
		return err
	}
	if installed {
		return nil
	}

	res, err := b.Client.Exec(ctx, containerID, []string{"bun", "add", pkg}, container.ExecOptions{WorkDir: b.CacheMountTarget})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("install %s: exit %d: %s", pkg, res.ExitCode, res.Stderr)
	}
	return nil
}

// packageInstalled reports whether pkg's directory already exists under the
// cache's node_modules (spec §3's "installed iff its directory exists"
// invariant).
func (b *ContainerBackend) packageInstalled(ctx context.Context, containerID, pkg string) (bool, error) {
	dir := path.Join(b.nodeModulesDir(), pkg)
	res, err := b.Client.Exec(ctx, containerID, []string{"test", "-d", dir}, container.ExecOptions{})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}
