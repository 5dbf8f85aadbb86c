// Command server runs the sandboxed code execution MCP service: the egress
// proxy, the permission store, the execution backend (preload or
// container), and the MCP tool surface over stdio — wired together the way
// tools/credentials-mcp/main.go wires its own Config/Server/mcp.AddTool
// sequence.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sandboxed-exec-mcp/internal/container"
	"sandboxed-exec-mcp/internal/execution"
	"sandboxed-exec-mcp/internal/mcptools"
	"sandboxed-exec-mcp/internal/permission"
	"sandboxed-exec-mcp/internal/proxy"
	"sandboxed-exec-mcp/internal/sandbox"
)

// Config is the server's environment-driven configuration (spec §6.4),
// loaded the same envOr-style way credentials-mcp's loadConfig does.
type Config struct {
	ExecutionMode string // "preload" | "container"
	ProxyPort     string
	ProxyURL      string

	RuntimeExecutable string
	PackageCacheDir   string
	ContainerImage    string

	CPUs      float64
	MemoryMB  int64
	TimeoutMS int64
}

func loadConfig() Config {
	return Config{
		ExecutionMode:     envOr("EXECUTION_MODE", "preload"),
		ProxyPort:         envOr("PROXY_PORT", "9999"),
		ProxyURL:          envOr("PROXY_URL", "http://127.0.0.1:"+envOr("PROXY_PORT", "9999")),
		RuntimeExecutable: envOr("RUNTIME_EXECUTABLE", "bun"),
		PackageCacheDir:   envOr("PACKAGE_CACHE_DIR", defaultPackageCacheDir()),
		ContainerImage:    envOr("CONTAINER_IMAGE", "oven/bun:1"),
		CPUs:              envFloatOr("SANDBOX_CPUS", 2),
		MemoryMB:          envInt64Or("SANDBOX_MEMORY_MB", 512),
		TimeoutMS:         envInt64Or("SANDBOX_TIMEOUT_MS", 30_000),
	}
}

func defaultPackageCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".sandboxed-exec-mcp", "packages", "node_modules")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return def
}

func envInt64Or(key string, def int64) int64 {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	}
	return def
}

func main() {
	logger := log.New(os.Stderr, "sandboxed-exec-mcp ", log.LstdFlags|log.LUTC)
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := permission.NewStore(logger)

	proxySrv := proxy.New(store, &http.Client{}, logger)
	proxyDone := make(chan error, 1)
	go func() { proxyDone <- proxySrv.Serve(ctx, "127.0.0.1:"+cfg.ProxyPort) }()

	backend, shutdownBackend, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("building execution backend: %v", err)
	}

	toolsSrv := mcptools.New(backend, store, logger)
	impl := &mcp.Implementation{
		Name:    "sandboxed-exec-mcp",
		Title:   "Sandboxed Code Execution",
		Version: "0.1.0",
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})
	toolsSrv.Register(server)

	// stdin-close triggers the same graceful shutdown as SIGINT/SIGTERM
	// (spec §5's "Shared-resource policy" / signal handling); server.Run
	// over StdioTransport returns on its own once stdin is closed, so we
	// only need to watch for that return and cancel ctx ourselves.
	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx, &mcp.StdioTransport{}) }()

	select {
	case err := <-runErr:
		if err != nil {
			logger.Printf("mcp server exited: %v", err)
		}
		stop()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownBackend(shutdownCtx); err != nil {
		logger.Printf("backend shutdown: %v", err)
	}
	<-proxyDone
}

// buildBackend constructs the execution.Backend named by cfg.ExecutionMode,
// plus a shutdown func that releases whatever state that backend holds
// (spec §4.5 step 6 / §5's shutdown invariant).
func buildBackend(ctx context.Context, cfg Config, logger *log.Logger) (execution.Backend, func(context.Context) error, error) {
	switch cfg.ExecutionMode {
	case "container":
		return buildContainerBackend(ctx, cfg, logger)
	default:
		return buildPreloadBackend(cfg)
	}
}

func buildPreloadBackend(cfg Config) (execution.Backend, func(context.Context) error, error) {
	shimDir := filepath.Join(os.TempDir(), "sandboxed-exec-mcp-shim")
	shimPath, err := sandbox.WriteShimFile(shimDir)
	if err != nil {
		return nil, nil, err
	}
	codeDir := filepath.Join(os.TempDir(), "sandboxed-exec-mcp-runs")

	b := execution.NewPreloadBackend(cfg.RuntimeExecutable, shimPath, cfg.ProxyURL, codeDir)
	b.DefaultTimeoutMS = cfg.TimeoutMS
	return b, func(context.Context) error { return nil }, nil
}

func buildContainerBackend(ctx context.Context, cfg Config, logger *log.Logger) (execution.Backend, func(context.Context) error, error) {
	client, err := container.NewClient()
	if err != nil {
		return nil, nil, err
	}

	codeMountDir := filepath.Join(os.TempDir(), "sandboxed-exec-mcp-code")
	if err := os.MkdirAll(codeMountDir, 0o755); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.PackageCacheDir, 0o755); err != nil {
		return nil, nil, err
	}

	const codeMountTarget = "/workspace/code"
	const cacheMountTarget = "/workspace/cache"

	session := container.NewSession(client, container.SessionConfig{
		Image:            cfg.ContainerImage,
		Name:             "sandboxed-exec-mcp-session",
		CodeMountDir:     codeMountDir,
		CodeMountTarget:  codeMountTarget,
		CacheMountDir:    cfg.PackageCacheDir,
		CacheMountTarget: cacheMountTarget,
		CPUs:             cfg.CPUs,
		MemoryMB:         cfg.MemoryMB,
		Env:              []string{"NODE_PATH=" + cacheMountTarget + "/node_modules"},
	})

	b := execution.NewContainerBackend(session, client, cfg.RuntimeExecutable, codeMountDir, codeMountTarget, cacheMountTarget)
	b.DefaultTimeoutMS = cfg.TimeoutMS

	shutdown := func(shutdownCtx context.Context) error {
		err := session.Shutdown(shutdownCtx)
		if closeErr := client.Close(); closeErr != nil {
			logger.Printf("docker client close: %v", closeErr)
		}
		return err
	}
	return b, shutdown, nil
}
