// Package sandbox holds the preload/network-rewiring shim that runs inside
// the sandboxed runtime (spec §4.4). The shim itself is necessarily
// TypeScript — it has to execute in the same JS/TS process as the untrusted
// user code — so Go's job here is narrow: embed the shim source, materialize
// it to a file the runtime can --preload, and parse the structured denial
// marker back out of stderr.
package sandbox

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed shim.ts
var ShimSource string

const shimFileName = "fetch-shim.ts"

// WriteShimFile materializes the embedded shim source under dir, returning
// its path. Writing is idempotent content-wise (same bytes every time), so
// callers can call this once per server startup and reuse the path across
// every spawned run.
func WriteShimFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("sandbox: preparing shim dir: %w", err)
	}
	path := filepath.Join(dir, shimFileName)
	if err := os.WriteFile(path, []byte(ShimSource), 0o644); err != nil {
		return "", fmt.Errorf("sandbox: writing shim file: %w", err)
	}
	return path, nil
}

// PreloadArgs returns the runtime flag that loads shimPath ahead of the user
// code file, e.g. ["--preload", "/path/to/fetch-shim.ts"] for bun.
func PreloadArgs(shimPath string) []string {
	return []string{"--preload", shimPath}
}
