package execution

import (
	"regexp"
	"strings"
)

// importSpecifierPattern matches the handful of ways a specifier can appear
// in the code a caller submits: ES `import ... from '...'`, dynamic
// `import('...')`, CommonJS `require('...')`, and re-export
// `export ... from '...'`. Each alternative captures the specifier in its
// own group so the scan doesn't need to know which form matched.
var importSpecifierPattern = regexp.MustCompile(
	`import\s+(?:[^'"\n]+?\s+from\s+)?['"]([^'"]+)['"]` +
		`|import\(\s*['"]([^'"]+)['"]\s*\)` +
		`|require\(\s*['"]([^'"]+)['"]\s*\)` +
		`|export\s+(?:[^'"\n]+?\s+)?from\s+['"]([^'"]+)['"]`,
)

// runtimeBuiltins are module names resolved by the runtime itself, never by
// the package cache (spec §4.5 step 4's "node: / runtime-internal" carve-out).
var runtimeBuiltins = map[string]bool{
	"fs": true, "path": true, "http": true, "https": true, "os": true,
	"crypto": true, "events": true, "stream": true, "util": true,
	"buffer": true, "url": true, "child_process": true, "net": true,
	"assert": true, "querystring": true, "zlib": true, "tty": true,
	"readline": true, "worker_threads": true, "perf_hooks": true,
	"bun": true, "bun:test": true, "bun:sqlite": true, "bun:ffi": true,
}

// ExtractImportSpecifiers returns every import-like specifier literal found
// in code, in source order, including duplicates.
func ExtractImportSpecifiers(code string) []string {
	matches := importSpecifierPattern.FindAllStringSubmatch(code, -1)
	specifiers := make([]string, 0, len(matches))
	for _, m := range matches {
		for _, group := range m[1:] {
			if group != "" {
				specifiers = append(specifiers, group)
				break
			}
		}
	}
	return specifiers
}

// ResolvePackageName reduces a raw specifier to the package-cache directory
// name it would live under, or reports false if the specifier isn't an
// installable package (a relative/absolute path or a runtime builtin).
// Scoped packages (`@scope/name/subpath`) reduce to the two-segment
// `@scope/name` form.
func ResolvePackageName(specifier string) (string, bool) {
	if specifier == "" {
		return "", false
	}
	if strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") {
		return "", false
	}
	if strings.HasPrefix(specifier, "node:") {
		return "", false
	}

	name := specifier
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) >= 2 {
			name = parts[0] + "/" + parts[1]
		}
	} else if idx := strings.Index(specifier, "/"); idx >= 0 {
		name = specifier[:idx]
	}

	if runtimeBuiltins[name] {
		return "", false
	}
	return name, true
}

// ResolvePackageNames scans code and returns the deduplicated, order-stable
// set of installable package names it imports.
func ResolvePackageNames(code string) []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, specifier := range ExtractImportSpecifiers(code) {
		name, ok := ResolvePackageName(specifier)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
