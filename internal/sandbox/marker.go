package sandbox

import (
	"bufio"
	"encoding/json"
	"strings"

	"sandboxed-exec-mcp/internal/permission"
)

// DenialMarker is the structured line the shim writes to stderr when the
// proxy denies an outbound call (spec §4.4's "stderr is the only
// reliably-propagated channel" contract). Field shape matches the proxy's
// DenialEnvelope exactly, since the shim re-serializes the proxy's own
// response body verbatim.
type DenialMarker struct {
	Code               string                `json:"code"`
	RequiredPermission permission.Capability `json:"requiredPermission"`
	AttemptedAction    json.RawMessage       `json:"attemptedAction,omitempty"`
	RequestID          string                `json:"requestId,omitempty"`
}

const deniedCode = "PERMISSION_DENIED"

// ParseDenialLine attempts to parse a single line as a DenialMarker. Lines
// that aren't JSON, or are JSON but not a denial, return ok=false so the
// caller keeps scanning the rest of stderr.
func ParseDenialLine(line string) (marker DenialMarker, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return DenialMarker{}, false
	}
	var m DenialMarker
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return DenialMarker{}, false
	}
	if m.Code != deniedCode {
		return DenialMarker{}, false
	}
	return m, true
}

// ScanStderrForDenial scans stderr line by line for the first denial marker,
// matching §4.4's "scan stderr line-by-line for a JSON object with
// code=="PERMISSION_DENIED"" contract.
func ScanStderrForDenial(stderr string) (DenialMarker, bool) {
	scanner := bufio.NewScanner(strings.NewReader(stderr))
	// Denial lines embed a full capability plus attempted-action payload
	// (including request headers and body), so the line limit is raised from
	// the default 64KiB to 1MiB.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		if m, ok := ParseDenialLine(scanner.Text()); ok {
			return m, true
		}
	}
	return DenialMarker{}, false
}
