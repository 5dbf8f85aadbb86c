package permission

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// globCache memoizes compiled patterns across calls; the same granted
// capability is matched against many descriptors over a server's lifetime,
// so recompiling the same pattern on every Check would be wasted work.
var globCache sync.Map // pattern string -> glob.Glob

// compileGlob compiles pattern with no separator set, so '*' matches any
// sequence of characters including '/' (spec §4.1/§9: this is broader than
// URL-route-style matching and is the documented, intentional semantics —
// porters must not "tighten" it). Every other character gobwas/glob treats
// as live syntax (`?`, `[...]`/`[!...]`, `{a,b}`, `\`) is escaped first, so a
// granted pattern matches byte-for-byte except for its `*` wildcards (spec
// §4.1's "regex metacharacters other than * are escaped").
func compileGlob(pattern string) (glob.Glob, error) {
	if cached, ok := globCache.Load(pattern); ok {
		return cached.(glob.Glob), nil
	}
	g, err := glob.Compile(escapeGlobMetaExceptStar(pattern))
	if err != nil {
		return nil, err
	}
	globCache.Store(pattern, g)
	return g, nil
}

// globLiteralMeta are the characters gobwas/glob's lexer treats as live
// syntax outside of '*': the escape character itself plus '?' (single-char
// wildcard), '[' / ']' (character classes), and '{' / '}' (alternation).
const globLiteralMeta = `\?[]{}`

// escapeGlobMetaExceptStar escapes every glob metacharacter in pattern
// except '*', which keeps its wildcard meaning.
func escapeGlobMetaExceptStar(pattern string) string {
	segments := strings.Split(pattern, "*")
	for i, segment := range segments {
		segments[i] = escapeGlobLiteral(segment)
	}
	return strings.Join(segments, "*")
}

func escapeGlobLiteral(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		if strings.ContainsRune(globLiteralMeta, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// globMatch reports whether pattern (a granted, human-authored allowlist
// glob) matches literal treated as a plain string. A malformed pattern never
// matches — matching is total and never throws (spec §4.1 failure semantics).
func globMatch(pattern, literal string) bool {
	g, err := compileGlob(pattern)
	if err != nil {
		return false
	}
	return g.Match(literal)
}

// Matches reports whether granted authorizes required, per spec §4.1.
// Matching is total: it always terminates and returns a bool, and a
// malformed capability (which should have been rejected at the grant
// boundary) simply fails to match rather than panicking.
func Matches(required, granted Capability) bool {
	if required.Type != granted.Type {
		return false
	}
	switch required.Type {
	case TypeHTTP:
		return matchHTTP(required, granted)
	case TypeFile:
		return matchFile(required, granted)
	case TypeEnv:
		return matchEnv(required, granted)
	default:
		return false
	}
}

func matchHTTP(required, granted Capability) bool {
	if required.Host != granted.Host {
		return false
	}
	if required.PathPattern != "" {
		if granted.PathPattern != "" && granted.PathPattern != "*" {
			if !globMatch(granted.PathPattern, required.PathPattern) {
				return false
			}
		}
		// absent or "*" granted pattern: any path is allowed.
	}
	if len(required.Methods) > 0 {
		if len(granted.Methods) > 0 {
			for _, need := range required.Methods {
				if !containsString(granted.Methods, need) {
					return false
				}
			}
		}
		// empty/absent granted methods: all methods allowed.
	}
	return true
}

func matchFile(required, granted Capability) bool {
	if !globMatch(granted.Path, required.Path) {
		return false
	}
	for _, need := range required.Operations {
		if !containsString(granted.Operations, need) {
			return false
		}
	}
	return true
}

func matchEnv(required, granted Capability) bool {
	for _, need := range required.Variables {
		matched := false
		for _, pattern := range granted.Variables {
			if globMatch(pattern, need) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// normalizeMethod upper-cases method and falls back to GET for anything
// outside the enumerated domain (spec §4.1 descriptor synthesis).
func normalizeMethod(method string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if !validMethods[m] {
		return MethodGet
	}
	return m
}

// SynthesizeHTTPDescriptor builds the required-access descriptor for an
// outbound HTTP request, per spec §4.1. u must already be parsed; host is
// taken verbatim (case-sensitive, per §8's boundary behavior).
func SynthesizeHTTPDescriptor(method string, u *url.URL) Capability {
	m := normalizeMethod(method)
	host := u.Hostname()
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return Capability{
		Type:        TypeHTTP,
		Host:        host,
		PathPattern: path,
		Methods:     []string{m},
		Description: fmt.Sprintf("%s request to %s%s", m, host, path),
	}
}
