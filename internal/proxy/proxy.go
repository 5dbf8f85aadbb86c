package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"sandboxed-exec-mcp/internal/permission"
)

// Logger is the minimal logging surface Server needs for audit lines.
type Logger interface {
	Printf(format string, v ...any)
}

// Server is the egress proxy (spec §4.3): an HTTP server bound to loopback
// with a forward surface (/proxy) and a control surface (/grant, /revoke,
// /clear, /permissions, /health), built the same way
// tools/credentials-mcp/main.go assembles its mux — one http.ServeMux, one
// *http.Server.
type Server struct {
	store  *permission.Store
	client *http.Client
	logger Logger
	srv    *http.Server
}

// New constructs a Server. client is the HTTP client used for upstream
// forwarding; pass nil to use http.DefaultClient's transport with no
// additional timeout (the execution backend's wall-clock timeout is what
// bounds a stalled sandbox, per spec §4.3 cancellation semantics).
func New(store *permission.Store, client *http.Client, logger Logger) *Server {
	if client == nil {
		client = &http.Client{}
	}
	s := &Server{store: store, client: client, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/proxy", s.handleForward)
	mux.HandleFunc("/grant", s.handleGrant)
	mux.HandleFunc("/revoke", s.handleRevoke)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/permissions", s.handlePermissions)
	mux.HandleFunc("/health", s.handleHealth)

	s.srv = &http.Server{Handler: mux}
	return s
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}

// Serve starts the proxy on listener addr. It blocks until ctx is cancelled,
// mirroring the context-tied HTTP listener lifecycle used by
// claude/mcp.go's StartInProcessMCPServer.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.srv.Addr = addr
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: "bad_request", Message: err.Error()})
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Hostname() == "" {
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: "bad_request", Message: "unparseable url"})
		return
	}

	descriptor := permission.SynthesizeHTTPDescriptor(req.Method, parsed)

	if !s.store.Check(descriptor) {
		s.logf("DENIED %s", descriptor.Serialize())
		writeJSON(w, http.StatusForbidden, DenialEnvelope{
			Code:               "PERMISSION_DENIED",
			RequiredPermission: descriptor,
			AttemptedAction: AttemptedAction{
				Type:    "http_request",
				Details: req,
			},
			RequestID: uuid.NewString(),
		})
		return
	}

	s.logf("ALLOWED %s", descriptor.Serialize())
	s.forwardUpstream(w, r.Context(), req)
}

func (s *Server) forwardUpstream(w http.ResponseWriter, ctx context.Context, req ForwardRequest) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	upstream, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, ErrorEnvelope{Error: "network_error", Message: err.Error()})
		return
	}
	for name, value := range req.Headers {
		upstream.Header.Set(name, value)
	}

	resp, err := s.client.Do(upstream)
	if err != nil {
		// ctx cancellation (the inbound request going away) aborts this call
		// for free, since upstream was built with http.NewRequestWithContext.
		writeJSON(w, http.StatusBadGateway, ErrorEnvelope{Error: "network_error", Message: err.Error()})
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, ErrorEnvelope{Error: "network_error", Message: err.Error()})
		return
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	writeJSON(w, http.StatusOK, ForwardResponse{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    headers,
		Body:       string(respBody),
	})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var cap permission.Capability
	if err := json.NewDecoder(r.Body).Decode(&cap); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: "bad_request", Message: err.Error()})
		return
	}
	if err := s.store.Grant(cap); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: "validation_error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granted":          true,
		"permission":       cap.Serialize(),
		"totalPermissions": len(s.store.List()),
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var cap permission.Capability
	if err := json.NewDecoder(r.Body).Decode(&cap); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: "bad_request", Message: err.Error()})
		return
	}
	revoked := s.store.Revoke(cap)
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked":          revoked,
		"permission":       cap.Serialize(),
		"totalPermissions": len(s.store.List()),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.store.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handlePermissions(w http.ResponseWriter, _ *http.Request) {
	perms := s.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"total":       len(perms),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
