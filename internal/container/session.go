package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// SessionConfig describes the single long-lived session container (spec
// §3's "Container session" / §4.5 container-mode step 2).
type SessionConfig struct {
	Image            string
	Name             string
	CodeMountDir     string // host path, mounted at CodeMountTarget
	CodeMountTarget  string
	CacheMountDir    string // host path, mounted at CacheMountTarget (the package cache)
	CacheMountTarget string
	CPUs             float64
	MemoryMB         int64
	Env              []string
}

// Session owns the single long-lived session container for a server
// process. Exactly one container is recorded at a time; if it stops being
// "running" the handle is discarded and a fresh one is created on next
// demand (spec §3 Container session lifecycle invariants).
type Session struct {
	client *Client
	cfg    SessionConfig

	mu          sync.Mutex
	containerID string
}

// NewSession constructs a Session manager. No container is created yet —
// creation is lazy, on first Ensure call.
func NewSession(client *Client, cfg SessionConfig) *Session {
	return &Session{client: client, cfg: cfg}
}

// Ensure returns a running container id, creating a fresh container if none
// is recorded or the recorded one is no longer running. The create/reuse/
// replace decision is made under s.mu; the returned id is used by the
// caller's Exec calls outside the lock, per spec §5's shared-resource policy.
func (s *Session) Ensure(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containerID != "" {
		running, err := s.client.isRunningByID(ctx, s.containerID)
		if err == nil && running {
			return s.containerID, nil
		}
		// The dead container still holds s.cfg.Name; remove it so the
		// replacement can be created under the same name.
		_ = s.client.RemoveContainer(ctx, s.containerID)
		s.containerID = ""
	}

	if err := s.ensureImage(ctx); err != nil {
		return "", fmt.Errorf("image readiness: %w", err)
	}

	id, err := s.create(ctx)
	if err != nil {
		return "", err
	}
	s.containerID = id
	return id, nil
}

func (s *Session) ensureImage(ctx context.Context) error {
	present, err := s.client.ImagePresent(ctx, s.cfg.Image)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	return s.client.PullImage(ctx, s.cfg.Image)
}

func (s *Session) create(ctx context.Context) (string, error) {
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: s.cfg.CodeMountDir, Target: s.cfg.CodeMountTarget},
		{Type: mount.TypeBind, Source: s.cfg.CacheMountDir, Target: s.cfg.CacheMountTarget},
	}

	resources := container.Resources{
		NanoCPUs: int64(s.cfg.CPUs * 1e9),
		Memory:   s.cfg.MemoryMB * 1024 * 1024,
	}

	cfg := &container.Config{
		Image: s.cfg.Image,
		// A long-running sleep keeps the container alive so we can Exec into
		// it repeatedly instead of paying container-start latency per run.
		Cmd: []string{"sleep", "infinity"},
		Env: s.cfg.Env,
	}
	hostCfg := &container.HostConfig{
		Mounts:    mounts,
		Resources: resources,
	}

	return s.client.CreateAndStart(ctx, cfg, hostCfg, s.cfg.Name)
}

// Shutdown stops and removes the session container, if one is recorded.
// Best-effort: failure is returned for logging, never treated as fatal by
// the caller (spec §4.5 step 6).
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	id := s.containerID
	s.containerID = ""
	s.mu.Unlock()

	if id == "" {
		return nil
	}
	return s.client.RemoveContainer(ctx, id)
}

func (c *Client) isRunningByID(ctx context.Context, id string) (bool, error) {
	info, err := c.api.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.State != nil && info.State.Running, nil
}
