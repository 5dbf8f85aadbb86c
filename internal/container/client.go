// Package container wraps the Docker SDK client for the execution backend's
// container mode (spec §4.5), adapted from the teacher's internal Docker
// client wrapper: one Client struct owning a *client.Client, explicit
// ExecOptions, and stdcopy-demuxed exec output.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Client wraps the Docker SDK for the narrow set of operations the execution
// backend needs: image readiness, single-container lifecycle, and exec.
type Client struct {
	api *client.Client
}

// NewClient connects to the Docker daemon using the standard environment
// configuration (DOCKER_HOST, TLS vars, etc.) and negotiates the API
// version, then verifies the daemon is reachable with a short-lived ping.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return &Client{api: cli}, nil
}

func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// ImagePresent reports whether image is already present locally.
func (c *Client) ImagePresent(ctx context.Context, image string) (bool, error) {
	_, _, err := c.api.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

// PullImage pulls image, draining the daemon's progress stream (we don't
// render it; the caller only cares whether the pull succeeded).
func (c *Client) PullImage(ctx context.Context, image string) error {
	reader, err := c.api.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// ContainerByName looks up a container by its exact name, returning a nil
// info and no error if it does not exist.
func (c *Client) ContainerByName(ctx context.Context, name string) (*types.ContainerJSON, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("container name required")
	}
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &info, nil
}

// IsRunning reports whether the named container exists and is running.
func (c *Client) IsRunning(ctx context.Context, name string) (bool, error) {
	info, err := c.ContainerByName(ctx, name)
	if err != nil {
		return false, err
	}
	return info != nil && info.State != nil && info.State.Running, nil
}

// CreateAndStart creates a container from cfg/hostCfg and starts it,
// returning its id.
func (c *Client) CreateAndStart(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// RemoveContainer force-stops and removes containerID. Best-effort: callers
// performing shutdown cleanup should log, not fail, on error.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

// ExecOptions configures a single Exec call.
type ExecOptions struct {
	Env     []string
	WorkDir string
}

// ExecResult is the outcome of a non-interactive exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs cmd inside containerID and waits for it to finish, demuxing
// stdout/stderr via stdcopy the way the teacher's Client.Exec does, and
// reports the exit code via ContainerExecInspect rather than synthesizing an
// error on non-zero exit — the caller (execution backend) interprets the
// exit code itself.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (ExecResult, error) {
	if strings.TrimSpace(containerID) == "" {
		return ExecResult{}, errors.New("container id required")
	}
	if len(cmd) == 0 {
		return ExecResult{}, errors.New("command required")
	}

	execResp, err := c.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkDir,
	})
	if err != nil {
		return ExecResult{}, err
	}

	attach, err := c.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, err
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return ExecResult{}, err
	}

	inspect, err := c.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, err
	}

	return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}, nil
}
