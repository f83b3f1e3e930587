// Package docker implements the engine contract by running each simulation run
// in its own container on the host Docker daemon.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"simorchestrator/internal/engine"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	labelManagedBy = "managed-by"
	labelRunID     = "simrun.run-id"
	managedBy      = "simrun-service"
)

// Engine creates one container per run cycle.
type Engine struct {
	client *client.Client
	cfg    Config
}

// New connects to the Docker daemon and removes containers left behind by a
// previous process. Those runs are recovered as failed by the service.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	e := &Engine{client: dockerClient, cfg: cfg.withDefaults()}
	if err := e.sweepOrphans(ctx); err != nil {
		slog.Warn("Failed to remove orphaned simulation containers", "error", err)
	}
	return e, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "docker" }

// Ready checks if the Docker daemon is reachable and responsive.
func (e *Engine) Ready(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	return err
}

// Close releases the Docker client. Running containers are left to their handles.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Setup implements engine.Engine. It pulls the image if needed and creates,
// but does not start, the run container.
func (e *Engine) Setup(ctx context.Context, params engine.Parameters) (engine.Handle, error) {
	imageName, cmd := e.containerSpec(params.Engine)

	if err := e.pullImageIfNeeded(ctx, imageName); err != nil {
		return nil, fmt.Errorf("pull image %s: %w", imageName, err)
	}

	containerID, err := e.createContainer(ctx, imageName, cmd, params)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	return &instance{
		engine:      e,
		containerID: containerID,
		logger:      slog.With("runId", params.RunID, "containerId", shortID(containerID)),
	}, nil
}

// containerSpec reads the optional "image" and "command" engine parameters.
// The remaining parameters are passed to the container untouched.
func (e *Engine) containerSpec(raw json.RawMessage) (string, []string) {
	var p struct {
		Image   string   `json:"image"`
		Command []string `json:"command"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	if p.Image == "" {
		p.Image = e.cfg.Image
	}
	return p.Image, p.Command
}

func (e *Engine) createContainer(ctx context.Context, imageName string, cmd []string, params engine.Parameters) (string, error) {
	containerConfig := &container.Config{
		Image: imageName,
		Cmd:   cmd,
		Env:   containerEnv(params),
		Labels: map[string]string{
			labelRunID:     params.RunID,
			labelManagedBy: managedBy,
			"simrun.model": params.ModelName,
		},
	}

	hostConfig := &container.HostConfig{
		ExtraHosts: e.cfg.ExtraHosts,
		Resources: container.Resources{
			NanoCPUs: int64(e.cfg.CPU * 1e9),
			Memory:   int64(e.cfg.MemoryMB) * 1024 * 1024,
		},
	}

	if e.cfg.ServicePort != "" {
		port, err := nat.NewPort(nat.SplitProtoPort(e.cfg.ServicePort))
		if err != nil {
			return "", fmt.Errorf("invalid service port %q: %w", e.cfg.ServicePort, err)
		}
		containerConfig.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostConfig.PortBindings = nat.PortMap{port: []nat.PortBinding{{HostIP: "", HostPort: ""}}}
	}

	name := fmt.Sprintf("simrun-%s-%d", params.RunID, time.Now().UnixNano())
	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func containerEnv(params engine.Parameters) []string {
	env := []string{
		"SIM_RUN_ID=" + params.RunID,
		"SIM_MODEL_NAME=" + params.ModelName,
	}
	if len(params.Engine) > 0 {
		env = append(env, "SIM_ENGINE_PARAMETERS="+string(params.Engine))
	}
	if len(params.Agent) > 0 {
		env = append(env, "SIM_AGENT_PARAMETERS="+string(params.Agent))
	}
	return env
}

func (e *Engine) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if _, err := e.client.ImageInspect(ctx, imageName); err == nil {
		return nil
	}

	reader, err := e.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (e *Engine) stopContainer(ctx context.Context, containerID string) error {
	timeout := int(e.cfg.StopTimeout.Seconds())
	return e.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
}

func (e *Engine) removeContainer(ctx context.Context, containerID string) error {
	return e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// sweepOrphans removes every container labelled as managed by this service.
func (e *Engine) sweepOrphans(ctx context.Context) error {
	logger := slog.With("component", "reconcile")

	containers, err := e.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedBy),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if err := e.removeContainer(ctx, c.ID); err != nil {
			logger.Warn("Failed to remove orphaned container", "containerId", shortID(c.ID), "runId", c.Labels[labelRunID], "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("Removed orphaned simulation containers", "count", removed)
	}
	return nil
}

// publishedPort returns the host port bound to the configured service port.
func (e *Engine) publishedPort(ctx context.Context, containerID string) (int, bool) {
	if e.cfg.ServicePort == "" {
		return 0, false
	}
	port, err := nat.NewPort(nat.SplitProtoPort(e.cfg.ServicePort))
	if err != nil {
		return 0, false
	}
	inspect, err := e.client.ContainerInspect(ctx, containerID)
	if err != nil || inspect.NetworkSettings == nil {
		return 0, false
	}
	return hostPort(inspect.NetworkSettings.Ports, port)
}

func hostPort(ports nat.PortMap, port nat.Port) (int, bool) {
	for _, binding := range ports[port] {
		if n, err := nat.ParsePort(binding.HostPort); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var (
	_ engine.Engine           = (*Engine)(nil)
	_ engine.ReadinessChecker = (*Engine)(nil)
)
