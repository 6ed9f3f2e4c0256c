package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/sandguard/sandguard/pkg/domain"
)

// DockerFactory runs each tenant module in its own container, with the
// sandbox's cpu and memory limits mapped onto the container's host config.
type DockerFactory struct {
	client *client.Client
	image  string
	pids   PIDRegistry
}

// NewDockerFactory connects to the Docker daemon at socketPath ("" for the
// environment default) and uses image for module containers. Started
// containers report their init PID to pids (may be nil) for metrics sampling.
func NewDockerFactory(socketPath, image string, pids PIDRegistry) (*DockerFactory, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, client.WithHost("unix://"+socketPath))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}

	return &DockerFactory{client: cli, image: image, pids: pids}, nil
}

func (f *DockerFactory) Create(ctx context.Context, key domain.SandboxKey, limits domain.ResourceLimits) (Worker, error) {
	name := fmt.Sprintf("sandguard-%s-%s", key.ModuleID, uuid.New().String()[:8])

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			// MaxUsage is a percentage of one core.
			NanoCPUs: int64(limits.CPU.MaxUsage / 100 * 1e9),
			Memory:   int64(limits.Memory.HardMB * 1024 * 1024),
		},
	}
	cfg := &container.Config{
		Image: f.image,
		Labels: map[string]string{
			"sandguard.module":  key.ModuleID,
			"sandguard.tenant":  key.TenantID,
			"sandguard.version": key.Version,
		},
	}

	created, err := f.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	return &dockerWorker{
		id:          uuid.New().String(),
		key:         key,
		containerID: created.ID,
		client:      f.client,
		pids:        f.pids,
	}, nil
}

type dockerWorker struct {
	id          string
	key         domain.SandboxKey
	containerID string
	client      *client.Client
	pids        PIDRegistry
}

func (w *dockerWorker) ID() string { return w.id }

func (w *dockerWorker) Start(ctx context.Context) error {
	if err := w.client.ContainerStart(ctx, w.containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", w.containerID, err)
	}
	if w.pids != nil {
		inspect, err := w.client.ContainerInspect(ctx, w.containerID)
		if err != nil {
			return fmt.Errorf("failed to inspect container %s: %w", w.containerID, err)
		}
		if inspect.State != nil {
			w.pids.Register(w.key, int32(inspect.State.Pid))
		}
	}
	return nil
}

func (w *dockerWorker) Stop(ctx context.Context) error {
	if w.pids != nil {
		w.pids.Unregister(w.key)
	}
	timeout := 10 // seconds of grace before SIGKILL
	err := w.client.ContainerStop(ctx, w.containerID, container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", w.containerID, err)
	}
	if err := w.client.ContainerRemove(ctx, w.containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", w.containerID, err)
	}
	return nil
}

func (w *dockerWorker) Healthy(ctx context.Context) bool {
	inspect, err := w.client.ContainerInspect(ctx, w.containerID)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}
