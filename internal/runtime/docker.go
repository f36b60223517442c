package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const managedByLabel = "app.kubernetes.io/managed-by"

// DockerRuntime implements the Runtime interface using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
	logger *slog.Logger
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

// NewDockerRuntime creates a new Docker-based runtime.
func NewDockerRuntime(logger *slog.Logger) (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRuntime{client: cli, logger: logger}, nil
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	containerConfig, hostConfig, err := containerSpec(opts)
	if err != nil {
		return nil, err
	}

	// Pull only when the image is not available locally.
	if _, _, err := d.client.ImageInspectWithRaw(ctx, opts.Image); err != nil {
		d.logger.Info("pulling image", "image", opts.Image)
		reader, err := d.client.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", opts.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	d.logger.Debug("started container", "container_id", resp.ID, "image", opts.Image)
	return &DockerHandle{
		client:      d.client,
		containerID: resp.ID,
	}, nil
}

// containerSpec builds the container configuration. The project directory is
// bind-mounted at ContainerProjectDir, which is also the working directory.
func containerSpec(opts StartOptions) (*container.Config, *container.HostConfig, error) {
	if opts.Image == "" {
		return nil, nil, errors.New("image is required")
	}
	if len(opts.Command) == 0 {
		return nil, nil, errors.New("command is required")
	}

	containerConfig := &container.Config{
		Image:  opts.Image,
		Cmd:    opts.Command,
		Env:    envList(opts.Env),
		Tty:    true,
		Labels: map[string]string{managedByLabel: "mlpipe"},
	}
	if opts.Name != "" {
		containerConfig.Labels["mlpipe/entry-point"] = opts.Name
	}

	hostConfig := &container.HostConfig{}
	if opts.WorkDir != "" {
		src, err := filepath.Abs(opts.WorkDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve project dir: %w", err)
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: src,
			Target: ContainerProjectDir,
		})
		containerConfig.WorkingDir = ContainerProjectDir
	}

	hosts := make([]string, 0, len(opts.Volumes))
	for host := range opts.Volumes {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: host,
			Target: opts.Volumes[host],
		})
	}

	return containerConfig, hostConfig, nil
}

func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		if status.Error != nil {
			return ExitResult{
				ExitCode: int(status.StatusCode),
				Error:    fmt.Errorf("%s", status.Error.Message),
			}, nil
		}
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

func (h *DockerHandle) Stop(ctx context.Context) error {
	timeout := 5
	return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})
}

func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}
