// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"taskmesh/pkg/types"
)

// dockerStopTimeout is the grace period when cleaning up a container.
const dockerStopTimeout = 10 * time.Second

// DockerRunner executes shell-type tasks inside a container for
// isolation. Parameters: "image" (required), "command" (required).
type DockerRunner struct {
	client *client.Client
}

// NewDockerRunner creates a runner with the default Docker client.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRunner{client: cli}, nil
}

// Close closes the Docker client connection.
func (r *DockerRunner) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Run creates a container for the task's command, waits for it, collects
// its logs, and removes it. A non-zero exit status is an error.
func (r *DockerRunner) Run(ctx context.Context, task *types.WorkflowTask) (map[string]any, error) {
	image, _ := task.Parameters["image"].(string)
	command, _ := task.Parameters["command"].(string)
	if image == "" || command == "" {
		return nil, fmt.Errorf("docker task %s requires \"image\" and \"command\" parameters", task.ID)
	}

	created, err := r.client.ContainerCreate(ctx, &container.Config{
		Image: image,
		Cmd:   []string{"/bin/sh", "-c", command},
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := created.ID
	defer r.cleanup(containerID)

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("container wait failed: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	logs, err := r.containerLogs(ctx, containerID)
	if err != nil {
		return nil, err
	}

	output := map[string]any{
		"output":   logs,
		"exitCode": exitCode,
	}
	if exitCode != 0 {
		return output, fmt.Errorf("container exited with status %d", exitCode)
	}
	return output, nil
}

func (r *DockerRunner) containerLogs(ctx context.Context, containerID string) (string, error) {
	reader, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, reader); err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return sb.String(), nil
}

// cleanup stops and removes the container. Idempotent: a missing
// container is not an error.
func (r *DockerRunner) cleanup(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*dockerStopTimeout)
	defer cancel()

	timeout := int(dockerStopTimeout.Seconds())
	_ = r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	_ = r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
}
