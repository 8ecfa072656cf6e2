// -----------------------------------------------------------------------
// Container Runner - Launches the external AST extractor image
// -----------------------------------------------------------------------

package astextract

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/ternarybob/arbor"
)

// exitTransient is the conventional EX_TEMPFAIL exit code the extractor
// uses to signal a retryable failure
const exitTransient = 75

// containerRunner drives one extractor container over the Docker API
type containerRunner struct {
	cli    *client.Client
	logger arbor.ILogger
}

func newContainerRunner(logger arbor.ILogger) (*containerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &containerRunner{cli: cli, logger: logger}, nil
}

func (r *containerRunner) close() {
	r.cli.Close()
}

// pullImageIfMissing pulls the extractor image unless it is already cached
func (r *containerRunner) pullImageIfMissing(ctx context.Context, image string) error {
	fil := filters.NewArgs()
	fil.Add("reference", image)
	list, err := r.cli.ImageList(ctx, types.ImageListOptions{Filters: fil})
	if err != nil {
		return fmt.Errorf("error listing images: %w", err)
	}
	if len(list) > 0 {
		r.logger.Debug().Str("image", image).Msg("Extractor image found in cache")
		return nil
	}

	r.logger.Info().Str("image", image).Msg("Pulling extractor image")
	stream, err := r.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("error pulling image %s: %w", image, err)
	}
	defer stream.Close()

	// Drain the pull stream so the pull completes
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("error reading image pull stream: %w", err)
	}
	return nil
}

// run executes the extractor with the repository mounted read-only at
// /repo. Stdout carries the symbol stream; stderr carries tool logs.
// Returns the container exit code.
func (r *containerRunner) run(ctx context.Context, image, repoPath string, timeout time.Duration, stdout, stderr io.Writer) (int64, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.pullImageIfMissing(runCtx, image); err != nil {
		return -1, err
	}

	created, err := r.cli.ContainerCreate(runCtx,
		&container.Config{
			Image: image,
			Cmd:   []string{"--repo", "/repo", "--format", "jsonl"},
		},
		&container.HostConfig{
			Binds: []string{repoPath + ":/repo:ro"},
		},
		nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("error creating extractor container: %w", err)
	}
	containerID := created.ID

	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer removeCancel()
		if err := r.cli.ContainerRemove(removeCtx, containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			r.logger.Warn().Err(err).Str("container_id", containerID).Msg("Failed to remove extractor container")
		}
	}()

	if err := r.cli.ContainerStart(runCtx, containerID, types.ContainerStartOptions{}); err != nil {
		return -1, fmt.Errorf("error starting extractor container: %w", err)
	}

	logs, err := r.cli.ContainerLogs(runCtx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("error attaching to extractor logs: %w", err)
	}
	defer logs.Close()

	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdout, stderr, logs)
		copyDone <- copyErr
	}()

	waitCh, errCh := r.cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)

	select {
	case <-runCtx.Done():
		return -1, fmt.Errorf("extractor timed out after %s: %w", timeout, runCtx.Err())
	case err := <-errCh:
		return -1, fmt.Errorf("error waiting for extractor container: %w", err)
	case status := <-waitCh:
		// Drain the log copy before reporting so stdout is complete
		if copyErr := <-copyDone; copyErr != nil && status.StatusCode == 0 {
			return status.StatusCode, fmt.Errorf("error reading extractor output: %w", copyErr)
		}
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("extractor wait error: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	}
}
