// Package docker runs generated programs inside pre-warmed, network-less
// containers. It trades the process backend's startup speed for stronger
// isolation: a read-only root filesystem, no network, an unprivileged user.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/observability"
)

// Executor implements the executor.Executor interface using Docker.
type Executor struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

var _ executor.Executor = (*Executor)(nil)

// New connects to the daemon named by the DOCKER_* environment, makes sure
// the image is present and starts the container pool.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), imagePullTimeout)
	defer cancel()

	if err := ensureImage(ctx, cli, cfg.Image, logger); err != nil {
		cli.Close()
		return nil, err
	}

	e := &Executor{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
	e.pool.Start()

	return e, nil
}

// imagePullTimeout bounds the first pull of the sandbox image.
const imagePullTimeout = 2 * time.Minute

// ensureImage pulls ref unless the daemon already has it.
func ensureImage(ctx context.Context, cli *client.Client, ref string, logger *slog.Logger) error {
	if _, err := cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	logger.Info("pulling sandbox image", slog.String("image", ref))
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker: pulling image %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("docker: pulling image %s: %w", ref, err)
	}
	logger.Info("sandbox image ready", slog.String("image", ref))
	return nil
}

// Close shuts down the executor pool and docker client.
func (e *Executor) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// Execute runs the provided Python code in a sandboxed Docker container.
// Each container serves exactly one execution and is removed afterwards.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) executor.ExecutionResult {
	res := e.execute(ctx, req)
	observability.RecordExecution("docker", res.ExitCode, res.Duration)
	return res
}

func (e *Executor) execute(ctx context.Context, req executor.ExecutionRequest) executor.ExecutionResult {
	start := time.Now()

	// The wall clock covers waiting for a container as well as running in it.
	executeCtx, executeCancel := context.WithTimeout(ctx, e.config.Timeout)
	defer executeCancel()

	containerID, err := e.pool.GetContainer(executeCtx)
	if err != nil {
		e.logger.Error("failed to get container from pool", slog.String("error", err.Error()))
		return executor.Failure(fmt.Sprintf("no sandbox container available: %v", err), time.Since(start))
	}

	// One container, one execution.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := e.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{
			Force: true,
		})
		if err != nil {
			e.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	// The container was started with `sleep infinity`, so we `docker exec` the code.
	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{e.config.Interpreter, "-c", req.Code},
	}

	execResp, err := e.cli.ContainerExecCreate(executeCtx, containerID, execConfig)
	if err != nil {
		return e.failure(ctx, executeCtx, fmt.Errorf("creating exec: %w", err), start)
	}

	attachResp, err := e.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return e.failure(ctx, executeCtx, fmt.Errorf("attaching to exec: %w", err), start)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer

	done := make(chan struct{})
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
	case <-executeCtx.Done():
		// Removing the container in the deferred cleanup kills the exec.
		attachResp.Close()
		<-done
		return e.failure(ctx, executeCtx, executeCtx.Err(), start)
	}

	inspectResp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return executor.Failure(fmt.Sprintf("inspecting exec: %v", err), time.Since(start))
	}

	return executor.ExecutionResult{
		Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
		ExitCode: inspectResp.ExitCode,
		Duration: time.Since(start),
	}
}

// failure maps an error to an in-band result, distinguishing our own
// deadline from a caller cancellation.
func (e *Executor) failure(parent, executeCtx context.Context, err error, start time.Time) executor.ExecutionResult {
	if parent.Err() == nil && errors.Is(executeCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("container execution exceeded wall-clock limit", slog.Duration("timeout", e.config.Timeout))
		return executor.Failure(fmt.Sprintf("Code execution timed out after %s", e.config.Timeout), time.Since(start))
	}
	if parent.Err() != nil {
		return executor.Failure(fmt.Sprintf("execution cancelled: %v", parent.Err()), time.Since(start))
	}
	e.logger.Error("container execution failed", slog.String("error", err.Error()))
	return executor.Failure(err.Error(), time.Since(start))
}
