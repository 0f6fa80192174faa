package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	oasis "github.com/nevindra/runcore"
)

// Result is the outcome of one Exec, mirroring the stdout/stderr/exit_code
// shape run_code_snippet's handler embeds in its result envelope.
type Result struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	StdoutTrunc  bool
	StderrTrunc  bool
	TimedOut     bool
	ArtifactsDir string
}

// Runner executes exec requests as ephemeral Docker containers, with the
// workspace bind-mounted read-write at /workspace and memory, CPU, pid,
// and network caps taken from the merged policy.
type Runner struct {
	cli          *client.Client
	artifactRoot string
}

// NewRunner dials the local Docker daemon via the standard environment
// variables (DOCKER_HOST etc.), negotiating the API version against the
// daemon rather than pinning one.
func NewRunner(artifactRoot string) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &oasis.RuntimeError{Cause: fmt.Errorf("docker client: %w", err)}
	}
	return &Runner{cli: cli, artifactRoot: artifactRoot}, nil
}

// Close releases the Docker client's connection.
func (r *Runner) Close() error { return r.cli.Close() }

// Exec validates req, launches one container under req.Policy's resource
// caps, captures byte-capped stdout/stderr, enforces the policy's wall
// clock timeout, and persists stdout.txt/stderr.txt/meta.json under
// projects/<project_id>/artifacts/<exec_id>/.
func (r *Runner) Exec(ctx context.Context, req Request) (Result, error) {
	argv, err := BuildCommand(req)
	if err != nil {
		return Result{}, err
	}

	adapter := NewPathAdapter(DetectRuntime())
	mountPath, err := adapter.DockerMountPath(req.WorkspaceHost)
	if err != nil {
		return Result{}, err
	}

	image := req.Image
	if image == "" {
		image = "python:3.12-slim"
	}

	timeout := time.Duration(req.Policy.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.cli.ContainerCreate(execCtx, &container.Config{
		Image:        image,
		Cmd:          argv,
		WorkingDir:   "/workspace",
		Tty:          false,
		ExposedPorts: nat.PortSet{},
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:   int64(req.Policy.MemoryMB) * 1024 * 1024,
			NanoCPUs: int64(req.Policy.CPUCores * 1e9),
			PidsLimit: func() *int64 {
				if req.Policy.Pids <= 0 {
					return nil
				}
				v := req.Policy.Pids
				return &v
			}(),
		},
		NetworkMode: container.NetworkMode(req.Policy.NetMode),
		Binds:       []string{mountPath + ":/workspace"},
		AutoRemove:  false, // removed explicitly after logs are collected
	}, nil, nil, "")
	if err != nil {
		return Result{}, &oasis.RuntimeError{Cause: fmt.Errorf("create container: %w", err)}
	}
	containerID := resp.ID
	defer func() {
		_ = r.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, &oasis.RuntimeError{Cause: fmt.Errorf("start container: %w", err)}
	}

	statusCh, errCh := r.cli.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	var timedOut bool
	select {
	case werr := <-errCh:
		if werr != nil {
			return Result{}, &oasis.RuntimeError{Cause: fmt.Errorf("wait container: %w", werr)}
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-execCtx.Done():
		_ = r.cli.ContainerKill(context.Background(), containerID, "SIGKILL")
		timedOut = true
	}

	out, logErr := r.cli.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	res := Result{ExitCode: exitCode, TimedOut: timedOut}
	if logErr == nil {
		defer out.Close()
		stdoutBuf := newLimitedBuffer(req.Policy.MaxStdoutBytes)
		stderrBuf := newLimitedBuffer(req.Policy.MaxStderrBytes)
		_, _ = stdcopy.StdCopy(stdoutBuf, stderrBuf, out)
		res.Stdout, res.StdoutTrunc = stdoutBuf.String(), stdoutBuf.truncated
		res.Stderr, res.StderrTrunc = stderrBuf.String(), stderrBuf.truncated
	}

	dir, err := r.persistArtifacts(req, res)
	if err != nil {
		return res, err
	}
	res.ArtifactsDir = dir

	if timedOut {
		return res, &oasis.SandboxTimeoutError{}
	}
	return res, nil
}

// persistArtifacts writes stdout.txt, stderr.txt, and meta.json under
// projects/<project_id>/artifacts/<exec_id>/.
func (r *Runner) persistArtifacts(req Request, res Result) (string, error) {
	dir := filepath.Join(r.artifactRoot, "projects", req.ProjectID, "artifacts", req.ExecID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &oasis.RuntimeError{Cause: err}
	}
	if err := os.WriteFile(filepath.Join(dir, "stdout.txt"), []byte(res.Stdout), 0o644); err != nil {
		return "", &oasis.RuntimeError{Cause: err}
	}
	if err := os.WriteFile(filepath.Join(dir, "stderr.txt"), []byte(res.Stderr), 0o644); err != nil {
		return "", &oasis.RuntimeError{Cause: err}
	}
	meta := map[string]any{
		"exec_id":      req.ExecID,
		"project_id":   req.ProjectID,
		"kind":         req.Kind,
		"exit_code":    res.ExitCode,
		"timed_out":    res.TimedOut,
		"stdout_trunc": res.StdoutTrunc,
		"stderr_trunc": res.StderrTrunc,
		"policy":       req.Policy,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", &oasis.RuntimeError{Cause: err}
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", &oasis.RuntimeError{Cause: err}
	}
	return dir, nil
}

// limitedBuffer caps writes at max bytes, discarding and flagging overflow
// rather than growing unbounded.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	if max <= 0 {
		max = 256 << 10
	}
	return &limitedBuffer{max: max}
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	original := len(p)
	if w.buf.Len() >= w.max {
		w.truncated = true
		return original, nil
	}
	remaining := w.max - w.buf.Len()
	if len(p) > remaining {
		w.truncated = true
		p = p[:remaining]
	}
	if _, err := w.buf.Write(p); err != nil {
		return 0, err
	}
	// Report the original length as consumed so stdcopy.StdCopy doesn't
	// treat the truncation as a short write and abort the demux early.
	return original, nil
}

func (w *limitedBuffer) String() string { return w.buf.String() }

var _ io.Writer = (*limitedBuffer)(nil)
