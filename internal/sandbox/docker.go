package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// DockerConfig describes the container each sandbox runs in.
type DockerConfig struct {
	Image    string
	Network  string
	MemoryMB int64
	CPUQuota int64
}

// DockerLauncher runs every sandbox in a throwaway Node.js container.
type DockerLauncher struct {
	cli    *client.Client
	cfg    DockerConfig
	dir    string
	logger *zap.Logger
}

func NewDockerLauncher(ctx context.Context, cfg DockerConfig, logger *zap.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	dir, err := writePrelude()
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	l := &DockerLauncher{cli: cli, cfg: cfg, dir: dir, logger: logger}
	if err := l.pullImage(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// pullImage pre-pulls the Node image.
// The response body must be fully drained before closing, otherwise Docker
// cancels the download mid-flight and the image is never stored locally.
func (l *DockerLauncher) pullImage(ctx context.Context) error {
	l.logger.Info("pulling sandbox image", zap.String("image", l.cfg.Image))
	out, err := l.cli.ImagePull(ctx, l.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", l.cfg.Image, err)
	}
	defer out.Close()
	if _, err := io.Copy(io.Discard, out); err != nil {
		l.logger.Warn("error reading image pull stream", zap.Error(err))
	}
	l.logger.Info("sandbox image ready", zap.String("image", l.cfg.Image))
	return nil
}

func (l *DockerLauncher) resources() container.Resources {
	return container.Resources{
		Memory:    l.cfg.MemoryMB * 1024 * 1024,
		CPUQuota:  l.cfg.CPUQuota,
		PidsLimit: int64Ptr(64),
	}
}

func (l *DockerLauncher) Launch(ctx context.Context) (Process, error) {
	cmd := []string{"node"}
	if l.cfg.MemoryMB > 0 {
		cmd = append(cmd, fmt.Sprintf("--max-old-space-size=%d", l.cfg.MemoryMB))
	}
	cmd = append(cmd, "/sandbox/"+preludeFileName)

	resp, err := l.cli.ContainerCreate(ctx, &container.Config{
		Image:        l.cfg.Image,
		WorkingDir:   "/sandbox",
		Cmd:          cmd,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Env:          []string{"NODE_NO_WARNINGS=1"},
	}, &container.HostConfig{
		Binds:       []string{fmt.Sprintf("%s:/sandbox:ro", l.dir)},
		NetworkMode: container.NetworkMode(l.cfg.Network),
		Resources:   l.resources(),
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	p := &dockerProcess{cli: l.cli, id: resp.ID, logger: l.logger}
	attachResp, err := l.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		p.remove()
		return nil, fmt.Errorf("attach container: %w", err)
	}
	p.attach = attachResp

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attachResp.Close()
		p.remove()
		return nil, fmt.Errorf("start container: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	p.stdout, p.stderr = stdoutR, stderrR
	p.stdoutW, p.stderrW = stdoutW, stderrW
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, attachResp.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()
	return p, nil
}

func (l *DockerLauncher) Close() error {
	err := l.cli.Close()
	if rmErr := os.RemoveAll(l.dir); err == nil {
		err = rmErr
	}
	return err
}

type dockerProcess struct {
	cli    *client.Client
	id     string
	attach types.HijackedResponse
	stdout io.Reader
	stderr io.Reader
	logger *zap.Logger

	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter

	killOnce sync.Once
}

func (p *dockerProcess) Stdin() io.Writer  { return p.attach.Conn }
func (p *dockerProcess) Stdout() io.Reader { return p.stdout }
func (p *dockerProcess) Stderr() io.Reader { return p.stderr }

func (p *dockerProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = p.cli.ContainerKill(ctx, p.id, "KILL")
		if alreadyGone(err) {
			err = nil
		}
		// Readers see EOF even if the attach stream stays open.
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
	})
	return err
}

func (p *dockerProcess) Wait() (ExitInfo, error) {
	defer p.remove()
	defer p.attach.Close()

	ctx := context.Background()
	okChan, errChan := p.cli.ContainerWait(ctx, p.id, container.WaitConditionNotRunning)
	var info ExitInfo
	select {
	case data := <-okChan:
		info.ExitCode = int(data.StatusCode)
	case err := <-errChan:
		return info, fmt.Errorf("container wait: %w", err)
	}

	inspectResp, err := p.cli.ContainerInspect(ctx, p.id)
	if err != nil {
		return info, fmt.Errorf("inspect container: %w", err)
	}
	startTime, err := dateparse.ParseAny(inspectResp.State.StartedAt)
	if err != nil {
		return info, fmt.Errorf("parse start time: %w", err)
	}
	finishTime, err := dateparse.ParseAny(inspectResp.State.FinishedAt)
	if err != nil {
		return info, fmt.Errorf("parse finish time: %w", err)
	}
	info.RunTime = finishTime.Sub(startTime)
	return info, nil
}

func (p *dockerProcess) remove() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.cli.ContainerRemove(ctx, p.id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove container", zap.String("container", p.id), zap.Error(err))
	}
}

// alreadyGone reports a kill error for a container that is removed (404) or
// has already exited (409).
func alreadyGone(err error) bool {
	return err != nil && (errdefs.IsNotFound(err) || errdefs.IsConflict(err))
}

func int64Ptr(v int64) *int64 { return &v }
