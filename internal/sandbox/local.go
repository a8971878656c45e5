package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// LocalConfig describes how the node subprocess is started.
type LocalConfig struct {
	NodeBinary string
	MemoryMB   int64
	// PermissionFlag enables the Node.js permission model, e.g.
	// "--experimental-permission" on Node 20 and 22 or "--permission" on
	// newer releases. Empty runs node with the privileges of this service.
	PermissionFlag string
}

// LocalLauncher runs the worker as a node subprocess of this service. With
// the permission model on, the worker may only read its own prelude and may
// not spawn processes or workers. Without it, it is a development launcher.
type LocalLauncher struct {
	nodeBinary string
	cfg        LocalConfig
	dir        string
}

func NewLocalLauncher(cfg LocalConfig) (*LocalLauncher, error) {
	path, err := exec.LookPath(cfg.NodeBinary)
	if err != nil {
		return nil, fmt.Errorf("node binary %q: %w", cfg.NodeBinary, err)
	}
	dir, err := writePrelude()
	if err != nil {
		return nil, err
	}
	return &LocalLauncher{nodeBinary: path, cfg: cfg, dir: dir}, nil
}

// Args returns the node command line of a worker.
func (l *LocalLauncher) Args() []string {
	prelude := filepath.Join(l.dir, preludeFileName)
	args := []string{}
	if l.cfg.PermissionFlag != "" {
		args = append(args, l.cfg.PermissionFlag, "--allow-fs-read="+prelude)
	}
	if l.cfg.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--max-old-space-size=%d", l.cfg.MemoryMB))
	}
	return append(args, prelude)
}

func (l *LocalLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(l.nodeBinary, l.Args()...)
	cmd.Dir = l.dir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"LANG=C.UTF-8",
		"NODE_NO_WARNINGS=1",
	}
	isolateProcessGroup(cmd)

	p := &localProcess{cmd: cmd}
	var err error
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, err
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, err
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	p.started = time.Now()
	return p, nil
}

func (l *LocalLauncher) Close() error {
	return os.RemoveAll(l.dir)
}

type localProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	started time.Time

	killOnce sync.Once
}

func (p *localProcess) Stdin() io.Writer  { return p.stdin }
func (p *localProcess) Stdout() io.Reader { return p.stdout }
func (p *localProcess) Stderr() io.Reader { return p.stderr }

func (p *localProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		_ = p.stdin.Close()
		err = killProcessGroup(p.cmd)
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
		}
	})
	return err
}

func (p *localProcess) Wait() (ExitInfo, error) {
	err := p.cmd.Wait()
	info := ExitInfo{RunTime: time.Since(p.started)}
	if p.cmd.ProcessState != nil {
		info.ExitCode = p.cmd.ProcessState.ExitCode()
		info.MemoryKB = maxRSSKB(p.cmd.ProcessState)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return info, err
	}
	return info, nil
}
