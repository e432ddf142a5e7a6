package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const DefaultIfaceFlag = "--iface"

// Runner invokes scripts through an external interpreter living in Dir.
type Runner struct {
	Interpreter string
	Dir         string
	IfaceFlag   string
	Script      string
	// WaitDelay bounds how long Wait blocks on pipes held open by grandchildren.
	WaitDelay time.Duration
}

func (r *Runner) scriptPath(script string) string {
	if filepath.IsAbs(script) || r.Dir == "" {
		return script
	}
	return filepath.Join(r.Dir, script)
}

// Output runs script to completion and returns its standard output.
func (r *Runner) Output(ctx context.Context, script string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.Interpreter, r.scriptPath(script))
	cmd.Dir = r.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("run %s: %w: %s", script, err, msg)
		}
		return out, fmt.Errorf("run %s: %w", script, err)
	}
	return out, nil
}

// Launch starts the worker script for one interface with stdout and stderr piped.
func (r *Runner) Launch(iface string) (Process, error) {
	flag := r.IfaceFlag
	if flag == "" {
		flag = DefaultIfaceFlag
	}
	cmd := exec.Command(r.Interpreter, r.scriptPath(r.Script), flag, iface)
	cmd.Dir = r.Dir
	cmd.WaitDelay = r.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for %s: %w", iface, err)
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
