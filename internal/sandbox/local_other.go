//go:build !linux

package sandbox

import (
	"os"
	"os/exec"
)

func isolateProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func maxRSSKB(state *os.ProcessState) int64 {
	return 0
}
