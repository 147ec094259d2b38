//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

var terminateSignal = os.Interrupt

func setProcessGroup(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	return cmd.Process.Signal(sig)
}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
