//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

// Windows has no SIGTERM for console processes; termination is a kill.
var terminateSignal os.Signal = os.Kill

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

func signalGroup(p *os.Process, sig os.Signal) error {
	return p.Signal(sig)
}
