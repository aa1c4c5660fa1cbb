//go:build unix

package operations

import (
	"os"
	"os/exec"
	"syscall"

	"fieldsync/internal/utils"
)

// SpawnBackgroundSync starts a detached one-shot sync process so the CLI
// returns immediately. Failures are logged; the next sync picks the work up.
func SpawnBackgroundSync(configPath string) {
	executable, err := os.Executable()
	if err != nil {
		utils.Debugf("Background sync not started: %v", err)
		return
	}

	cmd := exec.Command(executable, backgroundArgs(configPath)...)

	// New process group so the child survives the parent's terminal
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		utils.Debugf("Background sync not started: %v", err)
		return
	}
	utils.Debugf("Background sync spawned, PID %d", cmd.Process.Pid)
	_ = cmd.Process.Release()
}
