//go:build windows

package operations

import (
	"os"
	"os/exec"
	"syscall"

	"fieldsync/internal/utils"
)

// SpawnBackgroundSync starts a detached one-shot sync process (Windows)
func SpawnBackgroundSync(configPath string) {
	executable, err := os.Executable()
	if err != nil {
		utils.Debugf("Background sync not started: %v", err)
		return
	}

	cmd := exec.Command(executable, backgroundArgs(configPath)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		utils.Debugf("Background sync not started: %v", err)
		return
	}
	_ = cmd.Process.Release()
}
