package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// startShell opens a PTY master/slave pair and launches bash as a session
// leader with the slave as its controlling stdin, stdout and stderr. The
// returned master is set non-blocking so the engine can drive it through the
// mux like any other fd.
func startShell() (*os.File, *exec.Cmd, error) {
	cmd := exec.Command("bash")

	master, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start shell: %w", err)
	}

	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		master.Close()
		cmd.Process.Kill()
		return nil, nil, fmt.Errorf("failed to set pty master non-blocking: %w", err)
	}

	// Reap the child when it exits. The engine learns about shell death via
	// PTY hangup, never by waiting; this goroutine only keeps the process
	// table clean.
	go func(cmd *exec.Cmd) {
		err := cmd.Wait()
		slog.Debug("Shell exited", "pid", cmd.Process.Pid, "error", err)
	}(cmd)

	return master, cmd, nil
}
