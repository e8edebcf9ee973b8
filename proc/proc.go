//go:build unix

// Package proc starts and controls the governed child process.  The child
// runs in its own process group so that suspending and resuming reach any
// subprocesses it spawns.
package proc

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Child is a running child process and its process group.  The group id
// equals the child's pid.
type Child struct {
	cmd *exec.Cmd
	pid int
}

// Start launches the command with inherited stdio in a new process group.
// The group is established on both sides of the fork: the child sets it
// before exec, and the parent sets it again, complaining only if the group is
// not already in place.  This closes the race where a group signal could be
// sent before the group exists.
func Start(name string, args ...string) (*Child, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error running subprocess %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	if err := unix.Setpgid(pid, pid); err != nil {
		// The child may have exec'd with the group already set; complain only
		// if the group is not in place.
		if pgid, perr := unix.Getpgid(pid); perr != nil || pgid != pid {
			return nil, fmt.Errorf("could not set pgrp for child %d: %w", pid, err)
		}
	}
	return &Child{cmd: cmd, pid: pid}, nil
}

// Pid returns the child's process id.
func (c *Child) Pid() int {
	return c.pid
}

// Suspend stops the child's entire process group.
func (c *Child) Suspend() error {
	if err := unix.Kill(-c.pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("tried to STOP pgrp %d: %w", c.pid, err)
	}
	return nil
}

// Resume continues the child's process group.
func (c *Child) Resume() error {
	if err := unix.Kill(-c.pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("tried to CONT pgrp %d: %w", c.pid, err)
	}
	return nil
}

// Kill terminates the direct child only, leaving its subprocesses to normal
// teardown.
func (c *Child) Kill() error {
	if err := unix.Kill(c.pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("tried to KILL pid %d: %w", c.pid, err)
	}
	return nil
}

// TryReap polls for the child's exit without blocking.  For a signalled
// child the status is the raw signal number, as waitid reports it.
func (c *Child) TryReap() (int, bool, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to wait for pid %d: %w", c.pid, err)
	}
	if pid == 0 {
		return 0, false, nil
	}
	if ws.Signaled() {
		return int(ws.Signal()), true, nil
	}
	return ws.ExitStatus(), true, nil
}
