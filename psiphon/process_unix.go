//go:build !windows

/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package psiphon

import (
	std_errors "errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func configureProcessCommand(cmd *exec.Cmd, debug bool) {

	// The child leads its own process group, so a group signal reaches only
	// the child and its descendants.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// With nil stdio, os/exec connects the child to the null device.
	if debug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
}

func waitForInputIdle(_ Process, _ time.Duration) error {
	return nil
}

func interruptProcessGroup(process *os.Process) error {
	return signalProcessGroup(process, unix.SIGINT)
}

func killProcessGroup(process *os.Process) error {
	return signalProcessGroup(process, unix.SIGKILL)
}

func signalProcessGroup(process *os.Process, signal unix.Signal) error {
	err := unix.Kill(-process.Pid, signal)
	if std_errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	if err != nil {
		// Fall back to signalling only the child.
		return process.Signal(signal)
	}
	return nil
}
