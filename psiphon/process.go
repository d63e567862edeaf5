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
	"strings"
	"sync"
	"time"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	gopsutil "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"
)

// Process is a reference to a launched child process. A Process is owned by
// the component that launched it, which must eventually call StopProcess.
type Process interface {
	Pid() int

	// Exited is closed once the process has exited and been reaped, or once
	// waiting on the process has failed.
	Exited() <-chan struct{}

	// ExitError is valid after Exited is closed. It is nil or an
	// *exec.ExitError for a normal exit; any other error is a failure of
	// the wait itself.
	ExitError() error

	// Interrupt requests a graceful shutdown of the process group.
	Interrupt() error

	Kill() error

	// Release ends the reference. Interrupt and Kill fail after Release.
	Release()
}

// ProcessLauncher starts tunnel client processes.
type ProcessLauncher interface {
	Launch(executablePath string, args []string) (Process, error)
}

type ProcessStatus int

const (
	PROCESS_RUNNING ProcessStatus = iota
	PROCESS_EXITED
	PROCESS_ERROR
)

func (status ProcessStatus) String() string {
	switch status {
	case PROCESS_RUNNING:
		return "running"
	case PROCESS_EXITED:
		return "exited"
	}
	return "error"
}

var errProcessReleased = std_errors.New("process released")

// NewProcessLauncher returns the os/exec based ProcessLauncher. Processes are
// started in a new process group with no console, unless DebugPlonk is set,
// in which case they share the parent's console output.
func NewProcessLauncher(config *Config) ProcessLauncher {
	return &execProcessLauncher{debug: config.DebugPlonk}
}

type execProcessLauncher struct {
	debug bool
}

func (launcher *execProcessLauncher) Launch(
	executablePath string, args []string) (Process, error) {

	cmd := exec.Command(executablePath, args...)
	configureProcessCommand(cmd, launcher.debug)

	err := cmd.Start()
	if err != nil {
		return nil, errors.Trace(err)
	}

	process := &execProcess{
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		process.mutex.Lock()
		process.exitErr = err
		process.mutex.Unlock()
		close(process.exited)
	}()

	// Wait for the child to finish initializing before probing its port.
	// Failure to reach the idle state is not fatal.
	err = waitForInputIdle(process, PROCESS_INPUT_IDLE_WAIT)
	if err != nil {
		NoticeWarning("wait for input idle failed: %s", errors.Trace(err))
	}

	return process, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	exited   chan struct{}
	mutex    sync.Mutex
	exitErr  error
	released bool
}

func (process *execProcess) Pid() int {
	return process.cmd.Process.Pid
}

func (process *execProcess) Exited() <-chan struct{} {
	return process.exited
}

func (process *execProcess) ExitError() error {
	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.exitErr
}

func (process *execProcess) Interrupt() error {
	if process.isReleased() {
		return errors.Trace(errProcessReleased)
	}
	return errors.Trace(interruptProcessGroup(process.cmd.Process))
}

func (process *execProcess) Kill() error {
	if process.isReleased() {
		return errors.Trace(errProcessReleased)
	}
	return errors.Trace(killProcessGroup(process.cmd.Process))
}

func (process *execProcess) Release() {
	process.mutex.Lock()
	defer process.mutex.Unlock()
	process.released = true
}

func (process *execProcess) isReleased() bool {
	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.released
}

// StartProcess launches the tunnel client.
func StartProcess(
	launcher ProcessLauncher, executablePath string, args []string) (Process, error) {

	process, err := launcher.Launch(executablePath, args)
	if err != nil {
		return nil, errors.TraceKind(ErrLaunch, err)
	}
	return process, nil
}

// StopProcess shuts down process: a graceful interrupt, a short grace
// period, then a forced kill and a bounded wait for the exit to be
// observed. The process is released in all cases. StopProcess is a no-op
// on a nil process, and safe to call on an exited or already stopped one.
func StopProcess(process Process) {

	if process == nil {
		return
	}
	defer process.Release()

	select {
	case <-process.Exited():
		return
	default:
	}

	err := process.Interrupt()
	if err != nil && !isProcessDone(err) {
		NoticeWarning("interrupt process %d failed: %s", process.Pid(), err)
	}

	select {
	case <-process.Exited():
		return
	case <-time.After(PROCESS_GRACEFUL_STOP_PERIOD):
	}

	err = process.Kill()
	if err != nil && !isProcessDone(err) {
		NoticeWarning("kill process %d failed: %s", process.Pid(), err)
	}

	select {
	case <-process.Exited():
	case <-time.After(TERMINATE_PROCESS_WAIT):
		NoticeWarning("failed to confirm termination of process %d", process.Pid())
	}
}

func isProcessDone(err error) bool {
	return std_errors.Is(err, os.ErrProcessDone) || std_errors.Is(err, errProcessReleased)
}

// PollProcess is a non-blocking liveness check. PROCESS_ERROR, with the
// underlying error, indicates that the process state could not be
// determined.
func PollProcess(process Process) (ProcessStatus, error) {

	if process == nil {
		return PROCESS_EXITED, nil
	}

	select {
	case <-process.Exited():
	default:
		return PROCESS_RUNNING, nil
	}

	err := process.ExitError()
	var exitErr *exec.ExitError
	if err != nil && !std_errors.As(err, &exitErr) {
		return PROCESS_ERROR, errors.Trace(err)
	}
	return PROCESS_EXITED, nil
}

// TerminateProcessByName kills every running process, other than this one,
// whose executable name matches executableName, ignoring case, and waits
// for each to exit. Failures are reported to the user, who may need to
// terminate the process manually.
func TerminateProcessByName(executableName string) error {

	processes, err := gopsutil.Processes()
	if err != nil {
		return errors.Trace(err)
	}

	self := int32(os.Getpid())

	var group errgroup.Group
	for _, process := range processes {
		if process.Pid == self {
			continue
		}
		name, err := process.Name()
		if err != nil || !strings.EqualFold(name, executableName) {
			continue
		}
		process := process
		group.Go(func() error {
			err := terminateAndWait(process)
			if err != nil {
				NoticeUserWarning(
					"failed to terminate %s (pid %d); please terminate it manually: %s",
					executableName, process.Pid, err)
			}
			return err
		})
	}

	return errors.Trace(group.Wait())
}

func terminateAndWait(process *gopsutil.Process) error {

	err := process.Kill()
	if err != nil {
		return errors.Trace(err)
	}

	deadline := time.Now().Add(TERMINATE_PROCESS_WAIT)
	for {
		running, err := process.IsRunning()
		if err != nil || !running {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.TraceNew("timeout waiting for process exit")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
